package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"ragbridge/internal/vector"
)

func TestQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "pc-key", r.Header.Get("Api-Key"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "docs_semantic", body["namespace"])
		assert.Equal(t, float64(5), body["topK"])
		assert.Equal(t, true, body["includeMetadata"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"matches": []map[string]interface{}{
				{
					"id":    "doc-1_chunk_2",
					"score": 0.83,
					"metadata": map[string]interface{}{
						"file_name":  "guide.md",
						"content":    "chunk text",
						"line_start": 10,
						"line_end":   25,
					},
				},
			},
		})
	}))
	defer server.Close()

	p := NewProvider(server.URL, "pc-key")
	results, err := p.Search(context.Background(), "docs_semantic", []float32{0.1}, 5, 50)
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "doc-1_chunk_2", results[0].ID)
	assert.Equal(t, "guide.md", results[0].FileName)
	assert.Equal(t, 10, results[0].LineStart)
	assert.InDelta(t, 0.83, results[0].Score, 1e-6)
}

func TestUpsert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vectors/upsert", r.URL.Path)
		var body struct {
			Vectors   []map[string]interface{} `json:"vectors"`
			Namespace string                   `json:"namespace"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "docs_semantic", body.Namespace)
		assert.Len(t, body.Vectors, 2)
		json.NewEncoder(w).Encode(map[string]int{"upsertedCount": 2})
	}))
	defer server.Close()

	p := NewProvider(server.URL, "pc-key")
	count, err := p.Upsert(context.Background(), "docs_semantic", []vector.Chunk{
		{ID: "a", Embedding: []float32{1}},
		{ID: "b", Embedding: []float32{2}},
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestListCollections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/describe_index_stats", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"namespaces": map[string]interface{}{
				"docs_semantic": map[string]int{"vectorCount": 42},
			},
		})
	}))
	defer server.Close()

	p := NewProvider(server.URL, "pc-key")
	infos, err := p.ListCollections(context.Background())
	assert.NoError(t, err)
	assert.Len(t, infos, 1)
	assert.Equal(t, "docs_semantic", infos[0].Name)
	assert.Equal(t, int64(42), infos[0].ApproxCount)
	assert.True(t, infos[0].IsSemantic)
}

func TestTest_Unreachable(t *testing.T) {
	p := NewProvider("http://127.0.0.1:1", "pc-key")
	report := p.Test(context.Background())
	assert.False(t, report.OK)
}
