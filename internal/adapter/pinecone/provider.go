package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragbridge/internal/domain"
	"ragbridge/internal/vector"
)

// Provider implements the vector capability contract against a Pinecone
// index's data-plane REST API. Collections map to Pinecone namespaces
// inside the configured index; the index itself (and its dimension) is
// provisioned out of band.
type Provider struct {
	indexHost string
	apiKey    string
	client    *http.Client
}

func NewProvider(indexHost, apiKey string) *Provider {
	return &Provider{
		indexHost: indexHost,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *Provider) ListCollections(ctx context.Context) ([]vector.CollectionInfo, error) {
	var out struct {
		Namespaces map[string]struct {
			VectorCount int64 `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := p.post(ctx, "/describe_index_stats", map[string]interface{}{}, &out); err != nil {
		return nil, fmt.Errorf("%w: pinecone: %v", domain.ErrAdapterUnavailable, err)
	}

	infos := make([]vector.CollectionInfo, 0, len(out.Namespaces))
	for name, ns := range out.Namespaces {
		infos = append(infos, vector.CollectionInfo{
			Name:        name,
			IsSemantic:  true, // pinecone namespaces only ever hold vectors
			ApproxCount: ns.VectorCount,
		})
	}
	return infos, nil
}

func (p *Provider) Upsert(ctx context.Context, collection string, chunks []vector.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		vectors = append(vectors, map[string]interface{}{
			"id":     c.ID,
			"values": c.Embedding,
			"metadata": map[string]interface{}{
				"raw_document_id": c.RawDocumentID,
				"file_name":       c.FileName,
				"content":         c.Content,
				"line_start":      c.LineStart,
				"line_end":        c.LineEnd,
			},
		})
	}

	var out struct {
		UpsertedCount int `json:"upsertedCount"`
	}
	err := p.post(ctx, "/vectors/upsert", map[string]interface{}{
		"vectors":   vectors,
		"namespace": collection,
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("%w: pinecone upsert: %v", domain.ErrWriteFailed, err)
	}
	return out.UpsertedCount, nil
}

func (p *Provider) Search(ctx context.Context, collection string, queryVector []float32, topK, numCandidates int) ([]vector.SearchResult, error) {
	var out struct {
		Matches []struct {
			ID       string                 `json:"id"`
			Score    float32                `json:"score"`
			Metadata map[string]interface{} `json:"metadata"`
		} `json:"matches"`
	}
	err := p.post(ctx, "/query", map[string]interface{}{
		"vector":          queryVector,
		"topK":            topK,
		"namespace":       collection,
		"includeMetadata": true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: pinecone search: %v", domain.ErrAdapterUnavailable, err)
	}

	results := make([]vector.SearchResult, 0, len(out.Matches))
	for _, m := range out.Matches {
		chunk := vector.Chunk{ID: m.ID}
		if v, ok := m.Metadata["raw_document_id"].(string); ok {
			chunk.RawDocumentID = v
		}
		if v, ok := m.Metadata["file_name"].(string); ok {
			chunk.FileName = v
		}
		if v, ok := m.Metadata["content"].(string); ok {
			chunk.Content = v
		}
		if v, ok := m.Metadata["line_start"].(float64); ok {
			chunk.LineStart = int(v)
		}
		if v, ok := m.Metadata["line_end"].(float64); ok {
			chunk.LineEnd = int(v)
		}
		results = append(results, vector.SearchResult{Chunk: chunk, Score: m.Score})
	}
	return results, nil
}

func (p *Provider) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	err := p.post(ctx, "/vectors/delete", map[string]interface{}{
		"ids":       chunkIDs,
		"namespace": collection,
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: pinecone delete: %v", domain.ErrWriteFailed, err)
	}
	return nil
}

func (p *Provider) Test(ctx context.Context) vector.TestReport {
	if err := p.post(ctx, "/describe_index_stats", map[string]interface{}{}, nil); err != nil {
		return vector.TestReport{OK: false, Message: err.Error()}
	}
	return vector.TestReport{OK: true, Message: "connected"}
}

func (p *Provider) Close(context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) post(ctx context.Context, path string, body, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.indexHost+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pinecone api error: %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
