package query

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbridge/internal/retrieval"
	"ragbridge/internal/vector"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, string) (string, error) {
	return "an answer", nil
}

type stubSearcher struct {
	requests []vector.SearchRequest
}

func (s *stubSearcher) MultiSearch(_ context.Context, _ []float32, requests []vector.SearchRequest, _ int) ([]vector.SearchResult, []vector.FailedTarget, error) {
	s.requests = requests
	return []vector.SearchResult{{
		Chunk: vector.Chunk{ID: "c1", FileName: "a.md", Content: "body", LineStart: 1, LineEnd: 2},
		Score: 0.9,
	}}, nil, nil
}

func newQueryServer(searcher *stubSearcher) http.Handler {
	svc := retrieval.NewService(stubEmbedder{}, searcher, stubCompleter{},
		retrieval.NewQueryLogger(&bytes.Buffer{}), "default", "documents")
	h := NewHandler(svc)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", h.Query)
	return mux
}

func TestQuery_Basic(t *testing.T) {
	searcher := &stubSearcher{}
	rec := httptest.NewRecorder()
	newQueryServer(searcher).ServeHTTP(rec,
		httptest.NewRequest("POST", "/query", strings.NewReader(`{"query":"how?"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp retrieval.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "an answer", resp.Answer)
	assert.Equal(t, "how?", resp.Query)
	require.Len(t, resp.Sources, 1)

	require.Len(t, searcher.requests, 1)
	assert.Equal(t, "default", searcher.requests[0].ConnectionID)
}

func TestQuery_ConnectionHeaderRoutes(t *testing.T) {
	searcher := &stubSearcher{}
	req := httptest.NewRequest("POST", "/query", strings.NewReader(`{"query":"how?"}`))
	req.Header.Set(HeaderConnectionID, "team-qdrant")

	rec := httptest.NewRecorder()
	newQueryServer(searcher).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, searcher.requests, 1)
	assert.Equal(t, "team-qdrant", searcher.requests[0].ConnectionID)
}

func TestQuery_MongoURIHeaderWins(t *testing.T) {
	searcher := &stubSearcher{}
	req := httptest.NewRequest("POST", "/query",
		strings.NewReader(`{"query":"how?","connection_ids":["from-body"]}`))
	req.Header.Set(HeaderConnectionID, "from-header")
	req.Header.Set(HeaderMongoURI, "mongodb://adhoc:27017")

	rec := httptest.NewRecorder()
	newQueryServer(searcher).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, searcher.requests, 1)
	assert.Equal(t, "mongodb://adhoc:27017", searcher.requests[0].ConnectionID)
}

func TestQuery_EmptyQuestionIsBadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	newQueryServer(&stubSearcher{}).ServeHTTP(rec,
		httptest.NewRequest("POST", "/query", strings.NewReader(`{"query":""}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestQuery_MalformedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	newQueryServer(&stubSearcher{}).ServeHTTP(rec,
		httptest.NewRequest("POST", "/query", strings.NewReader(`{`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
