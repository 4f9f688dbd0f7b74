package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbridge/internal/domain"
	"ragbridge/internal/vector"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

type stubCompleter struct {
	answer string
	err    error
	prompt string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.answer, s.err
}

type stubSearcher struct {
	results  []vector.SearchResult
	failed   []vector.FailedTarget
	err      error
	requests []vector.SearchRequest
}

func (s *stubSearcher) MultiSearch(_ context.Context, _ []float32, requests []vector.SearchRequest, _ int) ([]vector.SearchResult, []vector.FailedTarget, error) {
	s.requests = requests
	return s.results, s.failed, s.err
}

func chunkResult(id, file, content string, score float32) vector.SearchResult {
	return vector.SearchResult{
		Chunk: vector.Chunk{ID: id, FileName: file, Content: content, LineStart: 1, LineEnd: 3},
		Score: score,
	}
}

func newTestRetrieval(e Embedder, s Searcher, c Completer) *Service {
	return NewService(e, s, c, NewQueryLogger(&bytes.Buffer{}), "default", "documents")
}

func TestQuery_EmptyQuestion(t *testing.T) {
	svc := newTestRetrieval(&stubEmbedder{}, &stubSearcher{}, &stubCompleter{})
	_, err := svc.Query(context.Background(), Request{Question: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestQuery_AnswersFromContext(t *testing.T) {
	searcher := &stubSearcher{results: []vector.SearchResult{
		chunkResult("c1", "guide.md", "Deploys run every Friday.", 0.92),
		chunkResult("c2", "faq.md", "Rollbacks are automatic.", 0.80),
	}}
	completer := &stubCompleter{answer: "Deploys run every Friday."}
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, searcher, completer)

	resp, err := svc.Query(context.Background(), Request{Question: "When do deploys run?"})
	require.NoError(t, err)

	assert.Equal(t, "Deploys run every Friday.", resp.Answer)
	assert.Equal(t, "When do deploys run?", resp.Query)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "guide.md", resp.Sources[0].FileName)
	assert.Equal(t, float32(0.92), resp.Sources[0].Score)

	// The prompt carries every chunk with its citation tag
	assert.Contains(t, completer.prompt, "[Source 1: guide.md, lines 1-3]")
	assert.Contains(t, completer.prompt, "Deploys run every Friday.")
	assert.Contains(t, completer.prompt, "Question: When do deploys run?")
}

func TestQuery_DefaultTargets(t *testing.T) {
	searcher := &stubSearcher{results: []vector.SearchResult{}}
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, searcher, &stubCompleter{})

	_, err := svc.Query(context.Background(), Request{Question: "anything"})
	require.NoError(t, err)
	require.Len(t, searcher.requests, 1)
	assert.Equal(t, "default", searcher.requests[0].ConnectionID)
	assert.Equal(t, "documents_semantic", searcher.requests[0].Collection)
}

func TestQuery_CrossProductTargets(t *testing.T) {
	searcher := &stubSearcher{results: []vector.SearchResult{}}
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, searcher, &stubCompleter{})

	_, err := svc.Query(context.Background(), Request{
		Question:      "anything",
		ConnectionIDs: []string{"c1", "c2"},
		Collections:   []string{"docs", "wiki_semantic"},
	})
	require.NoError(t, err)
	require.Len(t, searcher.requests, 4)
	assert.Equal(t, "docs_semantic", searcher.requests[0].Collection)
	// Already-semantic names pass through unchanged
	assert.Equal(t, "wiki_semantic", searcher.requests[1].Collection)
}

func TestQuery_RawCollectionRejected(t *testing.T) {
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, &stubSearcher{}, &stubCompleter{})
	_, err := svc.Query(context.Background(), Request{
		Question:    "anything",
		Collections: []string{"raw_documents"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCollectionType)
}

func TestQuery_EmbeddingFailureFailsFast(t *testing.T) {
	searcher := &stubSearcher{}
	svc := newTestRetrieval(&stubEmbedder{err: fmt.Errorf("%w: quota", domain.ErrEmbeddingFailed)}, searcher, &stubCompleter{})

	_, err := svc.Query(context.Background(), Request{Question: "anything"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Nil(t, searcher.requests, "no search is attempted when embedding fails")
}

func TestQuery_NoResults(t *testing.T) {
	completer := &stubCompleter{answer: "should not be called"}
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, &stubSearcher{results: []vector.SearchResult{}}, completer)

	resp, err := svc.Query(context.Background(), Request{Question: "unknown topic"})
	require.NoError(t, err)
	assert.Equal(t, noContextAnswer, resp.Answer)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.Empty(t, completer.prompt, "no completion without context")
}

func TestQuery_AllTargetsFailed_Degrades(t *testing.T) {
	searcher := &stubSearcher{
		failed: []vector.FailedTarget{{ConnectionID: "c1", Collection: "docs_semantic", Error: "down"}},
		err:    fmt.Errorf("%w: 1 targets failed", domain.ErrAllSourcesUnavailable),
	}
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, searcher, &stubCompleter{})

	resp, err := svc.Query(context.Background(), Request{Question: "anything"})
	require.NoError(t, err, "total retrieval failure degrades, it does not error")
	assert.Equal(t, degradedAnswer, resp.Answer)
	assert.Equal(t, "anything", resp.Query)
	require.Len(t, resp.FailedTargets, 1)
}

func TestQuery_PartialFailureStillAnswers(t *testing.T) {
	searcher := &stubSearcher{
		results: []vector.SearchResult{chunkResult("c1", "a.md", "body", 0.9)},
		failed:  []vector.FailedTarget{{ConnectionID: "c2", Collection: "docs_semantic", Error: "down"}},
	}
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, searcher, &stubCompleter{answer: "grounded answer"})

	resp, err := svc.Query(context.Background(), Request{Question: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", resp.Answer)
	require.Len(t, resp.Sources, 1)
	require.Len(t, resp.FailedTargets, 1)
}

func TestQuery_SourcePreviewTruncated(t *testing.T) {
	long := strings.Repeat("y", 600)
	searcher := &stubSearcher{results: []vector.SearchResult{chunkResult("c1", "a.md", long, 0.9)}}
	svc := newTestRetrieval(&stubEmbedder{vec: []float32{0.1}}, searcher, &stubCompleter{answer: "ok"})

	resp, err := svc.Query(context.Background(), Request{Question: "anything"})
	require.NoError(t, err)
	assert.Len(t, resp.Sources[0].Content, 503)
	assert.True(t, strings.HasSuffix(resp.Sources[0].Content, "..."))
}
