package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragbridge/internal/domain"
	"ragbridge/internal/middleware"
	"ragbridge/internal/vector"
)

const (
	defaultTopK = 5

	noContextAnswer = "I don't have enough information in the knowledge base to answer that question."
	degradedAnswer  = "Retrieval is currently unavailable; no sources could be searched. Please try again later."
)

// Request is one retrieval-augmented question. Empty Collections and
// ConnectionIDs fall back to the configured defaults; CollectionName is
// the single-collection shorthand.
type Request struct {
	Question       string   `json:"query"`
	TopK           int      `json:"top_k,omitempty"`
	CollectionName string   `json:"collection_name,omitempty"`
	Collections    []string `json:"collection_names,omitempty"`
	ConnectionIDs  []string `json:"connection_ids,omitempty"`
}

// Source is one cited chunk in a response, ordered by score descending.
type Source struct {
	FileName      string  `json:"file_name,omitempty"`
	Content       string  `json:"content"`
	Score         float32 `json:"score"`
	LineStart     int     `json:"line_start"`
	LineEnd       int     `json:"line_end"`
	Collection    string  `json:"collection,omitempty"`
	ConnectionID  string  `json:"connection_id,omitempty"`
	RawDocumentID string  `json:"raw_document_id,omitempty"`
}

type Response struct {
	Answer        string                `json:"answer"`
	Sources       []Source              `json:"sources"`
	Query         string                `json:"query"`
	FailedTargets []vector.FailedTarget `json:"failed_targets,omitempty"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Searcher is the fan-out slice of the unified store the service reads
// through.
type Searcher interface {
	MultiSearch(ctx context.Context, queryVector []float32, requests []vector.SearchRequest, topK int) ([]vector.SearchResult, []vector.FailedTarget, error)
}

// Service answers questions over the semantic collections: embed the
// question once, fan the vector out, ground the completion in whatever
// came back.
type Service struct {
	embedder          Embedder
	searcher          Searcher
	completer         Completer
	logger            *QueryLogger
	defaultConnection string
	defaultCollection string
}

func NewService(e Embedder, s Searcher, c Completer, l *QueryLogger, defaultConnection, defaultCollection string) *Service {
	return &Service{
		embedder:          e,
		searcher:          s,
		completer:         c,
		logger:            l,
		defaultConnection: defaultConnection,
		defaultCollection: defaultCollection,
	}
}

func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrValidation)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	targets, err := s.targets(req)
	if err != nil {
		return nil, err
	}

	// Embed once; the same vector fans out to every target
	queryVector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	results, failed, err := s.searcher.MultiSearch(ctx, queryVector, targets, topK)
	if errors.Is(err, domain.ErrAllSourcesUnavailable) {
		slog.WarnContext(ctx, "all search targets failed", "targets", len(targets))
		return &Response{
			Answer:        degradedAnswer,
			Sources:       []Source{},
			Query:         question,
			FailedTargets: failed,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &Response{Query: question, Sources: toSources(results), FailedTargets: failed}

	if len(results) == 0 {
		resp.Answer = noContextAnswer
		s.log(ctx, question, 0, time.Since(start))
		return resp, nil
	}

	answer, err := s.completer.Complete(ctx, buildPrompt(question, results))
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	resp.Answer = strings.TrimSpace(answer)

	s.log(ctx, question, len(results), time.Since(start))
	return resp, nil
}

// targets expands the requested connections and collections into the
// (connection, collection) cross product, mapping each collection to its
// semantic counterpart.
func (s *Service) targets(req Request) ([]vector.SearchRequest, error) {
	connections := req.ConnectionIDs
	if len(connections) == 0 {
		connections = []string{s.defaultConnection}
	}
	collections := req.Collections
	if len(collections) == 0 && req.CollectionName != "" {
		collections = []string{req.CollectionName}
	}
	if len(collections) == 0 {
		collections = []string{s.defaultCollection}
	}

	var targets []vector.SearchRequest
	for _, conn := range connections {
		for _, coll := range collections {
			if isRawCollection(coll) {
				return nil, fmt.Errorf("%w: collection %q holds raw documents, not vectors", domain.ErrInvalidCollectionType, coll)
			}
			targets = append(targets, vector.SearchRequest{
				ConnectionID: conn,
				Collection:   vector.DeriveSemanticName(coll),
			})
		}
	}
	return targets, nil
}

// isRawCollection guards the ingest bookkeeping collection from being
// searched as if it held vectors.
func isRawCollection(name string) bool {
	return name == "raw_documents"
}

func toSources(results []vector.SearchResult) []Source {
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, Source{
			FileName:      r.FileName,
			Content:       truncate(r.Content, 500),
			Score:         r.Score,
			LineStart:     r.LineStart,
			LineEnd:       r.LineEnd,
			Collection:    r.Collection,
			ConnectionID:  r.ConnectionID,
			RawDocumentID: r.RawDocumentID,
		})
	}
	return sources
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// buildPrompt grounds the completion in the retrieved chunks, each tagged
// with its file and line range so answers can cite them.
func buildPrompt(question string, results []vector.SearchResult) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say you don't know. ")
	b.WriteString("Cite the sources you used.\n\nContext:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[Source %d: %s, lines %d-%d]\n%s\n\n", i+1, r.FileName, r.LineStart, r.LineEnd, r.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func (s *Service) log(ctx context.Context, question string, numResults int, elapsed time.Duration) {
	if s.logger == nil {
		return
	}
	s.logger.Log(QueryLogEntry{
		Query:         question,
		Results:       numResults,
		LatencyMs:     elapsed.Milliseconds(),
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}
