package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ragbridge/internal/domain"
)

// Registry resolves a connection id to a provider bound to that
// connection's credentials, plus the scopes granted to it.
type Registry interface {
	Resolve(ctx context.Context, connectionID string) (Provider, []Scope, error)
}

// SearchRequest targets one (connection, collection) pair of a fan-out.
type SearchRequest struct {
	ConnectionID string `json:"connection_id"`
	Collection   string `json:"collection"`
	TopK         int    `json:"top_k"`
}

// FailedTarget records one fan-out target that could not be searched.
type FailedTarget struct {
	ConnectionID string `json:"connection_id"`
	Collection   string `json:"collection"`
	Error        string `json:"error"`
}

// UnifiedStore hides provider heterogeneity behind connection-id routing
// and scope enforcement.
type UnifiedStore struct {
	registry Registry
}

func NewUnifiedStore(r Registry) *UnifiedStore {
	return &UnifiedStore{registry: r}
}

func (s *UnifiedStore) route(ctx context.Context, connectionID string, required Scope) (Provider, error) {
	provider, scopes, err := s.registry.Resolve(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	for _, sc := range scopes {
		if sc == required {
			return provider, nil
		}
	}
	return nil, fmt.Errorf("%w: connection %s lacks %s", domain.ErrScopeDenied, connectionID, required)
}

func (s *UnifiedStore) ListCollections(ctx context.Context, connectionID string) ([]CollectionInfo, error) {
	provider, err := s.route(ctx, connectionID, ScopeListIndexes)
	if err != nil {
		return nil, err
	}
	return provider.ListCollections(ctx)
}

func (s *UnifiedStore) Upsert(ctx context.Context, connectionID, collection string, chunks []Chunk) (int, error) {
	provider, err := s.route(ctx, connectionID, ScopeWriteVectors)
	if err != nil {
		return 0, err
	}
	return provider.Upsert(ctx, collection, chunks)
}

func (s *UnifiedStore) Delete(ctx context.Context, connectionID, collection string, chunkIDs []string) error {
	provider, err := s.route(ctx, connectionID, ScopeWriteVectors)
	if err != nil {
		return err
	}
	return provider.Delete(ctx, collection, chunkIDs)
}

func (s *UnifiedStore) Search(ctx context.Context, connectionID, collection string, queryVector []float32, topK int) ([]SearchResult, error) {
	provider, err := s.route(ctx, connectionID, ScopeReadVectors)
	if err != nil {
		return nil, err
	}
	results, err := provider.Search(ctx, collection, queryVector, topK, topK*10)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].ConnectionID = connectionID
		results[i].Collection = collection
	}
	return results, nil
}

func (s *UnifiedStore) Test(ctx context.Context, connectionID string) (TestReport, error) {
	provider, scopes, err := s.registry.Resolve(ctx, connectionID)
	if err != nil {
		return TestReport{}, err
	}
	_ = scopes // a test probe needs no grant beyond the connection itself
	return provider.Test(ctx), nil
}

// MultiSearch fans the query vector out to every target concurrently and
// merges the ranked results. A failing target is recorded and omitted; the
// merge proceeds with whatever succeeded. Only when every target fails does
// the call itself fail, with ErrAllSourcesUnavailable.
func (s *UnifiedStore) MultiSearch(ctx context.Context, queryVector []float32, requests []SearchRequest, topK int) ([]SearchResult, []FailedTarget, error) {
	if len(requests) == 0 {
		return nil, nil, fmt.Errorf("%w: no search targets", domain.ErrValidation)
	}

	perTarget := make([][]SearchResult, len(requests))
	errs := make([]error, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req SearchRequest) {
			defer wg.Done()
			k := req.TopK
			if k <= 0 {
				k = topK
			}
			perTarget[i], errs[i] = s.Search(ctx, req.ConnectionID, req.Collection, queryVector, k)
		}(i, req)
	}
	wg.Wait()

	var merged []SearchResult
	var failed []FailedTarget
	for i, req := range requests {
		if errs[i] != nil {
			slog.WarnContext(ctx, "search target failed",
				"connection_id", req.ConnectionID, "collection", req.Collection, "error", errs[i])
			failed = append(failed, FailedTarget{
				ConnectionID: req.ConnectionID,
				Collection:   req.Collection,
				Error:        errs[i].Error(),
			})
			continue
		}
		merged = append(merged, perTarget[i]...)
	}

	if len(failed) == len(requests) {
		return nil, failed, fmt.Errorf("%w: %d targets failed", domain.ErrAllSourcesUnavailable, len(failed))
	}

	sortResults(merged)
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, failed, nil
}

// sortResults orders by score descending; equal scores break ties by
// (connection_id, collection, chunk_id) ascending so repeated identical
// queries return reproducible ordering.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ConnectionID != b.ConnectionID {
			return a.ConnectionID < b.ConnectionID
		}
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		return a.ID < b.ID
	})
}
