package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ragbridge/internal/domain"
	"ragbridge/internal/vector"
)

// Provider implements the vector capability contract against the Qdrant
// REST API. Chunk ids are mapped to deterministic UUIDs (Qdrant point ids
// must be UUIDs or unsigned ints) so re-upserting a chunk overwrites it;
// the original chunk id travels in the payload.
type Provider struct {
	baseURL string
	apiKey  string
	dim     int
	client  *http.Client
}

func NewProvider(baseURL, apiKey string, dim int) *Provider {
	return &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		dim:     dim,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *Provider) ListCollections(ctx context.Context) ([]vector.CollectionInfo, error) {
	var out struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := p.do(ctx, "GET", "/collections", nil, &out); err != nil {
		return nil, err
	}

	infos := make([]vector.CollectionInfo, 0, len(out.Result.Collections))
	for _, c := range out.Result.Collections {
		var detail struct {
			Result struct {
				PointsCount int64 `json:"points_count"`
			} `json:"result"`
		}
		_ = p.do(ctx, "GET", "/collections/"+c.Name, nil, &detail)
		infos = append(infos, vector.CollectionInfo{
			Name:        c.Name,
			IsSemantic:  vector.IsSemanticName(c.Name),
			ApproxCount: detail.Result.PointsCount,
		})
	}
	return infos, nil
}

func (p *Provider) Upsert(ctx context.Context, collection string, chunks []vector.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := p.ensureCollection(ctx, collection); err != nil {
		return 0, err
	}

	points := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, map[string]interface{}{
			"id":     pointID(c.ID),
			"vector": c.Embedding,
			"payload": map[string]interface{}{
				"chunk_id":        c.ID,
				"raw_document_id": c.RawDocumentID,
				"file_name":       c.FileName,
				"content":         c.Content,
				"line_start":      c.LineStart,
				"line_end":        c.LineEnd,
			},
		})
	}

	err := p.do(ctx, "PUT", "/collections/"+collection+"/points?wait=true",
		map[string]interface{}{"points": points}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant upsert: %v", domain.ErrWriteFailed, err)
	}
	return len(chunks), nil
}

func (p *Provider) ensureCollection(ctx context.Context, collection string) error {
	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := p.do(ctx, "GET", "/collections/"+collection+"/exists", nil, &exists); err == nil && exists.Result.Exists {
		return nil
	}

	err := p.do(ctx, "PUT", "/collections/"+collection, map[string]interface{}{
		"vectors": map[string]interface{}{"size": p.dim, "distance": "Cosine"},
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: qdrant create collection: %v", domain.ErrWriteFailed, err)
	}
	return nil
}

func (p *Provider) Search(ctx context.Context, collection string, queryVector []float32, topK, numCandidates int) ([]vector.SearchResult, error) {
	var out struct {
		Result []struct {
			Score   float32                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	err := p.do(ctx, "POST", "/collections/"+collection+"/points/search", map[string]interface{}{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
	}, &out)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, collection)
		}
		return nil, fmt.Errorf("%w: qdrant search: %v", domain.ErrAdapterUnavailable, err)
	}

	results := make([]vector.SearchResult, 0, len(out.Result))
	for _, r := range out.Result {
		results = append(results, vector.SearchResult{
			Chunk: chunkFromPayload(r.Payload),
			Score: r.Score,
		})
	}
	return results, nil
}

func (p *Provider) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = pointID(id)
	}
	err := p.do(ctx, "POST", "/collections/"+collection+"/points/delete",
		map[string]interface{}{"points": ids}, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: qdrant delete: %v", domain.ErrWriteFailed, err)
	}
	return nil
}

func (p *Provider) Test(ctx context.Context) vector.TestReport {
	if err := p.do(ctx, "GET", "/collections", nil, nil); err != nil {
		return vector.TestReport{OK: false, Message: err.Error()}
	}
	return vector.TestReport{OK: true, Message: "connected"}
}

func (p *Provider) Close(context.Context) error {
	p.client.CloseIdleConnections()
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant api error: %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (p *Provider) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("api-key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: qdrant: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func chunkFromPayload(payload map[string]interface{}) vector.Chunk {
	c := vector.Chunk{}
	if v, ok := payload["chunk_id"].(string); ok {
		c.ID = v
	}
	if v, ok := payload["raw_document_id"].(string); ok {
		c.RawDocumentID = v
	}
	if v, ok := payload["file_name"].(string); ok {
		c.FileName = v
	}
	if v, ok := payload["content"].(string); ok {
		c.Content = v
	}
	if v, ok := payload["line_start"].(float64); ok {
		c.LineStart = int(v)
	}
	if v, ok := payload["line_end"].(float64); ok {
		c.LineEnd = int(v)
	}
	return c
}
