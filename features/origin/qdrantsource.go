package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragbridge/internal/domain"
)

// QdrantSource reads point payloads out of a Qdrant collection over REST.
// Points are listed with the scroll API; the payload's "content" or "text"
// field becomes the document body, falling back to the whole payload as
// JSON when neither exists.
type QdrantSource struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

func NewQdrantSource(baseURL, apiKey, collection string) *QdrantSource {
	return &QdrantSource{
		baseURL:    baseURL,
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *QdrantSource) Test(ctx context.Context) TestResult {
	var out struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := s.do(ctx, "GET", "/collections/"+s.collection+"/exists", nil, &out); err != nil {
		return TestResult{Status: "error", Message: err.Error()}
	}
	if !out.Result.Exists {
		return TestResult{Status: "error", Message: fmt.Sprintf("collection %s does not exist", s.collection)}
	}
	return TestResult{Status: "connected", Message: fmt.Sprintf("collection %s reachable", s.collection)}
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Payload map[string]interface{} `json:"payload"`
}

// ListDocuments scrolls skip+limit points ordered by point id and slices
// off the skipped prefix. Qdrant's scroll has no native offset count, so
// shallow pagination is the supported case.
func (s *QdrantSource) ListDocuments(ctx context.Context, limit, skip int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}

	var out struct {
		Result struct {
			Points []qdrantPoint `json:"points"`
		} `json:"result"`
	}
	err := s.do(ctx, "POST", "/collections/"+s.collection+"/points/scroll", map[string]interface{}{
		"limit":        skip + limit,
		"with_payload": true,
		"with_vector":  false,
	}, &out)
	if err != nil {
		if isQdrantNotFound(err) {
			return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, s.collection)
		}
		return nil, err
	}

	points := out.Result.Points
	if skip >= len(points) {
		return []Document{}, nil
	}
	points = points[skip:]

	docs := make([]Document, 0, len(points))
	for _, pt := range points {
		docs = append(docs, s.toDocument(pt))
	}
	return docs, nil
}

func (s *QdrantSource) GetDocument(ctx context.Context, originID string) (*Document, error) {
	var out struct {
		Result qdrantPoint `json:"result"`
	}
	err := s.do(ctx, "GET", "/collections/"+s.collection+"/points/"+originID, nil, &out)
	if err != nil {
		if isQdrantNotFound(err) {
			return nil, fmt.Errorf("%w: origin %s", domain.ErrNotFound, originID)
		}
		return nil, err
	}

	doc := s.toDocument(out.Result)
	return &doc, nil
}

func (s *QdrantSource) toDocument(pt qdrantPoint) Document {
	id := fmt.Sprintf("%v", pt.ID)

	content := ""
	if v, ok := pt.Payload["content"].(string); ok && v != "" {
		content = v
	} else if v, ok := pt.Payload["text"].(string); ok && v != "" {
		content = v
	} else if body, err := json.MarshalIndent(pt.Payload, "", "  "); err == nil {
		content = string(body)
	}

	return Document{
		OriginID:       id,
		SourceType:     TypeQdrant,
		FileName:       fmt.Sprintf("%s_%s", s.collection, id),
		Content:        content,
		ContentPreview: preview(content),
		Payload:        pt.Payload,
	}
}

type qdrantStatusError struct {
	code int
	body string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant api error: %d: %s", e.code, e.body)
}

func isQdrantNotFound(err error) bool {
	se, ok := err.(*qdrantStatusError)
	return ok && se.code == http.StatusNotFound
}

func (s *QdrantSource) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: qdrant origin: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &qdrantStatusError{code: resp.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
