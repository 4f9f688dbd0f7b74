package origin

import (
	"context"
	"fmt"

	"ragbridge/internal/domain"
)

const (
	TypeFilesystem = "filesystem"
	TypeMongo      = "mongodb"
	TypeQdrant     = "qdrant"

	// TypeUpload tags raw documents created by direct file upload. It is
	// not a browsable source; the factory rejects it.
	TypeUpload = "file_upload"
)

// Document is an external document as seen through a source adapter. It
// is transient: it exists for the duration of a listing or ingest call
// and is never stored unless promoted to a raw document.
type Document struct {
	OriginID       string                 `json:"origin_id"`
	SourceType     string                 `json:"origin_source_type"`
	FileName       string                 `json:"file_name,omitempty"`
	Content        string                 `json:"content,omitempty"`
	ContentPreview string                 `json:"content_preview,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// Config carries the per-request parameters a source needs. Which fields
// matter depends on the source type.
type Config struct {
	URI        string `json:"uri,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
	Path       string `json:"path,omitempty"`
}

type TestResult struct {
	Status  string `json:"status"` // connected|error
	Message string `json:"message"`
}

// Source is the uniform read-only contract over external data. Listings
// are paginated with stable ordering by the origin's natural key; sources
// never mutate the external system.
type Source interface {
	Test(ctx context.Context) TestResult
	ListDocuments(ctx context.Context, limit, skip int) ([]Document, error)
	GetDocument(ctx context.Context, originID string) (*Document, error)
}

// New builds a source adapter for the given type.
func New(sourceType string, cfg Config) (Source, error) {
	switch sourceType {
	case TypeFilesystem:
		return NewFilesystemSource(cfg.Path), nil
	case TypeMongo:
		return NewMongoSource(cfg.URI, cfg.Database, cfg.Collection), nil
	case TypeQdrant:
		return NewQdrantSource(cfg.URI, cfg.APIKey, cfg.Collection), nil
	default:
		return nil, fmt.Errorf("%w: unknown origin source type %q", domain.ErrValidation, sourceType)
	}
}

type TypeInfo struct {
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	ConfigFields []string `json:"config_fields"`
}

// Types describes the browsable source adapters for the discovery route.
func Types() []TypeInfo {
	return []TypeInfo{
		{Type: TypeFilesystem, Description: "Plain text, markdown and JSON files under a directory", ConfigFields: []string{"path"}},
		{Type: TypeMongo, Description: "Documents of a MongoDB collection", ConfigFields: []string{"uri", "database", "collection"}},
		{Type: TypeQdrant, Description: "Point payloads of a Qdrant collection", ConfigFields: []string{"uri", "api_key", "collection"}},
	}
}

func preview(content string) string {
	const max = 200
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}
