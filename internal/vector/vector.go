package vector

import (
	"context"
	"strings"
)

// SemanticSuffix marks collections holding chunked, embedded, searchable
// data. Collections without it hold raw source-shaped documents.
const SemanticSuffix = "_semantic"

// DeriveSemanticName maps an origin-style collection name to its semantic
// counterpart. Idempotent: a name already carrying the suffix is returned
// unchanged.
func DeriveSemanticName(name string) string {
	if IsSemanticName(name) {
		return name
	}
	return name + SemanticSuffix
}

func IsSemanticName(name string) bool {
	return strings.HasSuffix(name, SemanticSuffix)
}

// Scope is a granted permission on a connection.
type Scope string

const (
	ScopeListIndexes  Scope = "list.indexes"
	ScopeReadMetadata Scope = "read.metadata"
	ScopeReadVectors  Scope = "read.vectors"
	ScopeWriteVectors Scope = "write.vectors"
)

// KnownScope reports whether s is one of the four grantable scopes.
func KnownScope(s Scope) bool {
	switch s {
	case ScopeListIndexes, ScopeReadMetadata, ScopeReadVectors, ScopeWriteVectors:
		return true
	}
	return false
}

// Chunk is the unit stored in a semantic collection: a bounded slice of
// document text, its embedding, and the source line range it cites.
type Chunk struct {
	ID            string    `json:"chunk_id" bson:"chunk_id"`
	RawDocumentID string    `json:"raw_document_id,omitempty" bson:"raw_document_id,omitempty"`
	FileName      string    `json:"file_name,omitempty" bson:"file_name,omitempty"`
	Content       string    `json:"content" bson:"content"`
	Embedding     []float32 `json:"-" bson:"embedding"`
	LineStart     int       `json:"line_start" bson:"line_start"`
	LineEnd       int       `json:"line_end" bson:"line_end"`
}

// SearchResult is a chunk plus its query-time relevance score and the
// target it came from.
type SearchResult struct {
	Chunk
	Score        float32 `json:"score"`
	ConnectionID string  `json:"connection_id,omitempty"`
	Collection   string  `json:"collection,omitempty"`
}

type CollectionInfo struct {
	Name        string `json:"name"`
	IsSemantic  bool   `json:"is_semantic"`
	ApproxCount int64  `json:"approx_count"`
}

type TestReport struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Provider is the capability contract implemented once per vector-store
// technology. Instances are bound to a single connection's credentials.
// Similarity is cosine everywhere. Adapters do not retry internally;
// retry policy belongs to the caller.
type Provider interface {
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	Upsert(ctx context.Context, collection string, chunks []Chunk) (int, error)
	Search(ctx context.Context, collection string, queryVector []float32, topK, numCandidates int) ([]SearchResult, error)
	// Delete is best-effort; missing ids are not an error.
	Delete(ctx context.Context, collection string, chunkIDs []string) error
	Test(ctx context.Context) TestReport
	Close(ctx context.Context) error
}
