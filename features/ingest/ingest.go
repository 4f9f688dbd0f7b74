package ingest

import (
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// RawDocument is the durable, unprocessed copy of an origin document. It
// is the system of record for what was ingested; chunks in semantic
// collections are derived from it and can be rebuilt from it.
type RawDocument struct {
	ID           string                 `bson:"raw_document_id" json:"raw_document_id"`
	OriginID     string                 `bson:"origin_id" json:"origin_id"`
	SourceType   string                 `bson:"origin_source_type" json:"origin_source_type"`
	SourceID     string                 `bson:"origin_source_id" json:"origin_source_id"`
	RawContent   string                 `bson:"raw_content" json:"raw_content,omitempty"`
	ContentType  string                 `bson:"content_type" json:"content_type"`
	Metadata     map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Status       string                 `bson:"status" json:"status"`
	ErrorMessage string                 `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ChunkCount   int                    `bson:"chunk_count,omitempty" json:"chunk_count,omitempty"`
	CreatedAt    time.Time              `bson:"created_at" json:"created_at"`
	ProcessedAt  *time.Time             `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// FileName is stored in metadata so search results can cite it.
func (d *RawDocument) FileName() string {
	if d.Metadata == nil {
		return ""
	}
	name, _ := d.Metadata["file_name"].(string)
	return name
}

const (
	OutcomeIngested = "ingested"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Outcome is the per-document result of a batch operation. Items keep the
// input order.
type Outcome struct {
	OriginID      string `json:"origin_id"`
	RawDocumentID string `json:"raw_document_id,omitempty"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

type Report struct {
	Successful int       `json:"successful"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Items      []Outcome `json:"items"`
}

func (r *Report) add(o Outcome) {
	switch o.Status {
	case OutcomeIngested:
		r.Successful++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Items = append(r.Items, o)
}

// ProcessResult reports one raw document's trip through the pipeline.
type ProcessResult struct {
	RawDocumentID string `json:"raw_document_id"`
	Status        string `json:"status"`
	ChunkCount    int    `json:"chunk_count"`
	Collection    string `json:"collection,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ListFilter narrows raw document listings. Zero values mean no filter.
type ListFilter struct {
	Status     string
	SourceType string
	SourceID   string
	Limit      int
	Skip       int
}
