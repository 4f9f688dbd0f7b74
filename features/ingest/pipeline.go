package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragbridge/features/origin"
	"ragbridge/internal/config"
	"ragbridge/internal/domain"
	"ragbridge/internal/text"
	"ragbridge/internal/vector"
)

// Embedder turns chunk texts into vectors, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the slice of the unified store the pipeline writes
// through.
type VectorWriter interface {
	Upsert(ctx context.Context, connectionID, collection string, chunks []vector.Chunk) (int, error)
}

// Publisher enqueues ingest tasks for asynchronous processing.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Task is the message enqueued per document for asynchronous ingestion.
type Task struct {
	SourceType       string        `json:"origin_source_type"`
	SourceID         string        `json:"origin_source_id"`
	OriginID         string        `json:"origin_id"`
	Config           origin.Config `json:"connection_config"`
	ConnectionID     string        `json:"connection_id,omitempty"`
	TargetCollection string        `json:"target_collection,omitempty"`
	CorrelationID    string        `json:"correlation_id,omitempty"`
}

// OriginRequest ingests documents from an origin source. Empty OriginID
// and OriginIDs means every document the source lists. Async hands each
// document to the queue instead of processing inline. Duplicates are
// always skipped by the storage index; SkipDuplicates is accepted for
// wire compatibility.
type OriginRequest struct {
	SourceType       string        `json:"origin_source_type"`
	Config           origin.Config `json:"connection_config"`
	OriginID         string        `json:"origin_id,omitempty"`
	OriginIDs        []string      `json:"origin_ids,omitempty"`
	SkipDuplicates   bool          `json:"skip_duplicates,omitempty"`
	Limit            int           `json:"limit,omitempty"`
	Skip             int           `json:"skip,omitempty"`
	Process          bool          `json:"process"`
	Async            bool          `json:"async"`
	ConnectionID     string        `json:"connection_id,omitempty"`
	TargetCollection string        `json:"target_collection,omitempty"`
}

// Pipeline is the ingest service: raw capture, chunking, embedding and
// vector upsert. Processing is at-least-once; a failure mid-upsert leaves
// already-written chunks in place and marks the document failed, and a
// retry overwrites them because chunk ids are deterministic.
type Pipeline struct {
	store     Store
	embedder  Embedder
	vectors   VectorWriter
	publisher Publisher

	chunkSize         int
	chunkOverlap      int
	defaultConnection string
	defaultCollection string
}

func NewPipeline(store Store, embedder Embedder, vectors VectorWriter, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:             store,
		embedder:          embedder,
		vectors:           vectors,
		chunkSize:         cfg.ChunkSize,
		chunkOverlap:      cfg.ChunkOverlap,
		defaultConnection: "default",
		defaultCollection: cfg.DefaultCollection,
	}
}

// WithPublisher enables asynchronous ingestion. Without one, async
// requests fall back to inline processing.
func (p *Pipeline) WithPublisher(pub Publisher) *Pipeline {
	p.publisher = pub
	return p
}

// SourceID identifies the source instance a document came from, so the
// dedup key distinguishes same-named documents from different places.
func SourceID(sourceType string, cfg origin.Config) string {
	switch sourceType {
	case origin.TypeFilesystem:
		return cfg.Path
	case origin.TypeMongo:
		return cfg.Database + "." + cfg.Collection
	case origin.TypeQdrant:
		return cfg.Collection
	case origin.TypeUpload:
		return "upload"
	default:
		return sourceType
	}
}

// fetchedDoc pairs an origin document with the error that prevented fetching
// it, so per-item outcomes report the real failure.
type fetchedDoc struct {
	doc      origin.Document
	fetchErr error
}

// IngestOrigin pulls documents from an origin source and captures them as
// raw documents. Each document succeeds, skips or fails independently.
func (p *Pipeline) IngestOrigin(ctx context.Context, req OriginRequest) (*Report, error) {
	src, err := origin.New(req.SourceType, req.Config)
	if err != nil {
		return nil, err
	}
	sourceID := SourceID(req.SourceType, req.Config)

	ids := req.OriginIDs
	if req.OriginID != "" {
		ids = append([]string{req.OriginID}, ids...)
	}

	var items []fetchedDoc
	if len(ids) > 0 {
		for _, id := range ids {
			doc, err := src.GetDocument(ctx, id)
			if err != nil {
				items = append(items, fetchedDoc{doc: origin.Document{OriginID: id, SourceType: req.SourceType}, fetchErr: err})
				continue
			}
			items = append(items, fetchedDoc{doc: *doc})
		}
	} else {
		docs, err := src.ListDocuments(ctx, req.Limit, req.Skip)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			items = append(items, fetchedDoc{doc: doc})
		}
	}

	if req.Async && p.publisher != nil {
		return p.enqueue(ctx, req, sourceID, items)
	}

	report := &Report{Items: []Outcome{}}
	for _, it := range items {
		if it.fetchErr != nil {
			report.add(Outcome{OriginID: it.doc.OriginID, Status: OutcomeFailed, Error: it.fetchErr.Error()})
			continue
		}
		outcome := p.ingestOne(ctx, req.SourceType, sourceID, it.doc)
		if outcome.Status == OutcomeIngested && req.Process {
			res, err := p.Process(ctx, outcome.RawDocumentID, req.ConnectionID, req.TargetCollection)
			if err != nil || res.Status == StatusFailed {
				outcome.Status = OutcomeFailed
				if err != nil {
					outcome.Error = err.Error()
				} else {
					outcome.Error = res.Error
				}
			}
		}
		report.add(outcome)
	}
	return report, nil
}

func (p *Pipeline) enqueue(ctx context.Context, req OriginRequest, sourceID string, items []fetchedDoc) (*Report, error) {
	report := &Report{Items: []Outcome{}}
	for _, it := range items {
		if it.fetchErr != nil {
			report.add(Outcome{OriginID: it.doc.OriginID, Status: OutcomeFailed, Error: it.fetchErr.Error()})
			continue
		}
		task := Task{
			SourceType:       req.SourceType,
			SourceID:         sourceID,
			OriginID:         it.doc.OriginID,
			Config:           req.Config,
			ConnectionID:     req.ConnectionID,
			TargetCollection: req.TargetCollection,
		}
		body, err := json.Marshal(task)
		if err != nil {
			report.add(Outcome{OriginID: it.doc.OriginID, Status: OutcomeFailed, Error: err.Error()})
			continue
		}
		if err := p.publisher.Publish(config.TopicIngestTask, body); err != nil {
			report.add(Outcome{OriginID: it.doc.OriginID, Status: OutcomeFailed, Error: err.Error()})
			continue
		}
		report.add(Outcome{OriginID: it.doc.OriginID, Status: OutcomeIngested})
	}
	slog.InfoContext(ctx, "ingest tasks enqueued", "count", report.Successful, "failed", report.Failed)
	return report, nil
}

// IngestTask executes one queued task end to end: fetch, capture, process.
func (p *Pipeline) IngestTask(ctx context.Context, task Task) error {
	src, err := origin.New(task.SourceType, task.Config)
	if err != nil {
		return err
	}
	doc, err := src.GetDocument(ctx, task.OriginID)
	if err != nil {
		return err
	}

	outcome := p.ingestOne(ctx, task.SourceType, task.SourceID, *doc)
	if outcome.Status == OutcomeFailed {
		return fmt.Errorf("ingest %s: %s", task.OriginID, outcome.Error)
	}
	if outcome.Status == OutcomeSkipped {
		slog.InfoContext(ctx, "task skipped, origin already ingested", "origin_id", task.OriginID)
		return nil
	}

	res, err := p.Process(ctx, outcome.RawDocumentID, task.ConnectionID, task.TargetCollection)
	if err != nil {
		return err
	}
	if res.Status == StatusFailed {
		return fmt.Errorf("process %s: %s", outcome.RawDocumentID, res.Error)
	}
	return nil
}

// Upload captures directly uploaded file content. The origin id is the
// content hash, so uploading identical content twice is a skip.
func (p *Pipeline) Upload(ctx context.Context, fileName string, content []byte) Outcome {
	sum := sha256.Sum256(content)
	doc := origin.Document{
		OriginID:   hex.EncodeToString(sum[:]),
		SourceType: origin.TypeUpload,
		FileName:   fileName,
		Content:    string(content),
	}
	return p.ingestOne(ctx, origin.TypeUpload, "upload", doc)
}

func (p *Pipeline) ingestOne(ctx context.Context, sourceType, sourceID string, doc origin.Document) Outcome {
	if doc.Content == "" {
		return Outcome{OriginID: doc.OriginID, Status: OutcomeFailed, Error: "document has no content"}
	}

	raw := &RawDocument{
		ID:          uuid.New().String(),
		OriginID:    doc.OriginID,
		SourceType:  sourceType,
		SourceID:    sourceID,
		RawContent:  doc.Content,
		ContentType: contentTypeOf(doc),
		Metadata:    map[string]interface{}{"file_name": doc.FileName},
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	inserted, err := p.store.Insert(ctx, raw)
	if err != nil {
		slog.ErrorContext(ctx, "raw document insert failed", "origin_id", doc.OriginID, "error", err)
		return Outcome{OriginID: doc.OriginID, Status: OutcomeFailed, Error: err.Error()}
	}
	if !inserted {
		slog.InfoContext(ctx, "origin already ingested, skipping", "origin_id", doc.OriginID, "source_id", sourceID)
		return Outcome{OriginID: doc.OriginID, Status: OutcomeSkipped}
	}

	slog.InfoContext(ctx, "raw document captured",
		"raw_document_id", raw.ID, "origin_id", doc.OriginID, "source_type", sourceType)
	return Outcome{OriginID: doc.OriginID, RawDocumentID: raw.ID, Status: OutcomeIngested}
}

func contentTypeOf(doc origin.Document) string {
	if strings.HasSuffix(strings.ToLower(doc.FileName), ".json") {
		return "application/json"
	}
	if strings.HasSuffix(strings.ToLower(doc.FileName), ".md") {
		return "text/markdown"
	}
	return "text/plain"
}

// Process runs one pending raw document through chunking, embedding and
// vector upsert. Documents in any other state are skipped; a retry first
// resets the status to pending.
func (p *Pipeline) Process(ctx context.Context, rawDocID, connectionID, targetCollection string) (*ProcessResult, error) {
	doc, err := p.store.Get(ctx, rawDocID)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusPending {
		slog.WarnContext(ctx, "raw document not pending, skipping",
			"raw_document_id", rawDocID, "status", doc.Status)
		return &ProcessResult{RawDocumentID: rawDocID, Status: doc.Status, ChunkCount: doc.ChunkCount}, nil
	}

	if connectionID == "" {
		connectionID = p.defaultConnection
	}
	if targetCollection == "" {
		targetCollection = p.defaultCollection
	}
	collection := vector.DeriveSemanticName(targetCollection)

	if err := p.store.UpdateStatus(ctx, rawDocID, StatusProcessing, ""); err != nil {
		return nil, err
	}

	count, err := p.process(ctx, doc, connectionID, collection)
	if err != nil {
		slog.ErrorContext(ctx, "processing failed",
			"raw_document_id", rawDocID, "collection", collection, "error", err)
		if uerr := p.store.UpdateStatus(ctx, rawDocID, StatusFailed, err.Error()); uerr != nil {
			slog.ErrorContext(ctx, "failed to record failure", "raw_document_id", rawDocID, "error", uerr)
		}
		return &ProcessResult{RawDocumentID: rawDocID, Status: StatusFailed, Error: err.Error()}, nil
	}

	if err := p.store.MarkProcessed(ctx, rawDocID, count); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "raw document processed",
		"raw_document_id", rawDocID, "chunks", count, "collection", collection)
	return &ProcessResult{RawDocumentID: rawDocID, Status: StatusProcessed, ChunkCount: count, Collection: collection}, nil
}

func (p *Pipeline) process(ctx context.Context, doc *RawDocument, connectionID, collection string) (int, error) {
	content := doc.RawContent
	if doc.ContentType == "application/json" {
		content = prettyJSON(content)
	}

	pieces := text.Split(content, p.chunkSize, p.chunkOverlap)
	if len(pieces) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Content
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]vector.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = vector.Chunk{
			ID:            fmt.Sprintf("%s_chunk_%d", doc.ID, i),
			RawDocumentID: doc.ID,
			FileName:      doc.FileName(),
			Content:       piece.Content,
			Embedding:     embeddings[i],
			LineStart:     piece.LineStart,
			LineEnd:       piece.LineEnd,
		}
	}

	return p.vectors.Upsert(ctx, connectionID, collection, chunks)
}

// prettyJSON reindents JSON-looking content so chunk boundaries fall on
// structural lines instead of inside a one-line blob. Non-JSON content is
// returned untouched.
func prettyJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return content
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return content
	}
	return buf.String()
}

// ProcessBatch processes each raw document independently. One failure
// never aborts the rest.
func (p *Pipeline) ProcessBatch(ctx context.Context, ids []string, connectionID, targetCollection string) []ProcessResult {
	results := make([]ProcessResult, 0, len(ids))
	for _, id := range ids {
		res, err := p.Process(ctx, id, connectionID, targetCollection)
		if err != nil {
			results = append(results, ProcessResult{RawDocumentID: id, Status: StatusFailed, Error: err.Error()})
			continue
		}
		results = append(results, *res)
	}
	return results
}

// ProcessPending processes every pending raw document.
func (p *Pipeline) ProcessPending(ctx context.Context, connectionID, targetCollection string) ([]ProcessResult, error) {
	docs, err := p.store.List(ctx, ListFilter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return p.ProcessBatch(ctx, ids, connectionID, targetCollection), nil
}

// Retry resets a failed document to pending so Process will pick it up
// again. Chunks from the failed attempt are overwritten on the retry.
func (p *Pipeline) Retry(ctx context.Context, rawDocID string) error {
	doc, err := p.store.Get(ctx, rawDocID)
	if err != nil {
		return err
	}
	if doc.Status != StatusFailed {
		return fmt.Errorf("%w: raw document %s is %s, only failed documents can be retried",
			domain.ErrValidation, rawDocID, doc.Status)
	}
	return p.store.UpdateStatus(ctx, rawDocID, StatusPending, "")
}

func (p *Pipeline) Get(ctx context.Context, id string) (*RawDocument, error) {
	return p.store.Get(ctx, id)
}

func (p *Pipeline) List(ctx context.Context, filter ListFilter) ([]RawDocument, error) {
	return p.store.List(ctx, filter)
}

func (p *Pipeline) Delete(ctx context.Context, id string) error {
	return p.store.Delete(ctx, id)
}

// Status summarizes the pipeline backlog.
func (p *Pipeline) Status(ctx context.Context) (map[string]int64, error) {
	counts, err := p.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range []string{StatusPending, StatusProcessing, StatusProcessed, StatusFailed} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return counts, nil
}
