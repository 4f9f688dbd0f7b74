package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"ragbridge/internal/domain"
	"ragbridge/internal/middleware"
)

type Handler struct {
	pipeline       *Pipeline
	maxUploadBytes int64
}

func NewHandler(pipeline *Pipeline, maxUploadMB int) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &Handler{pipeline: pipeline, maxUploadBytes: int64(maxUploadMB) << 20}
}

// IngestOrigin captures documents from an origin source.
func (h *Handler) IngestOrigin(w http.ResponseWriter, r *http.Request) {
	var req OriginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.pipeline.IngestOrigin(r.Context(), req)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Upload captures one file posted as multipart form data.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	outcome := h.pipeline.Upload(r.Context(), header.Filename, content)
	if outcome.Status == OutcomeFailed {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", outcome.Error, http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

// ListRaw pages through stored raw documents, optionally filtered.
func (h *Handler) ListRaw(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:     q.Get("status"),
		SourceType: q.Get("origin_source_type"),
		SourceID:   q.Get("origin_source_id"),
		Limit:      intParam(q.Get("limit"), 50),
		Skip:       intParam(q.Get("skip"), 0),
	}

	docs, err := h.pipeline.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if docs == nil {
		docs = []RawDocument{}
	}

	// Listings omit the raw content; the single document route returns it
	for i := range docs {
		docs[i].RawContent = ""
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs), "limit": filter.Limit, "skip": filter.Skip},
	})
}

func (h *Handler) GetRaw(w http.ResponseWriter, r *http.Request) {
	doc, err := h.pipeline.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": doc})
}

func (h *Handler) DeleteRaw(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Process runs one raw document through the pipeline.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RawDocumentID    string `json:"raw_document_id"`
		ConnectionID     string `json:"connection_id"`
		TargetCollection string `json:"target_collection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.RawDocumentID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "raw_document_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.pipeline.Process(r.Context(), req.RawDocumentID, req.ConnectionID, req.TargetCollection)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ProcessBatch runs several raw documents through the pipeline, each
// independently.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RawDocumentIDs   []string `json:"raw_document_ids"`
		ConnectionID     string   `json:"connection_id"`
		TargetCollection string   `json:"target_collection"`
		AllPending       bool     `json:"all_pending"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	var results []ProcessResult
	if req.AllPending {
		var err error
		results, err = h.pipeline.ProcessPending(r.Context(), req.ConnectionID, req.TargetCollection)
		if err != nil {
			h.writeDomainError(r.Context(), w, err)
			return
		}
	} else {
		if len(req.RawDocumentIDs) == 0 {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "raw_document_ids is required", http.StatusBadRequest)
			return
		}
		results = h.pipeline.ProcessBatch(r.Context(), req.RawDocumentIDs, req.ConnectionID, req.TargetCollection)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	})
}

// Retry resets a failed raw document to pending.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.pipeline.Retry(r.Context(), id); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"raw_document_id": id, "status": StatusPending})
}

// Status reports the backlog counts per pipeline state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.pipeline.Status(r.Context())
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status_counts": counts,
		"total":         total,
	})
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrConnectionNotFound), errors.Is(err, domain.ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrScopeDenied):
		h.writeError(ctx, w, "SCOPE_DENIED", err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrEmbeddingFailed):
		h.writeError(ctx, w, "EMBEDDING_FAILED", err.Error(), http.StatusBadGateway)
	case errors.Is(err, domain.ErrWriteFailed):
		h.writeError(ctx, w, "WRITE_FAILED", err.Error(), http.StatusBadGateway)
	case errors.Is(err, domain.ErrAdapterUnavailable):
		h.writeError(ctx, w, "ADAPTER_UNAVAILABLE", err.Error(), http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "ingest operation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
