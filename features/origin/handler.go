package origin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ragbridge/internal/domain"
	"ragbridge/internal/middleware"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// ListTypes answers the source-type discovery route.
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": Types()}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Connect runs a connectivity probe against an origin source without
// persisting anything.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceType string `json:"origin_source_type"`
		Config     Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	src, err := New(req.SourceType, req.Config)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	result := src.Test(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// ListDocuments pages through the documents of one origin source. The
// source config rides in the request body because browsing is stateless.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config Config `json:"config"`
		Limit  int    `json:"limit"`
		Skip   int    `json:"skip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Skip < 0 {
		req.Skip = 0
	}

	src, err := New(r.PathValue("type"), req.Config)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	docs, err := src.ListDocuments(r.Context(), req.Limit, req.Skip)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}

	// Listings carry previews only; full content comes from the single
	// document route.
	for i := range docs {
		docs[i].Content = ""
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs), "limit": req.Limit, "skip": req.Skip},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// GetDocument fetches a single document with its full content.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	src, err := New(r.PathValue("type"), req.Config)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	doc, err := src.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": doc}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrAdapterUnavailable):
		h.writeError(ctx, w, "ADAPTER_UNAVAILABLE", err.Error(), http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "origin operation failed", "error", err)
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
