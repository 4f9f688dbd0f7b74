package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ragbridge/internal/domain"
	"ragbridge/internal/middleware"
	"ragbridge/internal/retrieval"
)

// Header names routing a query at a specific store. X-MongoDB-URI targets
// an unregistered MongoDB directly; the URI itself acts as the connection
// id and is never persisted.
const (
	HeaderConnectionID = "X-Connection-ID"
	HeaderMongoURI     = "X-MongoDB-URI"
)

type Handler struct {
	service *retrieval.Service
}

func NewHandler(service *retrieval.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	// Header routing wins over body routing
	if uri := r.Header.Get(HeaderMongoURI); uri != "" {
		req.ConnectionIDs = []string{uri}
	} else if id := r.Header.Get(HeaderConnectionID); id != "" {
		req.ConnectionIDs = []string{id}
	}

	resp, err := h.service.Query(r.Context(), req)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidCollectionType):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrConnectionNotFound), errors.Is(err, domain.ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrScopeDenied):
		h.writeError(ctx, w, "SCOPE_DENIED", err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrEmbeddingFailed):
		h.writeError(ctx, w, "EMBEDDING_FAILED", err.Error(), http.StatusBadGateway)
	case errors.Is(err, domain.ErrAllSourcesUnavailable):
		h.writeError(ctx, w, "ALL_SOURCES_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrAdapterUnavailable):
		h.writeError(ctx, w, "ADAPTER_UNAVAILABLE", err.Error(), http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "query failed", "error", err)
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
