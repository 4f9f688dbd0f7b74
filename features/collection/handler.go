package collection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ragbridge/internal/domain"
	"ragbridge/internal/middleware"
)

// Per-request connection routing, same headers the query endpoint honors.
// A raw MongoDB URI acts as an ad-hoc connection id.
const (
	headerConnectionID = "X-Connection-ID"
	headerMongoURI     = "X-MongoDB-URI"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(headerConnectionID)
	if uri := r.Header.Get(headerMongoURI); uri != "" {
		connID = uri
	}

	var infos []Info
	var err error
	if connID != "" {
		infos, err = h.service.ListConnection(r.Context(), connID)
	} else {
		infos, err = h.service.List(r.Context())
	}
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if infos == nil {
		infos = []Info{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": infos,
		"meta": map[string]int{"count": len(infos)},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.service.Questions(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"collection": r.PathValue("name"),
		"questions":  questions,
	}); err != nil {
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
	case errors.Is(err, domain.ErrAdapterUnavailable):
		h.writeError(ctx, w, "ADAPTER_UNAVAILABLE", err.Error(), http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "collection operation failed", "error", err)
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
