package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ragbridge/internal/domain"
	"ragbridge/internal/middleware"
	"ragbridge/internal/vector"
)

type Handler struct {
	service *Service
	store   *vector.UnifiedStore
}

func NewHandler(service *Service, store *vector.UnifiedStore) *Handler {
	return &Handler{service: service, store: store}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider"`
		DisplayName string `json:"display_name"`
		URI         string `json:"uri"`
		APIKey      string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.service.Create(r.Context(), req.Provider, req.DisplayName, req.URI, req.APIKey)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"connection_id": conn.ID,
		"data":          conn,
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.service.List(r.Context())
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if conns == nil {
		conns = []Connection{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": conns,
		"meta": map[string]int{"count": len(conns)},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	conn, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": conn}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Consent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scopes []vector.Scope `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.service.Consent(r.Context(), r.PathValue("id"), req.Scopes)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": conn}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.ListCollections(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if infos == nil {
		infos = []vector.CollectionInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": infos,
		"meta": map[string]int{"count": len(infos)},
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
		slog.ErrorContext(ctx, "operation failed", "error", err)
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
