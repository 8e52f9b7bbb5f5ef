package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/glFusion/shop-sub005/audit"
	"github.com/glFusion/shop-sub005/infra/response"
)

// AuditHandler exposes the notification audit trail to operators.
type AuditHandler struct {
	store *audit.Store
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(store *audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// Recent handles GET /v1/audit/{gateway}?limit=N.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gateway")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = parsed
	}

	entries, err := h.store.Recent(r.Context(), gatewayID, limit)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "audit query failed", err)
		return
	}
	response.Success(w, http.StatusOK, "audit entries", entries)
}

// ByRef handles GET /v1/audit/{gateway}/{refId}: every delivery attempt
// recorded for one external reference.
func (h *AuditHandler) ByRef(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gateway")
	refID := chi.URLParam(r, "refId")

	entries, err := h.store.ByRef(r.Context(), gatewayID, refID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "audit query failed", err)
		return
	}
	response.Success(w, http.StatusOK, "audit entries", entries)
}
