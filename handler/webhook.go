// Package handler contains the HTTP surface: the public webhook endpoint
// and the authenticated operational endpoints.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/glFusion/shop-sub005/dispatch"
	"github.com/glFusion/shop-sub005/gateway"
	"github.com/glFusion/shop-sub005/infra/logger"
	"github.com/glFusion/shop-sub005/infra/response"
)

// WebhookHandler receives payment notifications and hands them to the
// dispatch pipeline.
type WebhookHandler struct {
	registry    *gateway.Registry
	coordinator *dispatch.Coordinator
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(registry *gateway.Registry, coordinator *dispatch.Coordinator) *WebhookHandler {
	return &WebhookHandler{registry: registry, coordinator: coordinator}
}

// HandleNotification processes POST /webhooks/{gateway}. The response shape
// is chosen by the gateway's own respond strategy; legacy gateways get a
// literal body, the rest the standard JSON envelope.
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gateway")
	if gatewayID == "" {
		response.Error(w, http.StatusNotFound, "gateway not specified", nil)
		return
	}

	env, err := gateway.Capture(r, gatewayID)
	if err != nil {
		logger.Warn("notification capture failed", logger.LogContext{
			Gateway: gatewayID,
			Fields:  map[string]any{"error": err.Error()},
		})
		response.Error(w, http.StatusBadRequest, "unreadable request body", nil)
		return
	}

	result := h.coordinator.Dispatch(r.Context(), gatewayID, env)
	h.logResult(env, result)

	respond := gateway.RespondJSON
	if _, strategy, err := h.registry.Resolve(gatewayID); err == nil && strategy.Respond != nil {
		respond = strategy.Respond
	}
	respond(w, result.Outcome)
}

func (h *WebhookHandler) logResult(env *gateway.Envelope, result *dispatch.Result) {
	ctx := logger.LogContext{
		Gateway:   env.GatewayID,
		RequestID: env.RequestID,
		Fields: map[string]any{
			"stage":  string(result.Stage),
			"status": result.Outcome.Status,
		},
	}
	if result.Event != nil {
		ctx.OrderID = result.Event.OrderID
		ctx.Fields["ref_id"] = result.Event.ExternalRefID
		ctx.Fields["kind"] = string(result.Event.Kind)
	}

	switch {
	case result.Err != nil && result.Outcome.Disposition != gateway.DispositionAck:
		logger.Warn("notification not processed: "+result.Err.Error(), ctx)
	case result.Err != nil:
		logger.Info("notification acknowledged without action: "+result.Err.Error(), ctx)
	default:
		logger.Info("notification processed", ctx)
	}
}
