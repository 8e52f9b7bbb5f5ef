// Package router assembles the HTTP routes and pulls in every gateway
// package for its side-effect registration.
package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/glFusion/shop-sub005/handler"
	"github.com/glFusion/shop-sub005/infra/middle"

	// Import for side-effect registration
	_ "github.com/glFusion/shop-sub005/gateway/authorizenet"
	_ "github.com/glFusion/shop-sub005/gateway/internalgw"
	_ "github.com/glFusion/shop-sub005/gateway/paypal"
	_ "github.com/glFusion/shop-sub005/gateway/ppcheckout"
	_ "github.com/glFusion/shop-sub005/gateway/square"
	_ "github.com/glFusion/shop-sub005/gateway/stripe"
	_ "github.com/glFusion/shop-sub005/gateway/testpay"
)

// Handlers groups everything the routes need.
type Handlers struct {
	Webhook *handler.WebhookHandler
	Health  *handler.HealthHandler
	Audit   *handler.AuditHandler
	APIKey  string
}

// Routes mounts the public webhook endpoint, the health check and the
// authenticated operational API.
func Routes(r chi.Router, h *Handlers) {
	// Gateways post here; no auth beyond per-gateway verification.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/{gateway}", h.Webhook.HandleNotification)
	})

	r.Get("/health", h.Health.CheckHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middle.APIKeyMiddleware(h.APIKey))

		r.Route("/audit", func(r chi.Router) {
			r.Get("/{gateway}", h.Audit.Recent)
			r.Get("/{gateway}/{refId}", h.Audit.ByRef)
		})
	})
}
