// Package shop is the payment notification core of the storefront: it
// receives asynchronous payment notifications (IPNs and webhooks) from
// payment gateways, verifies them, reconciles each gateway's vocabulary
// into a canonical event, and applies the result to orders exactly once.
//
// # Overview
//
// Gateways deliver notifications at least once, out of order, over an
// untrusted channel. The pipeline turns that into at-most-once financial
// effect:
//
//	┌──────────────┐    ┌───────────────────────────────┐    ┌─────────────┐
//	│              │    │  verify → normalize → dedup   │    │             │
//	│   Gateways   │───►│  → record → transition        │───►│   Orders    │
//	│  (IPN/hooks) │    │        (dispatch)             │    │  Payments   │
//	│              │◄───│  ack / retry / reject         │    │  Audit log  │
//	└──────────────┘    └───────────────────────────────┘    └─────────────┘
//
// # Supported Gateways
//
// Per-gateway packages under gateway/ register themselves on import:
//   - PayPal: legacy IPN with callback re-post verification
//   - PayPal Checkout: REST webhooks verified by re-querying the event
//   - Authorize.Net: HMAC-SHA512 signed webhooks
//   - Square: HMAC-SHA256 signed webhooks over URL plus body
//   - Stripe: official stripe-go signature verification
//   - Internal: the shop's own gift card, coupon and terms events
//   - Test: sandbox-only gateway that accepts unverified form posts
//
// # Quick Start
//
// Run the service with cmd/main.go, or embed the pipeline:
//
//	registry := gateway.NewRegistry()
//	registry.RegisterFactory("paypal", paypal.NewStrategy)
//	err := registry.Configure(gateway.Gateway{
//	    ID:      "paypal",
//	    Enabled: true,
//	    Credentials: map[string]string{"receiverEmail": "shop@example.com"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coordinator := dispatch.New(registry, ledg, recorder, orders, machine, auditStore, 0)
//	result := coordinator.Dispatch(ctx, "paypal", env)
//
// The Result's Outcome carries the HTTP contract: 200 acknowledges the
// notification, 503 solicits a resend, 4xx rejects it permanently.
package shop
