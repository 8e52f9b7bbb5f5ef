// Package square implements Square webhooks. The signature is an
// HMAC-SHA256 over the notification URL concatenated with the raw body,
// delivered base64 encoded in the x-square-hmacsha256-signature header.
package square

import (
	"context"

	"github.com/glFusion/shop-sub005/gateway"
)

const signatureHeader = "x-square-hmacsha256-signature"

var kinds = gateway.KindMap{
	"payment.updated":      gateway.EventPaymentReceived,
	"refund.updated":       gateway.EventRefund,
	"invoice.published":    gateway.EventInvoiceCreated,
	"invoice.payment_made": gateway.EventInvoicePaid,
}

// Terminal object states that make an update event actionable; Square
// resends the same event type for every state change.
const (
	paymentCompleted = "COMPLETED"
	refundCompleted  = "COMPLETED"
)

// NewStrategy builds the webhook strategy. Requires the signatureKey
// credential; notificationUrl overrides the captured request URL when the
// service sits behind a rewriting proxy.
func NewStrategy(gw *gateway.Gateway) (*gateway.Strategy, error) {
	key := gw.Credential("signatureKey")
	if key == "" {
		return nil, gateway.VerificationFailedf("square requires signatureKey")
	}

	return &gateway.Strategy{
		Verify:    verify([]byte(key), gw.Credential("notificationUrl")),
		Normalize: normalize,
		Respond:   gateway.RespondJSON,
	}, nil
}

func verify(key []byte, notificationURL string) gateway.VerifyFunc {
	return func(_ context.Context, gw *gateway.Gateway, env *gateway.Envelope) (*gateway.VerifiedPayload, error) {
		u := notificationURL
		if u == "" {
			u = env.URL
		}
		signed := append([]byte(u), env.Body...)
		if err := gateway.CheckSignature(gateway.SignatureSHA256, key, signed, env.Header(signatureHeader)); err != nil {
			return nil, err
		}
		return &gateway.VerifiedPayload{Envelope: env}, nil
	}
}

func normalize(gw *gateway.Gateway, vp *gateway.VerifiedPayload) (*gateway.NotificationEvent, error) {
	doc, err := vp.Envelope.JSONMap()
	if err != nil {
		return nil, gateway.NormalizationFailedf("webhook body malformed: %v", err)
	}

	eventType := gateway.DigString(doc, "type")
	kind := kinds.Lookup(eventType)

	ev := &gateway.NotificationEvent{
		SourceGateway: gw.ID,
		Kind:          kind,
		IsMoney:       true,
		Method:        "square",
	}

	switch eventType {
	case "payment.updated":
		payment := gateway.DigMap(doc, "data", "object", "payment")
		if gateway.DigString(payment, "status") != paymentCompleted {
			// In-progress update; acknowledged but not applied.
			ev.Kind = gateway.EventUnknown
		}
		ev.ExternalRefID = gateway.DigString(payment, "id")
		ev.OrderID = gateway.DigString(payment, "reference_id")
		ev.Amount = centsAmount(payment, "amount_money")
		ev.Currency = gateway.DigString(payment, "amount_money", "currency")
	case "refund.updated":
		refund := gateway.DigMap(doc, "data", "object", "refund")
		if gateway.DigString(refund, "status") != refundCompleted {
			ev.Kind = gateway.EventUnknown
		}
		ev.ExternalRefID = gateway.DigString(refund, "id")
		ev.OrderID = gateway.DigString(refund, "reference_id")
		ev.Amount = centsAmount(refund, "amount_money")
		ev.Currency = gateway.DigString(refund, "amount_money", "currency")
		ev.Comment = gateway.DigString(refund, "payment_id")
	case "invoice.published", "invoice.payment_made":
		// The money movement for a paid invoice arrives as its own
		// payment.updated event; invoice events only move the order status
		// and never count as cash received.
		ev.IsMoney = false
		invoice := gateway.DigMap(doc, "data", "object", "invoice")
		ev.ExternalRefID = gateway.DigString(doc, "event_id")
		ev.OrderID = gateway.DigString(invoice, "invoice_number")
		ev.Comment = gateway.DigString(invoice, "id")
	default:
		ev.ExternalRefID = gateway.DigString(doc, "event_id")
	}

	if ev.ExternalRefID == "" {
		ev.ExternalRefID = gateway.DigString(doc, "event_id")
	}
	return gateway.RequireEvent(ev)
}

// centsAmount reads Square's integer-cents money object.
func centsAmount(m map[string]any, keys ...string) float64 {
	return gateway.ParseAmount(gateway.DigString(m, append(keys, "amount")...)) / 100
}
