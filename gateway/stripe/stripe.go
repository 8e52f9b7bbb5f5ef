// Package stripe implements Stripe webhooks on top of the official
// stripe-go signature verifier. The order id travels in the object's
// metadata under order_id.
package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/glFusion/shop-sub005/gateway"
)

const signatureHeader = "Stripe-Signature"

var kinds = gateway.KindMap{
	"payment_intent.succeeded": gateway.EventPaymentReceived,
	"charge.refunded":          gateway.EventRefund,
	"invoice.created":          gateway.EventInvoiceCreated,
	"invoice.paid":             gateway.EventInvoicePaid,
}

// NewStrategy builds the webhook strategy. Requires the webhookSecret
// credential (the whsec_ endpoint secret).
func NewStrategy(gw *gateway.Gateway) (*gateway.Strategy, error) {
	secret := gw.Credential("webhookSecret")
	if secret == "" {
		return nil, gateway.VerificationFailedf("stripe requires webhookSecret")
	}

	return &gateway.Strategy{
		Verify:    verify(secret),
		Normalize: normalize,
		Respond:   gateway.RespondJSON,
	}, nil
}

func verify(secret string) gateway.VerifyFunc {
	return func(_ context.Context, gw *gateway.Gateway, env *gateway.Envelope) (*gateway.VerifiedPayload, error) {
		event, err := webhook.ConstructEvent(env.Body, env.Header(signatureHeader), secret)
		if err != nil {
			return nil, gateway.VerificationFailedf("stripe signature: %v", err)
		}

		fields := map[string]string{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		}
		return &gateway.VerifiedPayload{Envelope: env, Fields: fields}, nil
	}
}

func normalize(gw *gateway.Gateway, vp *gateway.VerifiedPayload) (*gateway.NotificationEvent, error) {
	var event stripe.Event
	if err := vp.Envelope.DecodeJSON(&event); err != nil {
		return nil, gateway.NormalizationFailedf("event body malformed: %v", err)
	}

	var object map[string]any
	if event.Data != nil {
		object = event.Data.Object
	}
	eventType := string(event.Type)

	amountKey := "amount"
	switch eventType {
	case "charge.refunded":
		amountKey = "amount_refunded"
	case "invoice.created":
		amountKey = "amount_due"
	case "invoice.paid":
		amountKey = "amount_paid"
	}

	orderID := gateway.DigString(object, "metadata", "order_id")
	if orderID == "" {
		// Invoices created from the storefront carry the order in number.
		orderID = gateway.DigString(object, "number")
	}

	ev := &gateway.NotificationEvent{
		SourceGateway: gw.ID,
		Kind:          kinds.Lookup(eventType),
		ExternalRefID: event.ID,
		OrderID:       orderID,
		Amount:        gateway.ParseAmount(gateway.DigString(object, amountKey)) / 100,
		Currency:      gateway.DigString(object, "currency"),
		IsMoney:       true,
		Method:        "stripe",
		Comment:       gateway.DigString(object, "id"),
	}
	return gateway.RequireEvent(ev)
}
