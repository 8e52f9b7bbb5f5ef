// Package authorizenet implements Authorize.net webhooks, authenticated by
// an HMAC-SHA512 signature over the raw body carried in the
// X-ANET-Signature header.
package authorizenet

import (
	"context"
	"strings"

	"github.com/glFusion/shop-sub005/gateway"
)

const signatureHeader = "X-ANET-Signature"

var kinds = gateway.KindMap{
	"net.authorize.payment.authcapture.created": gateway.EventPaymentReceived,
	"net.authorize.payment.capture.created":     gateway.EventPaymentReceived,
	"net.authorize.payment.refund.created":      gateway.EventRefund,
	"net.authorize.payment.void.created":        gateway.EventRefund,
}

// NewStrategy builds the webhook strategy. Requires the signatureKey
// credential (Authorize.net's merchant signature key, hex encoded).
func NewStrategy(gw *gateway.Gateway) (*gateway.Strategy, error) {
	key := gw.Credential("signatureKey")
	if key == "" {
		return nil, gateway.VerificationFailedf("authorizenet requires signatureKey")
	}

	return &gateway.Strategy{
		Verify:    verify([]byte(key)),
		Normalize: normalize,
		Respond:   gateway.RespondJSON,
	}, nil
}

func verify(key []byte) gateway.VerifyFunc {
	return func(_ context.Context, gw *gateway.Gateway, env *gateway.Envelope) (*gateway.VerifiedPayload, error) {
		sig := env.Header(signatureHeader)
		// Header value arrives as "sha512=HEX".
		if i := strings.IndexByte(sig, '='); i >= 0 {
			sig = sig[i+1:]
		}
		if err := gateway.CheckSignature(gateway.SignatureSHA512, key, env.Body, sig); err != nil {
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

	ev := &gateway.NotificationEvent{
		SourceGateway: gw.ID,
		Kind:          kinds.Lookup(gateway.DigString(doc, "eventType")),
		ExternalRefID: gateway.DigString(doc, "payload", "id"),
		OrderID:       gateway.DigString(doc, "payload", "invoiceNumber"),
		Amount:        gateway.ParseAmount(gateway.DigString(doc, "payload", "authAmount")),
		Currency:      "USD",
		IsMoney:       true,
		Method:        gateway.DigString(doc, "payload", "entityName"),
		Comment:       gateway.DigString(doc, "notificationId"),
	}
	if ev.ExternalRefID == "" {
		// Some event families (customer, fraud) carry no transaction id;
		// fall back to the delivery's notification id so the event is at
		// least deduplicated.
		ev.ExternalRefID = gateway.DigString(doc, "notificationId")
	}
	return gateway.RequireEvent(ev)
}
