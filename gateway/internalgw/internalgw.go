// Package internalgw implements the storefront's own synthetic gateway: gift
// card and coupon applications, and terms invoicing, delivered by the shop
// itself and authenticated with a shared-secret HMAC.
package internalgw

import (
	"context"

	"github.com/glFusion/shop-sub005/gateway"
)

// ID is underscored so it can never collide with a real processor.
const ID = "_internal"

const signatureHeader = "X-Shop-Signature"

var kinds = gateway.KindMap{
	"payment":         gateway.EventPaymentReceived,
	"refund":          gateway.EventRefund,
	"invoice_created": gateway.EventInvoiceCreated,
	"invoice_paid":    gateway.EventInvoicePaid,
}

// Credit instruments settle against a balance the shop already holds, so
// they never count toward money received.
var creditMethods = map[string]bool{
	"gift_card": true,
	"coupon":    true,
	"loyalty":   true,
}

// NewStrategy builds the internal strategy. Requires the sharedSecret
// credential.
func NewStrategy(gw *gateway.Gateway) (*gateway.Strategy, error) {
	secret := gw.Credential("sharedSecret")
	if secret == "" {
		return nil, gateway.VerificationFailedf("internal gateway requires sharedSecret")
	}

	return &gateway.Strategy{
		Verify:    verify([]byte(secret)),
		Normalize: normalize,
		Respond:   gateway.RespondJSON,
	}, nil
}

func verify(secret []byte) gateway.VerifyFunc {
	return func(_ context.Context, gw *gateway.Gateway, env *gateway.Envelope) (*gateway.VerifiedPayload, error) {
		if err := gateway.CheckSignature(gateway.SignatureSHA256, secret, env.Body, env.Header(signatureHeader)); err != nil {
			return nil, err
		}
		return &gateway.VerifiedPayload{Envelope: env}, nil
	}
}

type creditNotice struct {
	Event   string  `json:"event"`
	RefID   string  `json:"refId"`
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
	Method  string  `json:"method"`
	Comment string  `json:"comment"`
}

func normalize(gw *gateway.Gateway, vp *gateway.VerifiedPayload) (*gateway.NotificationEvent, error) {
	var notice creditNotice
	if err := vp.Envelope.DecodeJSON(&notice); err != nil {
		return nil, gateway.NormalizationFailedf("notice body malformed: %v", err)
	}

	ev := &gateway.NotificationEvent{
		SourceGateway: gw.ID,
		Kind:          kinds.Lookup(notice.Event),
		ExternalRefID: notice.RefID,
		OrderID:       notice.OrderID,
		Amount:        notice.Amount,
		IsMoney:       !creditMethods[notice.Method],
		Method:        notice.Method,
		Comment:       notice.Comment,
	}
	return gateway.RequireEvent(ev)
}
