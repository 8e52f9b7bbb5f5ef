// Package testpay is the development gateway: no verification beyond the
// sandbox flag, form-encoded payloads shaped like the admin test console
// sends them. The factory refuses to build outside sandbox so a
// misconfigured production deployment fails at startup, not at the first
// forged notification.
package testpay

import (
	"github.com/glFusion/shop-sub005/gateway"
)

var kinds = gateway.KindMap{
	"payment":         gateway.EventPaymentReceived,
	"refund":          gateway.EventRefund,
	"invoice_created": gateway.EventInvoiceCreated,
	"invoice_paid":    gateway.EventInvoicePaid,
}

// NewStrategy builds the test strategy, sandbox only.
func NewStrategy(gw *gateway.Gateway) (*gateway.Strategy, error) {
	if !gw.Sandbox {
		return nil, gateway.VerificationFailedf("test gateway requires sandbox mode")
	}

	return &gateway.Strategy{
		Verify:    gateway.TrivialVerify(gw),
		Normalize: normalize,
		Respond:   gateway.RespondJSON,
	}, nil
}

func normalize(gw *gateway.Gateway, vp *gateway.VerifiedPayload) (*gateway.NotificationEvent, error) {
	fields, err := vp.Envelope.FormMap()
	if err != nil {
		return nil, gateway.NormalizationFailedf("test payload malformed: %v", err)
	}

	ev := &gateway.NotificationEvent{
		SourceGateway: gw.ID,
		Kind:          kinds.Lookup(fields["event"]),
		ExternalRefID: fields["ref_id"],
		OrderID:       fields["order_id"],
		Amount:        gateway.ParseAmount(fields["amount"]),
		Currency:      fields["currency"],
		IsMoney:       fields["is_money"] != "false",
		Method:        "test",
		Comment:       fields["comment"],
	}
	return gateway.RequireEvent(ev)
}
