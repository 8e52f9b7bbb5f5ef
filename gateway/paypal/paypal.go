// Package paypal implements the classic PayPal IPN contract: form-encoded
// notifications verified by posting the exact payload back to PayPal and
// acknowledged with an empty 200 body.
package paypal

import (
	"context"
	"time"

	"github.com/glFusion/shop-sub005/gateway"
)

const (
	// Verification endpoints
	verifyProductionURL = "https://ipnpb.paypal.com/cgi-bin/webscr"
	verifySandboxURL    = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"

	// Callback protocol tokens
	verifyCommand      = "_notify-validate"
	verifyConfirmation = "VERIFIED"

	defaultTimeout = 5 * time.Second
)

// paymentStatus values as PayPal spells them in the payment_status field.
var kinds = gateway.KindMap{
	"Completed": gateway.EventPaymentReceived,
	"Refunded":  gateway.EventRefund,
	"Reversed":  gateway.EventRefund,
}

// NewStrategy builds the IPN strategy for one configured gateway.
func NewStrategy(gw *gateway.Gateway) (*gateway.Strategy, error) {
	endpoint := verifyProductionURL
	if gw.Sandbox {
		endpoint = verifySandboxURL
	}
	if u := gw.Credential("verifyUrl"); u != "" {
		endpoint = u
	}
	verifier := &gateway.CallbackVerifier{
		Endpoint:     endpoint,
		CommandKey:   "cmd",
		CommandValue: verifyCommand,
		Confirmation: verifyConfirmation,
		Client:       gateway.NewHTTPClient(defaultTimeout),
	}

	return &gateway.Strategy{
		Verify:    verify(verifier),
		Normalize: normalize,
		// IPN parses the response text, not the status code.
		Respond: gateway.RespondPlain(""),
	}, nil
}

func verify(verifier *gateway.CallbackVerifier) gateway.VerifyFunc {
	return func(ctx context.Context, gw *gateway.Gateway, env *gateway.Envelope) (*gateway.VerifiedPayload, error) {
		fields, err := env.FormMap()
		if err != nil {
			return nil, gateway.VerificationFailedf("malformed IPN body: %v", err)
		}
		if err := verifier.Verify(ctx, env); err != nil {
			return nil, err
		}
		return &gateway.VerifiedPayload{Envelope: env, Fields: fields}, nil
	}
}

func normalize(gw *gateway.Gateway, vp *gateway.VerifiedPayload) (*gateway.NotificationEvent, error) {
	kind := kinds.Lookup(vp.Field("payment_status"))

	// Refund notifications reference the original transaction in
	// parent_txn_id; txn_id is the refund's own id and stays the
	// idempotency key.
	orderID := vp.Field("custom")
	if orderID == "" {
		orderID = vp.Field("invoice")
	}

	ev := &gateway.NotificationEvent{
		SourceGateway: gw.ID,
		Kind:          kind,
		ExternalRefID: vp.Field("txn_id"),
		OrderID:       orderID,
		Amount:        gateway.ParseAmount(vp.Field("mc_gross")),
		Currency:      vp.Field("mc_currency"),
		IsMoney:       true,
		Method:        vp.Field("payment_type"),
		Comment:       vp.Field("parent_txn_id"),
	}
	return gateway.RequireEvent(ev)
}
