// Package ppcheckout implements PayPal Checkout (REST) webhooks. Deliveries
// are not signature-checked locally; trust comes from re-querying the event
// by id over an authenticated connection and comparing what PayPal holds
// against what was delivered.
package ppcheckout

import (
	"context"
	"time"

	"github.com/glFusion/shop-sub005/gateway"
)

const (
	// API URLs
	apiProductionURL = "https://api-m.paypal.com"
	apiSandboxURL    = "https://api-m.sandbox.paypal.com"

	// API Endpoints
	endpointToken  = "/v1/oauth2/token"
	endpointEvents = "/v1/notifications/webhooks-events/"

	defaultTimeout = 5 * time.Second
)

var kinds = gateway.KindMap{
	"PAYMENT.CAPTURE.COMPLETED": gateway.EventPaymentReceived,
	"PAYMENT.CAPTURE.REFUNDED":  gateway.EventRefund,
	"PAYMENT.CAPTURE.REVERSED":  gateway.EventRefund,
	"INVOICING.INVOICE.CREATED": gateway.EventInvoiceCreated,
	"INVOICING.INVOICE.PAID":    gateway.EventInvoicePaid,
}

// NewStrategy builds the Checkout strategy for one configured gateway.
// Requires clientId and clientSecret credentials.
func NewStrategy(gw *gateway.Gateway) (*gateway.Strategy, error) {
	clientID := gw.Credential("clientId")
	clientSecret := gw.Credential("clientSecret")
	if clientID == "" || clientSecret == "" {
		return nil, gateway.VerificationFailedf("ppcheckout requires clientId and clientSecret")
	}

	baseURL := apiProductionURL
	if gw.Sandbox {
		baseURL = apiSandboxURL
	}
	if u := gw.Credential("apiUrl"); u != "" {
		baseURL = u
	}

	client := gateway.NewHTTPClient(defaultTimeout)
	tokens := &gateway.TokenSource{
		TokenURL:     baseURL + endpointToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Client:       client,
	}

	v := &verifier{baseURL: baseURL, tokens: tokens, client: client}
	return &gateway.Strategy{
		Verify:    v.verify,
		Normalize: normalize,
		Respond:   gateway.RespondJSON,
	}, nil
}

type verifier struct {
	baseURL string
	tokens  *gateway.TokenSource
	client  *gateway.HTTPClient
}

// verify fetches PayPal's own copy of the event and accepts the delivery
// only when type, amount and currency agree with what arrived on the wire.
func (v *verifier) verify(ctx context.Context, gw *gateway.Gateway, env *gateway.Envelope) (*gateway.VerifiedPayload, error) {
	delivered, err := env.JSONMap()
	if err != nil {
		return nil, gateway.VerificationFailedf("malformed webhook body: %v", err)
	}
	eventID := gateway.DigString(delivered, "id")
	if eventID == "" {
		return nil, gateway.VerificationFailedf("webhook body missing event id")
	}

	token, err := v.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.SendJSON(ctx, &gateway.HTTPRequest{
		Method: "GET",
		URL:    v.baseURL + endpointEvents + eventID,
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
		},
	})
	if err != nil {
		return nil, gateway.Indeterminatef("event re-query unreachable: %v", err)
	}
	switch {
	case resp.StatusCode == 401:
		// Stale cached token; the gateway will resend and re-auth.
		v.tokens.Invalidate()
		return nil, gateway.Indeterminatef("event re-query unauthorized")
	case resp.StatusCode == 404:
		return nil, gateway.VerificationFailedf("event %s unknown to gateway", eventID)
	case resp.StatusCode >= 500:
		return nil, gateway.Indeterminatef("event re-query returned %d", resp.StatusCode)
	case resp.StatusCode != 200:
		return nil, gateway.VerificationFailedf("event re-query returned %d", resp.StatusCode)
	}

	env2 := &gateway.Envelope{Body: resp.Body}
	canonical, err := env2.JSONMap()
	if err != nil {
		return nil, gateway.Indeterminatef("event re-query body malformed: %v", err)
	}

	for _, path := range [][]string{
		{"event_type"},
		{"resource", "id"},
		{"resource", "amount", "value"},
		{"resource", "amount", "currency_code"},
	} {
		if gateway.DigString(delivered, path...) != gateway.DigString(canonical, path...) {
			return nil, gateway.VerificationFailedf("delivered event diverges from gateway record at %v", path)
		}
	}

	// Normalize from the canonical copy, not the delivered one.
	return &gateway.VerifiedPayload{
		Envelope: &gateway.Envelope{
			GatewayID:   env.GatewayID,
			RequestID:   env.RequestID,
			ContentType: "application/json",
			Body:        resp.Body,
			ReceivedAt:  env.ReceivedAt,
		},
	}, nil
}

func normalize(gw *gateway.Gateway, vp *gateway.VerifiedPayload) (*gateway.NotificationEvent, error) {
	doc, err := vp.Envelope.JSONMap()
	if err != nil {
		return nil, gateway.NormalizationFailedf("event body malformed: %v", err)
	}

	kind := kinds.Lookup(gateway.DigString(doc, "event_type"))

	orderID := gateway.DigString(doc, "resource", "custom_id")
	if orderID == "" {
		orderID = gateway.DigString(doc, "resource", "invoice_id")
	}
	if orderID == "" {
		// Invoicing events nest the merchant reference under detail.
		orderID = gateway.DigString(doc, "resource", "detail", "reference")
	}

	amount := gateway.ParseAmount(gateway.DigString(doc, "resource", "amount", "value"))
	currency := gateway.DigString(doc, "resource", "amount", "currency_code")
	if amount == 0 {
		amount = gateway.ParseAmount(gateway.DigString(doc, "resource", "amount", "breakdown", "gross_amount", "value"))
	}

	ev := &gateway.NotificationEvent{
		SourceGateway: gw.ID,
		Kind:          kind,
		ExternalRefID: gateway.DigString(doc, "id"),
		OrderID:       orderID,
		Amount:        amount,
		Currency:      currency,
		IsMoney:       true,
		Method:        "paypal_checkout",
		Comment:       gateway.DigString(doc, "summary"),
	}
	return gateway.RequireEvent(ev)
}
