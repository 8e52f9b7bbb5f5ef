package ppcheckout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glFusion/shop-sub005/gateway"
)

const captureEvent = `{
	"id": "WH-1",
	"event_type": "PAYMENT.CAPTURE.COMPLETED",
	"summary": "Payment completed for order-1",
	"resource": {
		"id": "CAP-1",
		"custom_id": "order-1",
		"amount": {"value": "42.00", "currency_code": "USD"}
	}
}`

// fakePayPal serves the token endpoint and the event re-query endpoint.
func fakePayPal(t *testing.T, eventBody string, eventStatus int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == endpointToken:
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-1",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case strings.HasPrefix(r.URL.Path, endpointEvents):
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(eventStatus)
			_, _ = w.Write([]byte(eventBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func testGateway(apiURL string) *gateway.Gateway {
	return &gateway.Gateway{
		ID:      "ppcheckout",
		Sandbox: true,
		Enabled: true,
		Credentials: map[string]string{
			"clientId":     "cid",
			"clientSecret": "secret",
			"apiUrl":       apiURL,
		},
	}
}

func TestNewStrategyRequiresCredentials(t *testing.T) {
	_, err := NewStrategy(&gateway.Gateway{ID: "ppcheckout"})
	assert.Error(t, err)
}

func TestVerifyAcceptsMatchingEvent(t *testing.T) {
	server := fakePayPal(t, captureEvent, http.StatusOK)
	defer server.Close()

	gw := testGateway(server.URL)
	strategy, err := NewStrategy(gw)
	require.NoError(t, err)

	env := &gateway.Envelope{GatewayID: "ppcheckout", Body: []byte(captureEvent)}
	vp, err := strategy.Verify(context.Background(), gw, env)
	require.NoError(t, err)

	ev, err := strategy.Normalize(gw, vp)
	require.NoError(t, err)
	assert.Equal(t, gateway.EventPaymentReceived, ev.Kind)
	assert.Equal(t, "WH-1", ev.ExternalRefID)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.InDelta(t, 42.00, ev.Amount, 0.0001)
	assert.Equal(t, "USD", ev.Currency)
}

func TestVerifyRejectsTamperedAmount(t *testing.T) {
	server := fakePayPal(t, captureEvent, http.StatusOK)
	defer server.Close()

	gw := testGateway(server.URL)
	strategy, err := NewStrategy(gw)
	require.NoError(t, err)

	tampered := strings.Replace(captureEvent, `"42.00"`, `"1.00"`, 1)
	env := &gateway.Envelope{GatewayID: "ppcheckout", Body: []byte(tampered)}

	_, err = strategy.Verify(context.Background(), gw, env)
	assert.ErrorIs(t, err, gateway.ErrVerificationFailed)
}

func TestVerifyUnknownEventRejected(t *testing.T) {
	server := fakePayPal(t, `{}`, http.StatusNotFound)
	defer server.Close()

	gw := testGateway(server.URL)
	strategy, err := NewStrategy(gw)
	require.NoError(t, err)

	env := &gateway.Envelope{GatewayID: "ppcheckout", Body: []byte(captureEvent)}
	_, err = strategy.Verify(context.Background(), gw, env)
	assert.ErrorIs(t, err, gateway.ErrVerificationFailed)
}

func TestVerifyGatewayOutageIsIndeterminate(t *testing.T) {
	server := fakePayPal(t, `oops`, http.StatusBadGateway)
	defer server.Close()

	gw := testGateway(server.URL)
	strategy, err := NewStrategy(gw)
	require.NoError(t, err)

	env := &gateway.Envelope{GatewayID: "ppcheckout", Body: []byte(captureEvent)}
	_, err = strategy.Verify(context.Background(), gw, env)
	assert.ErrorIs(t, err, gateway.ErrVerificationIndeterminate)
}

func TestNormalizeKinds(t *testing.T) {
	gw := testGateway("")
	tests := []struct {
		eventType string
		want      gateway.EventKind
	}{
		{"PAYMENT.CAPTURE.COMPLETED", gateway.EventPaymentReceived},
		{"PAYMENT.CAPTURE.REFUNDED", gateway.EventRefund},
		{"PAYMENT.CAPTURE.REVERSED", gateway.EventRefund},
		{"INVOICING.INVOICE.CREATED", gateway.EventInvoiceCreated},
		{"INVOICING.INVOICE.PAID", gateway.EventInvoicePaid},
		{"CHECKOUT.ORDER.APPROVED", gateway.EventUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			body := fmt.Sprintf(`{
				"id": "WH-2",
				"event_type": %q,
				"resource": {"id": "R-1", "custom_id": "order-2", "amount": {"value": "5.00", "currency_code": "USD"}}
			}`, tt.eventType)
			vp := &gateway.VerifiedPayload{Envelope: &gateway.Envelope{Body: []byte(body)}}
			ev, err := normalize(gw, vp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Kind)
		})
	}
}

func TestNormalizeInvoiceReference(t *testing.T) {
	gw := testGateway("")
	body := `{
		"id": "WH-3",
		"event_type": "INVOICING.INVOICE.PAID",
		"resource": {"id": "INV2-XYZ", "detail": {"reference": "order-7"}, "amount": {"value": "99.00", "currency_code": "USD"}}
	}`
	vp := &gateway.VerifiedPayload{Envelope: &gateway.Envelope{Body: []byte(body)}}
	ev, err := normalize(gw, vp)
	require.NoError(t, err)
	assert.Equal(t, gateway.EventInvoicePaid, ev.Kind)
	assert.Equal(t, "order-7", ev.OrderID)
}
