package authorizenet

import (
	"context"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glFusion/shop-sub005/gateway"
)

const signatureKey = "0123456789ABCDEF"

const captureBody = `{
	"notificationId": "note-1",
	"eventType": "net.authorize.payment.authcapture.created",
	"payload": {
		"id": "60123456789",
		"invoiceNumber": "order-1",
		"authAmount": 19.99,
		"entityName": "transaction"
	}
}`

func testGateway() *gateway.Gateway {
	return &gateway.Gateway{
		ID:      "authorizenet",
		Enabled: true,
		Credentials: map[string]string{
			"signatureKey": signatureKey,
		},
	}
}

func sign(t *testing.T, body []byte) string {
	t.Helper()
	mac, err := gateway.ComputeHMAC(gateway.SignatureSHA512, []byte(signatureKey), body)
	require.NoError(t, err)
	return "sha512=" + hex.EncodeToString(mac)
}

func signedEnvelope(t *testing.T, body, signature string) *gateway.Envelope {
	t.Helper()
	headers := http.Header{}
	headers.Set("X-Anet-Signature", signature)
	return &gateway.Envelope{
		GatewayID:   "authorizenet",
		ContentType: "application/json",
		Headers:     headers,
		Body:        []byte(body),
	}
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	gw := testGateway()
	strategy, err := NewStrategy(gw)
	require.NoError(t, err)

	env := signedEnvelope(t, captureBody, sign(t, []byte(captureBody)))
	vp, err := strategy.Verify(context.Background(), gw, env)
	require.NoError(t, err)

	ev, err := strategy.Normalize(gw, vp)
	require.NoError(t, err)
	assert.Equal(t, gateway.EventPaymentReceived, ev.Kind)
	assert.Equal(t, "60123456789", ev.ExternalRefID)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.InDelta(t, 19.99, ev.Amount, 0.0001)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	gw := testGateway()
	strategy, err := NewStrategy(gw)
	require.NoError(t, err)

	signature := sign(t, []byte(captureBody))
	tampered := captureBody[:len(captureBody)-2] + " }"
	env := signedEnvelope(t, tampered, signature)

	_, err = strategy.Verify(context.Background(), gw, env)
	assert.ErrorIs(t, err, gateway.ErrVerificationFailed)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	gw := testGateway()
	strategy, err := NewStrategy(gw)
	require.NoError(t, err)

	env := signedEnvelope(t, captureBody, "")
	_, err = strategy.Verify(context.Background(), gw, env)
	assert.ErrorIs(t, err, gateway.ErrVerificationFailed)
}

func TestNewStrategyRequiresKey(t *testing.T) {
	_, err := NewStrategy(&gateway.Gateway{ID: "authorizenet"})
	assert.Error(t, err)
}

func TestNormalizeRefund(t *testing.T) {
	gw := testGateway()
	body := `{
		"notificationId": "note-2",
		"eventType": "net.authorize.payment.refund.created",
		"payload": {"id": "60987", "invoiceNumber": "order-2", "authAmount": 5.00}
	}`
	vp := &gateway.VerifiedPayload{Envelope: &gateway.Envelope{Body: []byte(body)}}
	ev, err := normalize(gw, vp)
	require.NoError(t, err)
	assert.Equal(t, gateway.EventRefund, ev.Kind)
	assert.Equal(t, "60987", ev.ExternalRefID)
}

func TestNormalizeUnmappedEventFallsBackToNotificationID(t *testing.T) {
	gw := testGateway()
	body := `{
		"notificationId": "note-3",
		"eventType": "net.authorize.customer.created",
		"payload": {}
	}`
	vp := &gateway.VerifiedPayload{Envelope: &gateway.Envelope{Body: []byte(body)}}
	ev, err := normalize(gw, vp)
	require.NoError(t, err)
	assert.Equal(t, gateway.EventUnknown, ev.Kind)
	assert.Equal(t, "note-3", ev.ExternalRefID)
	assert.Empty(t, ev.OrderID)
}
