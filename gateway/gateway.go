package gateway

import (
	"context"
	"net/http"
	"time"
)

// Capability is a checkout mode a gateway supports.
type Capability string

const (
	CapCheckout  Capability = "checkout"
	CapBuyNow    Capability = "buy_now"
	CapDonation  Capability = "donation"
	CapSubscribe Capability = "subscribe"
	CapTerms     Capability = "terms"
	CapPayouts   Capability = "payouts"
)

// EventKind is the canonical event taxonomy every gateway vocabulary is
// reconciled into.
type EventKind string

const (
	EventPaymentReceived EventKind = "PAYMENT_RECEIVED"
	EventInvoiceCreated  EventKind = "INVOICE_CREATED"
	EventInvoicePaid     EventKind = "INVOICE_PAID"
	EventRefund          EventKind = "REFUND"
	EventUnknown         EventKind = "UNKNOWN"
)

// Gateway describes one configured payment gateway. Descriptors are created
// from configuration and are read-only to the notification pipeline.
type Gateway struct {
	ID           string            `json:"id" validate:"required,lowercase"`
	Capabilities []Capability      `json:"capabilities"`
	Credentials  map[string]string `json:"-"`
	Sandbox      bool              `json:"sandbox"`
	Enabled      bool              `json:"enabled"`
}

// Supports reports whether the gateway carries the given capability.
func (g *Gateway) Supports(cap Capability) bool {
	for _, c := range g.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Credential returns a credential value or the empty string.
func (g *Gateway) Credential(key string) string {
	return g.Credentials[key]
}

// VerifiedPayload is the output of a successful verification: the envelope
// the trust decision was made over, plus the flattened fields the verifier
// already parsed while checking it.
type VerifiedPayload struct {
	Envelope *Envelope
	Fields   map[string]string
}

// Field returns a parsed field value or the empty string.
func (v *VerifiedPayload) Field(key string) string {
	if v.Fields == nil {
		return ""
	}
	return v.Fields[key]
}

// NotificationEvent is the canonical post-normalization event. ExternalRefID
// is the gateway's unique id for the financial event itself (not the order)
// and serves as the idempotency key.
type NotificationEvent struct {
	SourceGateway string    `json:"sourceGateway"`
	Kind          EventKind `json:"kind"`
	ExternalRefID string    `json:"externalRefId"`
	OrderID       string    `json:"orderId"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	IsMoney       bool      `json:"isMoney"`
	Method        string    `json:"method,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	RawPayload    []byte    `json:"-"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// Disposition tells the calling gateway what to do with the notification it
// just delivered.
type Disposition int

const (
	// DispositionAck acknowledges the notification; the gateway must not resend.
	DispositionAck Disposition = iota
	// DispositionRetry solicits a resend on the gateway's own retry schedule.
	DispositionRetry
	// DispositionReject permanently rejects the notification.
	DispositionReject
)

// Outcome is the response contract handed to the per-gateway Respond
// strategy once dispatch finishes.
type Outcome struct {
	Disposition Disposition
	Status      int
	Message     string
}

// VerifyFunc decides whether an inbound envelope may be trusted. It must not
// mutate state and must be safe to call repeatedly.
type VerifyFunc func(ctx context.Context, gw *Gateway, env *Envelope) (*VerifiedPayload, error)

// NormalizeFunc translates a verified payload into the canonical event.
type NormalizeFunc func(gw *Gateway, vp *VerifiedPayload) (*NotificationEvent, error)

// RespondFunc writes the gateway-native acknowledgement. Legacy gateways
// expect a literal body string rather than a status code alone.
type RespondFunc func(w http.ResponseWriter, outcome Outcome)

// Strategy is the pluggable triple a gateway registers instead of a
// subclass hierarchy: adding a gateway means providing these three
// functions.
type Strategy struct {
	Verify    VerifyFunc
	Normalize NormalizeFunc
	Respond   RespondFunc
}

// StrategyFactory builds a Strategy bound to one configured gateway. The
// factory validates the credential bundle and returns an error when the
// gateway cannot operate with the supplied configuration.
type StrategyFactory func(gw *Gateway) (*Strategy, error)
