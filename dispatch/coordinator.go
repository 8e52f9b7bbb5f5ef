// Package dispatch orchestrates one inbound notification through
// verification, normalization, dedup, payment recording and the status
// transition, and owns the failure/retry contract with the gateway.
package dispatch

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/glFusion/shop-sub005/audit"
	"github.com/glFusion/shop-sub005/gateway"
	"github.com/glFusion/shop-sub005/infra/logger"
	"github.com/glFusion/shop-sub005/ledger"
	"github.com/glFusion/shop-sub005/order"
)

// Stage identifies how far a dispatch got before finishing or failing.
type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageVerified     Stage = "VERIFIED"
	StageNormalized   Stage = "NORMALIZED"
	StageDeduped      Stage = "DEDUPED"
	StageRecorded     Stage = "RECORDED"
	StageTransitioned Stage = "TRANSITIONED"
	StageAcknowledged Stage = "ACKNOWLEDGED"
)

// Result is the final state of one dispatch. Outcome carries the response
// contract; Err is nil whenever the notification was acknowledged,
// including duplicate and stale deliveries.
type Result struct {
	Stage      Stage
	Outcome    gateway.Outcome
	Event      *gateway.NotificationEvent
	Payment    *ledger.Payment
	Transition *order.Result
	Err        error
}

// OrderStore is the order read/write collaborator.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	SaveOrder(ctx context.Context, ord *order.Order) error
}

// Coordinator wires the pipeline stages together. It holds no per-request
// state; every dependency is safe for concurrent use.
type Coordinator struct {
	registry *gateway.Registry
	ledger   *ledger.Ledger
	recorder *ledger.Recorder
	orders   OrderStore
	machine  *order.Machine
	audit    *audit.Store
	budget   time.Duration
}

// New creates a coordinator. budget is the wall-clock allowance for one
// inbound call; past it the gateway is asked to resend.
func New(registry *gateway.Registry, ledg *ledger.Ledger, recorder *ledger.Recorder,
	orders OrderStore, machine *order.Machine, auditStore *audit.Store, budget time.Duration) *Coordinator {
	if budget <= 0 {
		budget = 20 * time.Second
	}
	return &Coordinator{
		registry: registry,
		ledger:   ledg,
		recorder: recorder,
		orders:   orders,
		machine:  machine,
		audit:    auditStore,
		budget:   budget,
	}
}

// Dispatch runs one inbound notification to completion. No stage is
// retried internally; the Outcome tells the gateway whether resubmission
// is appropriate.
func (c *Coordinator) Dispatch(ctx context.Context, gatewayID string, env *gateway.Envelope) *Result {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	env.GatewayID = gatewayID
	result := c.run(ctx, gatewayID, env)
	c.writeAudit(env, result)
	return result
}

func (c *Coordinator) run(ctx context.Context, gatewayID string, env *gateway.Envelope) *Result {
	gw, strategy, err := c.registry.Resolve(gatewayID)
	if err != nil {
		return reject(StageReceived, err)
	}

	vp, err := strategy.Verify(ctx, gw, env)
	if err != nil {
		return reject(StageReceived, err)
	}

	ev, err := strategy.Normalize(gw, vp)
	if err != nil {
		return reject(StageVerified, err)
	}
	ev.SourceGateway = gw.ID
	ev.RawPayload = env.Body
	ev.ReceivedAt = env.ReceivedAt

	if ev.Kind == gateway.EventUnknown {
		// Acknowledged but not acted on; the audit trail keeps the payload.
		return &Result{
			Stage: StageAcknowledged,
			Event: ev,
			Outcome: gateway.Outcome{
				Disposition: gateway.DispositionAck,
				Status:      http.StatusOK,
				Message:     "event ignored",
			},
		}
	}

	reservation, err := c.ledger.Reserve(ctx, gw.ID, ev.ExternalRefID)
	if err != nil {
		var dup *ledger.DuplicateError
		if errors.As(err, &dup) {
			return c.ackDuplicate(ctx, gw, ev, dup)
		}
		return rejectWithEvent(StageNormalized, ev, err)
	}

	ord, err := c.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		_ = reservation.Release(ctx)
		if errors.Is(err, order.ErrNotFound) {
			// Data-integrity concern: the gateway references an order this
			// store never created.
			logger.Error("notification for unknown order", err, logger.LogContext{
				Gateway: gw.ID,
				OrderID: ev.OrderID,
				Fields:  map[string]any{"ref_id": ev.ExternalRefID},
			})
		}
		return rejectWithEvent(StageDeduped, ev, err)
	}

	var payment *ledger.Payment
	if movesMoney(ev.Kind) {
		payment, err = c.recorder.Record(ctx, ledger.Payment{
			OrderID: ev.OrderID,
			Gateway: gw.ID,
			RefID:   ev.ExternalRefID,
			Amount:  signedAmount(ev),
			IsMoney: ev.IsMoney,
			Method:  ev.Method,
			Comment: ev.Comment,
		})
		if err != nil {
			var dup *ledger.DuplicateError
			if errors.As(err, &dup) {
				// The ledger row was lost or expired while the payment
				// survived; re-point it at the existing payment.
				_ = reservation.Commit(ctx, dup.PaymentID)
				return c.ackDuplicate(ctx, gw, ev, dup)
			}
			_ = reservation.Release(ctx)
			return rejectWithEvent(StageDeduped, ev, err)
		}
	}

	// The payment row exists; the reservation must outlive any later
	// failure, so it is committed before the transition.
	var paymentID int64
	if payment != nil {
		paymentID = payment.ID
	}
	if err := reservation.Commit(ctx, paymentID); err != nil {
		return rejectWithEvent(StageRecorded, ev, err)
	}

	history, err := c.recorder.History(ctx, ev.OrderID)
	if err != nil {
		return rejectWithEvent(StageRecorded, ev, err)
	}

	transition, err := c.machine.Apply(ctx, ord, ev, history, gw)
	if err != nil {
		if errors.Is(err, order.ErrTransitionRejected) {
			// Stale or out-of-order notification: keep the recorded payment
			// and the recomputed paid-to-date, leave the status alone.
			if saveErr := c.orders.SaveOrder(ctx, ord); saveErr != nil {
				logger.Error("order save after rejected transition failed", saveErr,
					logger.LogContext{Gateway: gw.ID, OrderID: ord.ID})
			}
			return &Result{
				Stage:   StageRecorded,
				Event:   ev,
				Payment: payment,
				Err:     err,
				Outcome: gateway.Outcome{
					Disposition: gateway.DispositionAck,
					Status:      http.StatusOK,
					Message:     "stale notification, no transition",
				},
			}
		}
		return rejectWithEvent(StageRecorded, ev, err)
	}

	if err := c.orders.SaveOrder(ctx, ord); err != nil {
		// Recorded but not reflected on the order; paid-to-date is derived,
		// the next event for this order recomputes it.
		logger.Error("order save failed after transition", err,
			logger.LogContext{Gateway: gw.ID, OrderID: ord.ID})
		return rejectWithEvent(StageTransitioned, ev, err)
	}

	return &Result{
		Stage:      StageAcknowledged,
		Event:      ev,
		Payment:    payment,
		Transition: transition,
		Outcome: gateway.Outcome{
			Disposition: gateway.DispositionAck,
			Status:      http.StatusOK,
			Message:     "notification processed",
		},
	}
}

// ackDuplicate acknowledges an already-applied notification. A resend is
// also the recovery path for a crash between recording the payment and
// saving the order, so the order is re-evaluated from the payment history
// before the gateway is told to stop retrying.
func (c *Coordinator) ackDuplicate(ctx context.Context, gw *gateway.Gateway, ev *gateway.NotificationEvent, dup *ledger.DuplicateError) *Result {
	acked := &Result{
		Stage: StageDeduped,
		Event: ev,
		Err:   dup,
		Outcome: gateway.Outcome{
			Disposition: gateway.DispositionAck,
			Status:      http.StatusOK,
			Message:     "duplicate notification",
		},
	}

	ord, err := c.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return acked
		}
		return rejectWithEvent(StageDeduped, ev, err)
	}
	history, err := c.recorder.History(ctx, ev.OrderID)
	if err != nil {
		return rejectWithEvent(StageDeduped, ev, err)
	}
	if _, err := c.machine.Apply(ctx, ord, ev, history, gw); err != nil && !errors.Is(err, order.ErrTransitionRejected) {
		return rejectWithEvent(StageDeduped, ev, err)
	}
	if err := c.orders.SaveOrder(ctx, ord); err != nil {
		// The recorded payment is still not reflected on the order; keep
		// the gateway retrying instead of acknowledging a dead end.
		logger.Error("order save during duplicate reconciliation failed", err,
			logger.LogContext{Gateway: gw.ID, OrderID: ord.ID})
		return rejectWithEvent(StageDeduped, ev, err)
	}
	return acked
}

func movesMoney(kind gateway.EventKind) bool {
	switch kind {
	case gateway.EventPaymentReceived, gateway.EventInvoicePaid, gateway.EventRefund:
		return true
	}
	return false
}

// signedAmount normalizes the sign convention: receipts positive, refunds
// negative, regardless of how the gateway reported the magnitude.
func signedAmount(ev *gateway.NotificationEvent) float64 {
	amount := math.Abs(ev.Amount)
	if ev.Kind == gateway.EventRefund {
		return -amount
	}
	return amount
}

func reject(stage Stage, err error) *Result {
	return &Result{Stage: stage, Err: err, Outcome: outcomeFor(err)}
}

func rejectWithEvent(stage Stage, ev *gateway.NotificationEvent, err error) *Result {
	result := reject(stage, err)
	result.Event = ev
	return result
}

// outcomeFor maps the error taxonomy onto the response contract: 200 stops
// resends, 503 solicits one, 4xx rejects permanently.
func outcomeFor(err error) gateway.Outcome {
	var dup *ledger.DuplicateError
	switch {
	case errors.As(err, &dup):
		return gateway.Outcome{Disposition: gateway.DispositionAck, Status: http.StatusOK, Message: "duplicate notification"}
	case errors.Is(err, gateway.ErrGatewayNotFound):
		return gateway.Outcome{Disposition: gateway.DispositionReject, Status: http.StatusNotFound, Message: "unknown gateway"}
	case errors.Is(err, gateway.ErrGatewayDisabled):
		return gateway.Outcome{Disposition: gateway.DispositionReject, Status: http.StatusForbidden, Message: "gateway disabled"}
	case errors.Is(err, gateway.ErrVerificationIndeterminate):
		return gateway.Outcome{Disposition: gateway.DispositionRetry, Status: http.StatusServiceUnavailable, Message: "verification indeterminate, resend"}
	case errors.Is(err, gateway.ErrVerificationFailed):
		return gateway.Outcome{Disposition: gateway.DispositionReject, Status: http.StatusBadRequest, Message: "verification failed"}
	case errors.Is(err, gateway.ErrNormalizationFailed):
		return gateway.Outcome{Disposition: gateway.DispositionReject, Status: http.StatusBadRequest, Message: "payload missing identifying fields"}
	case errors.Is(err, order.ErrNotFound):
		return gateway.Outcome{Disposition: gateway.DispositionReject, Status: http.StatusBadRequest, Message: "unknown order"}
	case errors.Is(err, ledger.ErrInFlight):
		return gateway.Outcome{Disposition: gateway.DispositionRetry, Status: http.StatusServiceUnavailable, Message: "delivery in flight, resend"}
	case errors.Is(err, context.DeadlineExceeded):
		return gateway.Outcome{Disposition: gateway.DispositionRetry, Status: http.StatusServiceUnavailable, Message: "processing budget exceeded, resend"}
	}
	// Internal transient failures ride the gateway's retry schedule.
	return gateway.Outcome{Disposition: gateway.DispositionRetry, Status: http.StatusServiceUnavailable, Message: "temporary failure, resend"}
}

func (c *Coordinator) writeAudit(env *gateway.Envelope, result *Result) {
	entry := audit.Entry{
		ID:          env.RequestID,
		Gateway:     env.GatewayID,
		Stage:       string(result.Stage),
		Outcome:     dispositionName(result.Outcome.Disposition),
		ContentType: env.ContentType,
		Payload:     env.Body,
		ReceivedAt:  env.ReceivedAt,
	}
	if result.Err != nil {
		entry.Reason = result.Err.Error()
	}
	if result.Event != nil {
		entry.RefID = result.Event.ExternalRefID
		entry.OrderID = result.Event.OrderID
	}

	// Detached context: the call budget may already be spent.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.audit.Write(ctx, entry)
}

func dispositionName(d gateway.Disposition) string {
	switch d {
	case gateway.DispositionAck:
		return "acknowledged"
	case gateway.DispositionRetry:
		return "retry"
	}
	return "rejected"
}
