package order

import (
	"context"
	"errors"

	"github.com/glFusion/shop-sub005/gateway"
	"github.com/glFusion/shop-sub005/infra/config"
	"github.com/glFusion/shop-sub005/infra/logger"
	"github.com/glFusion/shop-sub005/ledger"
	"github.com/glFusion/shop-sub005/notify"
)

// ErrTransitionRejected marks a stale or out-of-order notification whose
// target state lies behind the order's current state. It is a logged no-op,
// acknowledged to the gateway as success.
var ErrTransitionRejected = errors.New("transition rejected")

// centEpsilon absorbs float drift well below the half-cent boundary.
const centEpsilon = 1e-6

// Machine applies reconciled notification events to orders. The transition
// rule re-evaluates from the full payment history rather than applying
// event-by-event deltas, so duplicate and out-of-order delivery converge on
// the same final state.
type Machine struct {
	flags    map[Status]config.StatusFlags
	notifier notify.Notifier
}

// NewMachine builds a machine from the configured status flag table.
func NewMachine(flags map[string]config.StatusFlags, notifier notify.Notifier) *Machine {
	byStatus := make(map[Status]config.StatusFlags, len(flags))
	for name, f := range flags {
		byStatus[Status(name)] = f
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Machine{flags: byStatus, notifier: notifier}
}

// Flags returns the configured flags for a status.
func (m *Machine) Flags(s Status) config.StatusFlags {
	return m.flags[s]
}

// Result describes the outcome of applying one event.
type Result struct {
	Previous   Status  `json:"previous"`
	Current    Status  `json:"current"`
	Changed    bool    `json:"changed"`
	PaidToDate float64 `json:"paidToDate"`
}

// Apply recomputes the order's paid-to-date from history and transitions
// its status for the given event. The caller persists the order afterwards;
// Apply itself only mutates the aggregate in memory and emits intents on a
// real transition.
func (m *Machine) Apply(ctx context.Context, ord *Order, ev *gateway.NotificationEvent, history []ledger.Payment, gw *gateway.Gateway) (*Result, error) {
	paid := ledger.PaidToDate(history)
	prev := ord.Status
	ord.PaidToDate = paid

	target, err := m.target(ord, ev, paid, gw)
	if err != nil {
		return nil, err
	}

	result := &Result{Previous: prev, Current: target, PaidToDate: paid}
	if target == prev {
		return result, nil
	}

	if prev.IsTerminal() {
		logger.Warn("transition out of terminal status rejected", logger.LogContext{
			Gateway: ev.SourceGateway,
			OrderID: ord.ID,
			Fields:  map[string]any{"from": string(prev), "to": string(target)},
		})
		return nil, ErrTransitionRejected
	}

	if !isEscape(target) && forwardRank[target] < forwardRank[prev] {
		logger.Warn("backward transition rejected", logger.LogContext{
			Gateway: ev.SourceGateway,
			OrderID: ord.ID,
			Fields:  map[string]any{"from": string(prev), "to": string(target)},
		})
		return nil, ErrTransitionRejected
	}

	ord.Status = target
	result.Current = target
	result.Changed = true

	m.emitIntents(ctx, ord, ev, prev, target)
	return result, nil
}

// target derives the state the event argues for, independent of delivery
// order.
func (m *Machine) target(ord *Order, ev *gateway.NotificationEvent, paid float64, gw *gateway.Gateway) (Status, error) {
	switch ev.Kind {
	case gateway.EventPaymentReceived, gateway.EventInvoicePaid:
		if paid+centEpsilon >= ord.Total {
			return StatusProcessing, nil
		}
		return StatusPending, nil

	case gateway.EventRefund:
		if paid <= centEpsilon {
			// Fully refunded; never silently reverts to pending.
			return StatusRefunded, nil
		}
		return ord.Status, nil

	case gateway.EventInvoiceCreated:
		if gw == nil || !gw.Supports(gateway.CapTerms) {
			return "", ErrTransitionRejected
		}
		if ord.Status == StatusCart || ord.Status == StatusPending {
			return StatusInvoiced, nil
		}
		return "", ErrTransitionRejected
	}

	return ord.Status, nil
}

func (m *Machine) emitIntents(ctx context.Context, ord *Order, ev *gateway.NotificationEvent, prev, current Status) {
	m.notifier.Notify(ctx, notify.Intent{
		Kind:    notify.IntentBuyerNotice,
		OrderID: ord.ID,
		Event:   string(ev.Kind),
		Status:  string(current),
	})
	m.notifier.Notify(ctx, notify.Intent{
		Kind:    notify.IntentAdminNotice,
		OrderID: ord.ID,
		Event:   string(ev.Kind),
		Status:  string(current),
	})

	// Affiliate credit fires when the order first becomes a countable sale.
	if m.flags[current].OrderValid && !m.flags[prev].OrderValid {
		m.notifier.Notify(ctx, notify.Intent{
			Kind:    notify.IntentAffiliateCredit,
			OrderID: ord.ID,
			Event:   string(ev.Kind),
			Status:  string(current),
		})
	}
}
