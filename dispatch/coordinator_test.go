package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glFusion/shop-sub005/audit"
	"github.com/glFusion/shop-sub005/gateway"
	"github.com/glFusion/shop-sub005/gateway/testpay"
	"github.com/glFusion/shop-sub005/infra/config"
	"github.com/glFusion/shop-sub005/infra/conn"
	"github.com/glFusion/shop-sub005/ledger"
	"github.com/glFusion/shop-sub005/notify"
	"github.com/glFusion/shop-sub005/order"
)

type fixture struct {
	db          *sql.DB
	coordinator *Coordinator
	recorder    *ledger.Recorder
	orders      *order.Store
	auditStore  *audit.Store
	registry    *gateway.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := conn.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := gateway.NewRegistry()
	registry.RegisterFactory("test", testpay.NewStrategy)
	require.NoError(t, registry.Configure(gateway.Gateway{ID: "test", Sandbox: true, Enabled: true}))

	recorder := ledger.NewRecorder(db)
	orders := order.NewStore(db)
	auditStore := audit.NewStore(db, nil)
	machine := order.NewMachine(config.LoadStatusFlags(), &notify.CollectNotifier{})

	return &fixture{
		db:         db,
		recorder:   recorder,
		orders:     orders,
		registry:   registry,
		auditStore: auditStore,
		coordinator: New(registry, ledger.NewLedger(db, time.Minute, nil), recorder,
			orders, machine, auditStore, 10*time.Second),
	}
}

func (f *fixture) createOrder(t *testing.T, id string, total float64) {
	t.Helper()
	require.NoError(t, f.orders.CreateOrder(context.Background(), &order.Order{
		ID: id, Status: order.StatusPending, Total: total, Currency: "USD",
	}))
}

func notification(refID, orderID, amount string) *gateway.Envelope {
	fields := url.Values{}
	fields.Set("event", "payment")
	fields.Set("ref_id", refID)
	fields.Set("order_id", orderID)
	fields.Set("amount", amount)
	return &gateway.Envelope{
		GatewayID:   "test",
		RequestID:   "req-" + refID,
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(fields.Encode()),
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestDispatchFullPayment(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1", 50)

	result := f.coordinator.Dispatch(context.Background(), "test", notification("TX1", "order-1", "50.00"))
	require.NoError(t, result.Err)
	assert.Equal(t, StageAcknowledged, result.Stage)
	assert.Equal(t, http.StatusOK, result.Outcome.Status)
	require.NotNil(t, result.Transition)
	assert.True(t, result.Transition.Changed)

	ord, err := f.orders.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, ord.Status)
	assert.InDelta(t, 50.0, ord.PaidToDate, 0.0001)
}

func TestDispatchDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1", 50)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := f.coordinator.Dispatch(ctx, "test", notification("TX1", "order-1", "50.00"))
		assert.Equal(t, http.StatusOK, result.Outcome.Status, "delivery %d", i)
		assert.Equal(t, gateway.DispositionAck, result.Outcome.Disposition, "delivery %d", i)
	}

	history, err := f.recorder.History(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	ord, err := f.orders.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, ord.PaidToDate, 0.0001)
}

// flakyOrderStore fails SaveOrder a configured number of times before
// delegating to the real store.
type flakyOrderStore struct {
	*order.Store
	failures int
}

func (s *flakyOrderStore) SaveOrder(ctx context.Context, ord *order.Order) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.Store.SaveOrder(ctx, ord)
}

func TestDispatchResendHealsUnsavedOrder(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1", 50)
	ctx := context.Background()

	store := &flakyOrderStore{Store: f.orders, failures: 1}
	machine := order.NewMachine(config.LoadStatusFlags(), &notify.CollectNotifier{})
	coordinator := New(f.registry, ledger.NewLedger(f.db, time.Minute, nil), f.recorder,
		store, machine, f.auditStore, 10*time.Second)

	// The payment is recorded and the reservation committed, then the
	// order save fails; the gateway is asked to resend.
	first := coordinator.Dispatch(ctx, "test", notification("TX1", "order-1", "50.00"))
	assert.Equal(t, gateway.DispositionRetry, first.Outcome.Disposition)
	assert.Equal(t, http.StatusServiceUnavailable, first.Outcome.Status)

	// The resend dedups against the committed reservation but must still
	// re-evaluate the order from the payment history before acking.
	resend := coordinator.Dispatch(ctx, "test", notification("TX1", "order-1", "50.00"))
	assert.Equal(t, gateway.DispositionAck, resend.Outcome.Disposition)
	assert.Equal(t, http.StatusOK, resend.Outcome.Status)

	ord, err := f.orders.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, ord.Status)
	assert.InDelta(t, 50.0, ord.PaidToDate, 0.0001)

	history, err := f.recorder.History(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDispatchUnknownEventAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1", 50)

	fields := url.Values{}
	fields.Set("event", "something_new")
	fields.Set("ref_id", "TX9")
	env := &gateway.Envelope{
		GatewayID:   "test",
		RequestID:   "req-TX9",
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(fields.Encode()),
		ReceivedAt:  time.Now().UTC(),
	}

	result := f.coordinator.Dispatch(context.Background(), "test", env)
	assert.Equal(t, StageAcknowledged, result.Stage)
	assert.Equal(t, http.StatusOK, result.Outcome.Status)

	history, err := f.recorder.History(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDispatchUnknownGateway(t *testing.T) {
	f := newFixture(t)
	result := f.coordinator.Dispatch(context.Background(), "nope", notification("TX1", "order-1", "1"))
	assert.Equal(t, http.StatusNotFound, result.Outcome.Status)
	assert.Equal(t, gateway.DispositionReject, result.Outcome.Disposition)
}

func TestDispatchDisabledGateway(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Configure(gateway.Gateway{ID: "test", Sandbox: true, Enabled: false}))

	result := f.coordinator.Dispatch(context.Background(), "test", notification("TX1", "order-1", "1"))
	assert.Equal(t, http.StatusForbidden, result.Outcome.Status)
}

func TestDispatchUnknownOrder(t *testing.T) {
	f := newFixture(t)
	result := f.coordinator.Dispatch(context.Background(), "test", notification("TX1", "ghost", "10"))
	assert.Equal(t, http.StatusBadRequest, result.Outcome.Status)
	assert.Equal(t, gateway.DispositionReject, result.Outcome.Disposition)

	// The failed dispatch released its reservation; a retry after the order
	// appears succeeds.
	f.createOrder(t, "ghost", 10)
	result = f.coordinator.Dispatch(context.Background(), "test", notification("TX1", "ghost", "10"))
	require.NoError(t, result.Err)
	assert.Equal(t, StageAcknowledged, result.Stage)
}

func TestDispatchRefund(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1", 50)
	ctx := context.Background()

	result := f.coordinator.Dispatch(ctx, "test", notification("TX1", "order-1", "50.00"))
	require.NoError(t, result.Err)

	fields := url.Values{}
	fields.Set("event", "refund")
	fields.Set("ref_id", "TX2")
	fields.Set("order_id", "order-1")
	fields.Set("amount", "50.00")
	env := &gateway.Envelope{
		GatewayID:   "test",
		RequestID:   "req-TX2",
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(fields.Encode()),
		ReceivedAt:  time.Now().UTC(),
	}
	result = f.coordinator.Dispatch(ctx, "test", env)
	require.NoError(t, result.Err)
	require.NotNil(t, result.Payment)
	assert.InDelta(t, -50.0, result.Payment.Amount, 0.0001)

	ord, err := f.orders.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, ord.Status)
	assert.InDelta(t, 0.0, ord.PaidToDate, 0.0001)
}

func TestDispatchStaleNotificationAcked(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1", 50)
	ctx := context.Background()

	result := f.coordinator.Dispatch(ctx, "test", notification("TX1", "order-1", "50.00"))
	require.NoError(t, result.Err)

	// Operator closes the order out of band.
	ord, err := f.orders.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	ord.Status = order.StatusClosed
	require.NoError(t, f.orders.SaveOrder(ctx, ord))

	// A further payment notification is stale: acknowledged, recorded, but
	// it does not reopen the order.
	result = f.coordinator.Dispatch(ctx, "test", notification("TX2", "order-1", "5.00"))
	assert.Equal(t, http.StatusOK, result.Outcome.Status)
	assert.Equal(t, gateway.DispositionAck, result.Outcome.Disposition)
	assert.ErrorIs(t, result.Err, order.ErrTransitionRejected)

	ord, err = f.orders.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusClosed, ord.Status)
}

func TestDispatchVerificationOutcomes(t *testing.T) {
	f := newFixture(t)
	f.registry.RegisterFactory("strict", func(gw *gateway.Gateway) (*gateway.Strategy, error) {
		return &gateway.Strategy{
			Verify: func(context.Context, *gateway.Gateway, *gateway.Envelope) (*gateway.VerifiedPayload, error) {
				if gw.Credential("mode") == "indeterminate" {
					return nil, gateway.Indeterminatef("upstream unreachable")
				}
				return nil, gateway.VerificationFailedf("bad signature")
			},
			Normalize: func(*gateway.Gateway, *gateway.VerifiedPayload) (*gateway.NotificationEvent, error) {
				return nil, nil
			},
			Respond: gateway.RespondJSON,
		}, nil
	})

	require.NoError(t, f.registry.Configure(gateway.Gateway{ID: "strict", Enabled: true}))
	result := f.coordinator.Dispatch(context.Background(), "strict", notification("TX1", "order-1", "1"))
	assert.Equal(t, http.StatusBadRequest, result.Outcome.Status)

	require.NoError(t, f.registry.Configure(gateway.Gateway{
		ID: "strict", Enabled: true, Credentials: map[string]string{"mode": "indeterminate"},
	}))
	result = f.coordinator.Dispatch(context.Background(), "strict", notification("TX1", "order-1", "1"))
	assert.Equal(t, http.StatusServiceUnavailable, result.Outcome.Status)
	assert.Equal(t, gateway.DispositionRetry, result.Outcome.Disposition)
}

func TestDispatchWritesAudit(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1", 50)
	ctx := context.Background()

	f.coordinator.Dispatch(ctx, "test", notification("TX1", "order-1", "50.00"))
	f.coordinator.Dispatch(ctx, "nope", notification("TX2", "order-1", "1"))

	entries, err := f.auditStore.Recent(ctx, "test", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(StageAcknowledged), entries[0].Stage)
	assert.Equal(t, "TX1", entries[0].RefID)

	entries, err = f.auditStore.Recent(ctx, "nope", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rejected", entries[0].Outcome)
}
