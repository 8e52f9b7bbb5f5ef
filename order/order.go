// Package order holds the order aggregate and the status machine that
// applies reconciled payment events to it.
package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusCart       Status = "cart"
	StatusPending    Status = "pending"
	StatusInvoiced   Status = "invoiced"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusClosed     Status = "closed"
	StatusCanceled   Status = "canceled"
	StatusRefunded   Status = "refunded"
)

// forwardRank orders the normal forward flow. The invoiced side branch
// shares pending's rank; canceled and refunded are escapes and carry no
// rank.
var forwardRank = map[Status]int{
	StatusCart:       0,
	StatusPending:    1,
	StatusInvoiced:   1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusClosed:     4,
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusRefunded
}

func isEscape(s Status) bool {
	return s == StatusCanceled || s == StatusRefunded
}

// ErrNotFound is returned when an order id resolves to nothing; a gateway
// referenced an order this store never created, a data-integrity concern.
var ErrNotFound = errors.New("order not found")

// Address is a billing or shipping address, opaque to the pipeline.
type Address struct {
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
	Address1 string `json:"address1,omitempty"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Zip      string `json:"zip,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Order is the aggregate the status machine mutates. It is created when a
// cart is finalized (outside this core) and never hard-deleted;
// cancellation is a status, not a row deletion.
type Order struct {
	ID         string  `json:"id"`
	Status     Status  `json:"status"`
	Gateway    string  `json:"gateway"`
	GatewayRef string  `json:"gatewayRef"` // the gateway's own order/invoice id
	BuyerEmail string  `json:"buyerEmail,omitempty"`
	Currency   string  `json:"currency"`
	GrossItems float64 `json:"grossItems"`
	Tax        float64 `json:"tax"`
	Shipping   float64 `json:"shipping"`
	Handling   float64 `json:"handling"`
	Total      float64 `json:"total"`
	PaidToDate float64 `json:"paidToDate"` // derived, cash payments only
	Billing    Address `json:"billing"`
	ShipTo     Address `json:"shipTo"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists orders in SQLite. It implements the order read/write
// collaborator consumed by the status machine.
type Store struct {
	db *sql.DB
}

// NewStore creates an order store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetOrder loads one order.
func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	var ord Order
	var billing, shipTo string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, gateway, gateway_ref, buyer_email, currency,
		       gross_items, tax, shipping, handling, total, paid_to_date,
		       billing_address, shipping_address, created_at, updated_at
		FROM orders WHERE id = ?`, id).Scan(
		&ord.ID, &ord.Status, &ord.Gateway, &ord.GatewayRef, &ord.BuyerEmail, &ord.Currency,
		&ord.GrossItems, &ord.Tax, &ord.Shipping, &ord.Handling, &ord.Total, &ord.PaidToDate,
		&billing, &shipTo, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}

	_ = json.Unmarshal([]byte(billing), &ord.Billing)
	_ = json.Unmarshal([]byte(shipTo), &ord.ShipTo)
	return &ord, nil
}

// SaveOrder persists the mutable aggregate fields.
func (s *Store) SaveOrder(ctx context.Context, ord *Order) error {
	ord.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, paid_to_date = ?, gateway_ref = ?, updated_at = ?
		WHERE id = ?`,
		ord.Status, ord.PaidToDate, ord.GatewayRef, ord.UpdatedAt, ord.ID)
	if err != nil {
		return fmt.Errorf("save order %s: %w", ord.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return fmt.Errorf("save order %s: %w", ord.ID, ErrNotFound)
	}
	return nil
}

// CreateOrder inserts a finalized cart. The trigger lives outside this
// core; the insert exists for the collaborating checkout service and tests.
func (s *Store) CreateOrder(ctx context.Context, ord *Order) error {
	if ord.Status == "" {
		ord.Status = StatusCart
	}
	now := time.Now().UTC()
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = now
	}
	ord.UpdatedAt = now

	billing, _ := json.Marshal(ord.Billing)
	shipTo, _ := json.Marshal(ord.ShipTo)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, gateway, gateway_ref, buyer_email, currency,
		                    gross_items, tax, shipping, handling, total, paid_to_date,
		                    billing_address, shipping_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ord.ID, ord.Status, ord.Gateway, ord.GatewayRef, ord.BuyerEmail, ord.Currency,
		ord.GrossItems, ord.Tax, ord.Shipping, ord.Handling, ord.Total, ord.PaidToDate,
		string(billing), string(shipTo), ord.CreatedAt, ord.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create order %s: %w", ord.ID, err)
	}
	return nil
}
