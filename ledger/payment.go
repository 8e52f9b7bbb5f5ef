package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Payment is one recorded movement of value against an order. Rows are
// immutable once written; corrections are new negative or positive entries,
// never edits.
type Payment struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"orderId"`
	Gateway   string    `json:"gateway"`
	RefID     string    `json:"refId"`
	Amount    float64   `json:"amount"` // negative for refunds
	IsMoney   bool      `json:"isMoney"`
	Method    string    `json:"method,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recorder appends payments. Exactly-once per (gateway, ref_id) is owned by
// the IdempotencyLedger; the UNIQUE constraint on payments is a backstop.
// Recording triggers no side effects beyond persistence: the status
// transition is a separate step so the payment history stays a pure audit
// log.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a payment recorder.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends a payment and returns it with its assigned id.
func (r *Recorder) Record(ctx context.Context, p Payment) (*Payment, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (order_id, gateway, ref_id, amount, is_money, method, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OrderID, p.Gateway, p.RefID, p.Amount, p.IsMoney, p.Method, p.Comment, p.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			if existing, lookupErr := r.Lookup(ctx, p.Gateway, p.RefID); lookupErr == nil {
				return nil, &DuplicateError{PaymentID: existing.ID}
			}
		}
		return nil, fmt.Errorf("record payment %s/%s: %w", p.Gateway, p.RefID, err)
	}

	p.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record payment %s/%s: %w", p.Gateway, p.RefID, err)
	}
	return &p, nil
}

// Lookup returns the payment recorded for (gateway, refID).
func (r *Recorder) Lookup(ctx context.Context, gateway, refID string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, gateway, ref_id, amount, is_money, method, comment, created_at
		FROM payments WHERE gateway = ? AND ref_id = ?`,
		gateway, refID)
	return scanPayment(row)
}

// History returns every payment for an order in durable insertion order,
// the order they are applied in regardless of how the gateway delivered
// them.
func (r *Recorder) History(ctx context.Context, orderID string) ([]Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, gateway, ref_id, amount, is_money, method, comment, created_at
		FROM payments WHERE order_id = ? ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("payment history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var history []Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *p)
	}
	return history, rows.Err()
}

// PaidToDate sums the cash payments of a history. Non-cash credits such as
// gift cards carry is_money=false and do not count toward the cash total.
func PaidToDate(history []Payment) float64 {
	var sum float64
	for _, p := range history {
		if p.IsMoney {
			sum += p.Amount
		}
	}
	return sum
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row *sql.Row) (*Payment, error) {
	return scanPaymentRow(row)
}

func scanPaymentRow(row rowScanner) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Gateway, &p.RefID, &p.Amount, &p.IsMoney, &p.Method, &p.Comment, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
