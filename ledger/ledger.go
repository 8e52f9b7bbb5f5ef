// Package ledger owns the money-movement records: the append-only payment
// log and the idempotency ledger guaranteeing each external reference id is
// applied at most once despite at-least-once gateway delivery.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInFlight means another delivery of the same notification is being
// processed right now. The gateway is asked to resend later rather than
// risk a double apply.
var ErrInFlight = errors.New("notification already in flight")

// DuplicateError reports an already-committed (gateway, ref_id) pair; the
// notification is acknowledged as a no-op so the gateway stops retrying.
type DuplicateError struct {
	PaymentID int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate notification, already applied as payment %d", e.PaymentID)
}

// Ledger is the durable reserve-then-commit primitive. Atomicity comes from
// the storage layer (conditional insert on the primary key), not in-process
// locks, because the same notification arrives over concurrent connections
// and the service runs as multiple replicas.
type Ledger struct {
	db        *sql.DB
	ttl       time.Duration
	prefilter Deduper
}

// NewLedger creates a ledger. ttl bounds how long a pending reservation can
// block retries after a crash between reserve and commit.
func NewLedger(db *sql.DB, ttl time.Duration, prefilter Deduper) *Ledger {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if prefilter == nil {
		prefilter = NopDeduper{}
	}
	return &Ledger{db: db, ttl: ttl, prefilter: prefilter}
}

// Reservation is a successful reserve, waiting to be committed with the
// payment id or released on failure.
type Reservation struct {
	Gateway string
	RefID   string
	ledger  *Ledger
}

// Reserve claims (gateway, refID). Exactly one concurrent caller wins; the
// rest see DuplicateError (committed earlier) or ErrInFlight (another
// delivery holds a live pending reservation).
func (l *Ledger) Reserve(ctx context.Context, gateway, refID string) (*Reservation, error) {
	// Advisory fast path; the durable ledger below stays authoritative.
	if seen, err := l.prefilter.Seen(ctx, gateway+":"+refID); err == nil && seen {
		if dup := l.lookupCommitted(ctx, gateway, refID); dup != nil {
			return nil, dup
		}
	}

	now := time.Now().UTC()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO idempotency (gateway, ref_id, state, expires_at)
		VALUES (?, ?, 'pending', ?)
		ON CONFLICT(gateway, ref_id) DO NOTHING`,
		gateway, refID, now.Add(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("reserve %s/%s: %w", gateway, refID, err)
	}

	if affected, _ := res.RowsAffected(); affected == 1 {
		return &Reservation{Gateway: gateway, RefID: refID, ledger: l}, nil
	}

	return l.takeOver(ctx, gateway, refID, now)
}

// takeOver inspects an existing ledger row and, when its pending
// reservation has expired, claims it with a conditional update.
func (l *Ledger) takeOver(ctx context.Context, gateway, refID string, now time.Time) (*Reservation, error) {
	var state string
	var paymentID sql.NullInt64
	var expiresAt time.Time

	err := l.db.QueryRowContext(ctx, `
		SELECT state, payment_id, expires_at FROM idempotency
		WHERE gateway = ? AND ref_id = ?`,
		gateway, refID).Scan(&state, &paymentID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Row vanished between insert and select; a concurrent
			// Release raced us. Ask for a resend.
			return nil, ErrInFlight
		}
		return nil, fmt.Errorf("inspect reservation %s/%s: %w", gateway, refID, err)
	}

	if state == "committed" {
		return nil, &DuplicateError{PaymentID: paymentID.Int64}
	}
	if expiresAt.After(now) {
		return nil, ErrInFlight
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE idempotency SET expires_at = ?
		WHERE gateway = ? AND ref_id = ? AND state = 'pending' AND expires_at <= ?`,
		now.Add(l.ttl), gateway, refID, now)
	if err != nil {
		return nil, fmt.Errorf("reclaim reservation %s/%s: %w", gateway, refID, err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return nil, ErrInFlight
	}

	return &Reservation{Gateway: gateway, RefID: refID, ledger: l}, nil
}

func (l *Ledger) lookupCommitted(ctx context.Context, gateway, refID string) *DuplicateError {
	var paymentID sql.NullInt64
	err := l.db.QueryRowContext(ctx, `
		SELECT payment_id FROM idempotency
		WHERE gateway = ? AND ref_id = ? AND state = 'committed'`,
		gateway, refID).Scan(&paymentID)
	if err != nil {
		return nil
	}
	return &DuplicateError{PaymentID: paymentID.Int64}
}

// Commit finalizes the reservation with the recorded payment id.
func (r *Reservation) Commit(ctx context.Context, paymentID int64) error {
	res, err := r.ledger.db.ExecContext(ctx, `
		UPDATE idempotency SET state = 'committed', payment_id = ?
		WHERE gateway = ? AND ref_id = ? AND state = 'pending'`,
		paymentID, r.Gateway, r.RefID)
	if err != nil {
		return fmt.Errorf("commit reservation %s/%s: %w", r.Gateway, r.RefID, err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return fmt.Errorf("commit reservation %s/%s: reservation lost", r.Gateway, r.RefID)
	}
	return nil
}

// Release drops a pending reservation so the gateway's retry can start
// over immediately instead of waiting out the expiry.
func (r *Reservation) Release(ctx context.Context) error {
	_, err := r.ledger.db.ExecContext(ctx, `
		DELETE FROM idempotency
		WHERE gateway = ? AND ref_id = ? AND state = 'pending'`,
		r.Gateway, r.RefID)
	return err
}
