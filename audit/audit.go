// Package audit persists the replay trail: every raw inbound payload, its
// verification outcome and the dispatch stage reached. Failures here are
// logged, never propagated; audit must not break payment processing.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glFusion/shop-sub005/infra/logger"
	"github.com/glFusion/shop-sub005/infra/opensearch"
)

// Entry is one audit record, keyed by (gateway, received_at, ref_id).
type Entry struct {
	ID          string    `json:"id"`
	Gateway     string    `json:"gateway"`
	RefID       string    `json:"refId,omitempty"`
	OrderID     string    `json:"orderId,omitempty"`
	Stage       string    `json:"stage"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Store writes entries to SQLite and, when enabled, indexes them to
// OpenSearch for search.
type Store struct {
	db *sql.DB
	os *opensearch.Logger
}

// NewStore creates an audit store. osLogger may be nil.
func NewStore(db *sql.DB, osLogger *opensearch.Logger) *Store {
	return &Store{db: db, os: osLogger}
}

// Write persists one entry.
func (s *Store) Write(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, gateway, ref_id, order_id, stage, outcome, reason, content_type, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Gateway, e.RefID, e.OrderID, e.Stage, e.Outcome, e.Reason, e.ContentType, e.Payload, e.ReceivedAt)
	if err != nil {
		logger.Error("audit write failed", err, logger.LogContext{
			Gateway: e.Gateway,
			OrderID: e.OrderID,
			Fields:  map[string]any{"stage": e.Stage, "ref_id": e.RefID},
		})
	}

	if s.os != nil {
		go func(e Entry) {
			osCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.os.LogNotification(osCtx, opensearch.NotificationLog{
				Timestamp:   e.ReceivedAt,
				Gateway:     e.Gateway,
				RefID:       e.RefID,
				OrderID:     e.OrderID,
				RequestID:   e.ID,
				Stage:       e.Stage,
				Outcome:     e.Outcome,
				Reason:      e.Reason,
				ContentType: e.ContentType,
				Payload:     string(e.Payload),
			})
		}(e)
	}
}

// Recent returns the latest entries for a gateway.
func (s *Store) Recent(ctx context.Context, gatewayID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gateway, ref_id, order_id, stage, outcome, reason, content_type, payload, received_at
		FROM audit_log WHERE gateway = ? ORDER BY received_at DESC LIMIT ?`,
		gatewayID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit query for %s: %w", gatewayID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByRef returns every entry recorded for one external reference id, the
// replay unit for a disputed notification.
func (s *Store) ByRef(ctx context.Context, gatewayID, refID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gateway, ref_id, order_id, stage, outcome, reason, content_type, payload, received_at
		FROM audit_log WHERE gateway = ? AND ref_id = ? ORDER BY received_at`,
		gatewayID, refID)
	if err != nil {
		return nil, fmt.Errorf("audit query for %s/%s: %w", gatewayID, refID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Gateway, &e.RefID, &e.OrderID, &e.Stage, &e.Outcome,
			&e.Reason, &e.ContentType, &e.Payload, &e.ReceivedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
