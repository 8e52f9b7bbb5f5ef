package conn

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the SQLite database used for orders, payments, the
// idempotency ledger and the audit log, configured for concurrent webhook
// delivery: WAL journaling plus immediate transactions so the reserve
// primitive stays atomic under multiple connections.
func Open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=20000&_txlock=immediate&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return db, nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'cart',
		gateway TEXT NOT NULL DEFAULT '',
		gateway_ref TEXT NOT NULL DEFAULT '',
		buyer_email TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT 'USD',
		gross_items REAL NOT NULL DEFAULT 0,
		tax REAL NOT NULL DEFAULT 0,
		shipping REAL NOT NULL DEFAULT 0,
		handling REAL NOT NULL DEFAULT 0,
		total REAL NOT NULL DEFAULT 0,
		paid_to_date REAL NOT NULL DEFAULT 0,
		billing_address TEXT NOT NULL DEFAULT '{}',
		shipping_address TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		gateway TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		amount REAL NOT NULL,
		is_money INTEGER NOT NULL DEFAULT 1,
		method TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(gateway, ref_id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id);

	CREATE TABLE IF NOT EXISTS idempotency (
		gateway TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		payment_id INTEGER,
		state TEXT NOT NULL DEFAULT 'pending',
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(gateway, ref_id)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		gateway TEXT NOT NULL,
		ref_id TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		payload BLOB,
		received_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_gateway_ref ON audit_log(gateway, ref_id);
	CREATE INDEX IF NOT EXISTS idx_audit_received ON audit_log(gateway, received_at);
	`

	_, err := db.Exec(query)
	return err
}

// Retry executes a database operation with exponential backoff on
// SQLITE_BUSY, which shows up when several webhook deliveries hit the
// ledger at once.
func Retry(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked") {
			lastErr = err
			if attempt < maxRetries {
				backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
				log.Printf("sqlite busy, retrying in %v (attempt %d/%d)", backoff, attempt+1, maxRetries+1)
				time.Sleep(backoff)
				continue
			}
		} else {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}
