package conn

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesSchema(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "data", "shop.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"orders", "payments", "idempotency", "audit_log"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO orders (id, total) VALUES ('ORD-1', 10.0)")
	require.NoError(t, err)
	db.Close()

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM orders").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRetrySucceedsAfterBusy(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, 5)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	wantErr := errors.New("UNIQUE constraint failed")
	err := Retry(func() error {
		attempts++
		return wantErr
	}, 5)

	assert.Equal(t, wantErr, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsBudget(t *testing.T) {
	err := Retry(func() error {
		return errors.New("SQLITE_BUSY")
	}, 2)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 retries")
}
