package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ─── Idempotency Operations ─────────────────────────────────────────────────

// GetIdempotencyResult returns the committed transaction id recorded under
// key, or ok=false if the key has never completed.
func (db *DB) GetIdempotencyResult(ctx context.Context, key string) (string, bool, error) {
	var txID string
	err := db.db.QueryRowContext(ctx,
		`SELECT tx_id FROM idempotency_keys WHERE key = ?`, key,
	).Scan(&txID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query idempotency key: %w", err)
	}
	return txID, true, nil
}

// PutIdempotencyResult records the terminal result for a key. A key maps to
// at most one result ever; re-recording the same pair is a no-op.
func (db *DB) PutIdempotencyResult(ctx context.Context, key, txID string, at time.Time) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, tx_id, recorded_at_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, txID, at.UnixNano())
	if err != nil {
		return fmt.Errorf("record idempotency key: %w", err)
	}
	return nil
}

// AllIdempotencyKeys returns every retained key. Used once at startup to
// warm the write path's negative cache.
func (db *DB) AllIdempotencyKeys(ctx context.Context) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT key FROM idempotency_keys`)
	if err != nil {
		return nil, fmt.Errorf("query idempotency keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PurgeIdempotencyBefore drops records older than cutoff. The retention
// window bounds this table only; the chain's unique key index remains the
// durable record, so a retry past the window is still answered with the
// original transaction rather than applied again.
func (db *DB) PurgeIdempotencyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE recorded_at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
