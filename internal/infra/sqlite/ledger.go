package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/credd-network/credd/internal/domain"
)

// ─── Ledger Operations ──────────────────────────────────────────────────────

// AppendCommitted persists the transaction and the updated projection as one
// atomic unit. The projection write carries an optimistic check on
// expectedVersion: if another writer advanced the chain since the caller's
// read, zero rows match and the whole unit rolls back with ErrChainIntegrity.
func (db *DB) AppendCommitted(ctx context.Context, tx *domain.CreditTransaction, proj *domain.BalanceProjection, expectedVersion int64) error {
	metaJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer sqlTx.Rollback()

	var lastRetry interface{}
	if tx.LastRetryAt != nil {
		lastRetry = tx.LastRetryAt.UnixNano()
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, type, amount, balance_before, balance_after, status,
			event_id, version, block_index, tx_hash, prev_tx_hash, signature,
			correlation_id, idempotency_key, saga_id,
			processing_ns, retry_count, last_retry_at_ns, metadata_json, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.BalanceBefore, tx.BalanceAfter, string(tx.Status),
		tx.EventID, tx.Version, tx.BlockIndex, tx.TransactionHash, tx.PreviousTransactionHash, tx.Signature,
		tx.CorrelationID, tx.IdempotencyKey, tx.SagaID,
		int64(tx.ProcessingDuration), tx.RetryCount, lastRetry, string(metaJSON), tx.CreatedAt.UnixNano(),
	)
	if err != nil {
		// The chain itself is the permanent idempotency record: the unique
		// key index outlives the bounded mapping table, so a retry arriving
		// after the mapping was purged lands here.
		if strings.Contains(err.Error(), "credit_transactions.idempotency_key") {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, tx.IdempotencyKey)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	var res sql.Result
	if expectedVersion == 0 {
		// First transaction for this user: the projection row must not
		// exist yet.
		res, err = sqlTx.ExecContext(ctx, `
			INSERT INTO balance_projections (user_id, balance, reserved, last_version, last_tx_hash, updated_at_ns)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING
		`, proj.UserID, proj.Balance, proj.Reserved, proj.LastVersion, proj.LastTransactionHash, proj.UpdatedAt.UnixNano())
	} else {
		res, err = sqlTx.ExecContext(ctx, `
			UPDATE balance_projections
			SET balance = ?, reserved = ?, last_version = ?, last_tx_hash = ?, updated_at_ns = ?
			WHERE user_id = ? AND last_version = ?
		`, proj.Balance, proj.Reserved, proj.LastVersion, proj.LastTransactionHash, proj.UpdatedAt.UnixNano(),
			proj.UserID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("update projection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("projection rows affected: %w", err)
	}
	if n != 1 {
		// The stored chain head moved underneath us. Under the per-user
		// lock this cannot be plain contention — surface it loudly.
		return domain.ErrChainIntegrity
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// GetTransaction loads one transaction by id.
func (db *DB) GetTransaction(ctx context.Context, id string) (*domain.CreditTransaction, error) {
	row := db.db.QueryRowContext(ctx, selectTx+` WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTransactionNotFound
	}
	return tx, err
}

// TransactionByKey loads the committed transaction bound to an idempotency
// key. Answers retries whose mapping-table entry has been purged.
func (db *DB) TransactionByKey(ctx context.Context, key string) (*domain.CreditTransaction, error) {
	row := db.db.QueryRowContext(ctx, selectTx+` WHERE idempotency_key = ?`, key)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTransactionNotFound
	}
	return tx, err
}

// UserChain returns every transaction for a user in ascending version order,
// as needed for full-chain verification.
func (db *DB) UserChain(ctx context.Context, userID string) ([]domain.CreditTransaction, error) {
	rows, err := db.db.QueryContext(ctx, selectTx+` WHERE user_id = ? ORDER BY version ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// RecentTransactions returns the newest transactions for a user, descending
// by version.
func (db *DB) RecentTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, selectTx+` WHERE user_id = ? ORDER BY version DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// GetProjection loads the user's balance projection. A user with no
// transactions yet gets the genesis projection, not an error.
func (db *DB) GetProjection(ctx context.Context, userID string) (*domain.BalanceProjection, error) {
	var p domain.BalanceProjection
	var updatedNs int64
	err := db.db.QueryRowContext(ctx, `
		SELECT user_id, balance, reserved, last_version, last_tx_hash, updated_at_ns
		FROM balance_projections WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.Balance, &p.Reserved, &p.LastVersion, &p.LastTransactionHash, &updatedNs)
	if err == sql.ErrNoRows {
		return domain.Genesis(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query projection: %w", err)
	}
	p.UpdatedAt = time.Unix(0, updatedNs)
	return &p, nil
}

// UserIDs lists every user with a balance projection, for full audits.
func (db *DB) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT user_id FROM balance_projections`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SettleReserved shifts the reserved counter, clamped at zero. The chain
// head is untouched: no version or hash changes.
func (db *DB) SettleReserved(ctx context.Context, userID string, delta int64, at time.Time) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE balance_projections
		SET reserved = MAX(0, reserved + ?), updated_at_ns = ?
		WHERE user_id = ?
	`, delta, at.UnixNano(), userID)
	if err != nil {
		return fmt.Errorf("settle reserved: %w", err)
	}
	return nil
}

// SpentBetween sums completed spend (deductions, negative adjustments and
// uncompensated reservations) for a user inside [from, to). RELEASE rows
// offset the holds they compensate, so a released reservation nets to zero.
// Used by the budget validator's rolling windows. The result is non-negative.
func (db *DB) SpentBetween(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var total sql.NullInt64
	err := db.db.QueryRowContext(ctx, `
		SELECT -SUM(amount) FROM credit_transactions
		WHERE user_id = ? AND status = ? AND (amount < 0 OR type = ?)
		  AND created_at_ns >= ? AND created_at_ns < ?
	`, userID, string(domain.StatusCompleted), string(domain.TxRelease),
		from.UnixNano(), to.UnixNano()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query spend: %w", err)
	}
	if !total.Valid || total.Int64 < 0 {
		return 0, nil
	}
	return total.Int64, nil
}

// ─── Row Scanning ───────────────────────────────────────────────────────────

const selectTx = `
	SELECT id, user_id, type, amount, balance_before, balance_after, status,
	       event_id, version, block_index, tx_hash, prev_tx_hash, signature,
	       correlation_id, idempotency_key, saga_id,
	       processing_ns, retry_count, last_retry_at_ns, metadata_json, created_at_ns
	FROM credit_transactions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.CreditTransaction, error) {
	var tx domain.CreditTransaction
	var typ, status, metaJSON string
	var processingNs, createdNs int64
	var lastRetryNs sql.NullInt64

	err := row.Scan(
		&tx.ID, &tx.UserID, &typ, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter, &status,
		&tx.EventID, &tx.Version, &tx.BlockIndex, &tx.TransactionHash, &tx.PreviousTransactionHash, &tx.Signature,
		&tx.CorrelationID, &tx.IdempotencyKey, &tx.SagaID,
		&processingNs, &tx.RetryCount, &lastRetryNs, &metaJSON, &createdNs,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(typ)
	tx.Status = domain.TransactionStatus(status)
	tx.ProcessingDuration = time.Duration(processingNs)
	tx.CreatedAt = time.Unix(0, createdNs)
	if lastRetryNs.Valid {
		t := time.Unix(0, lastRetryNs.Int64)
		tx.LastRetryAt = &t
	}
	if err := json.Unmarshal([]byte(metaJSON), &tx.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}
