package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/credd-network/credd/internal/domain"
)

// ─── Reservation Operations ─────────────────────────────────────────────────

// InsertReservation persists a new provisional hold.
func (db *DB) InsertReservation(ctx context.Context, r *domain.Reservation) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO reservations (id, user_id, amount, status, saga_id, tx_id, created_at_ns, expires_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.Amount, string(r.Status), r.SagaID, r.TransactionID,
		r.CreatedAt.UnixNano(), r.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetReservation loads one reservation by id.
func (db *DB) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var r domain.Reservation
	var status string
	var createdNs, expiresNs int64
	err := db.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, status, saga_id, tx_id, created_at_ns, expires_at_ns
		FROM reservations WHERE id = ?
	`, id).Scan(&r.ID, &r.UserID, &r.Amount, &status, &r.SagaID, &r.TransactionID, &createdNs, &expiresNs)
	if err == sql.ErrNoRows {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	r.Status = domain.ReservationStatus(status)
	r.CreatedAt = time.Unix(0, createdNs)
	r.ExpiresAt = time.Unix(0, expiresNs)
	return &r, nil
}

// ReservationByTxID loads the reservation backing a ledger row.
func (db *DB) ReservationByTxID(ctx context.Context, txID string) (*domain.Reservation, error) {
	var r domain.Reservation
	var status string
	var createdNs, expiresNs int64
	err := db.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, status, saga_id, tx_id, created_at_ns, expires_at_ns
		FROM reservations WHERE tx_id = ?
	`, txID).Scan(&r.ID, &r.UserID, &r.Amount, &status, &r.SagaID, &r.TransactionID, &createdNs, &expiresNs)
	if err == sql.ErrNoRows {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation by tx: %w", err)
	}
	r.Status = domain.ReservationStatus(status)
	r.CreatedAt = time.Unix(0, createdNs)
	r.ExpiresAt = time.Unix(0, expiresNs)
	return &r, nil
}

// UpdateReservationStatus transitions a reservation from one status to
// another. Returns rows changed: 0 means the reservation was not in the
// expected state (a lost race, or an idempotent retry).
func (db *DB) UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus) (int64, error) {
	res, err := db.db.ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return 0, fmt.Errorf("update reservation status: %w", err)
	}
	return res.RowsAffected()
}

// ExpiredReservations lists ACTIVE reservations past their deadline.
func (db *DB) ExpiredReservations(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, user_id, amount, status, saga_id, tx_id, created_at_ns, expires_at_ns
		FROM reservations
		WHERE status = ? AND expires_at_ns < ?
		ORDER BY expires_at_ns ASC
	`, string(domain.ReservationActive), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		var status string
		var createdNs, expiresNs int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Amount, &status, &r.SagaID, &r.TransactionID, &createdNs, &expiresNs); err != nil {
			return nil, err
		}
		r.Status = domain.ReservationStatus(status)
		r.CreatedAt = time.Unix(0, createdNs)
		r.ExpiresAt = time.Unix(0, expiresNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Saga Operations ────────────────────────────────────────────────────────

// UpsertSaga inserts or replaces the saga state.
func (db *DB) UpsertSaga(ctx context.Context, s *domain.SagaState) error {
	steps, err := json.Marshal(s.StepTxIDs)
	if err != nil {
		return fmt.Errorf("marshal saga steps: %w", err)
	}
	reservations, err := json.Marshal(s.ReservationIDs)
	if err != nil {
		return fmt.Errorf("marshal saga reservations: %w", err)
	}
	_, err = db.db.ExecContext(ctx, `
		INSERT INTO sagas (id, user_id, status, step_tx_ids, reservation_ids, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status          = excluded.status,
			step_tx_ids     = excluded.step_tx_ids,
			reservation_ids = excluded.reservation_ids,
			updated_at_ns   = excluded.updated_at_ns
	`, s.ID, s.UserID, string(s.Status), string(steps), string(reservations),
		s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert saga: %w", err)
	}
	return nil
}

// GetSaga loads one saga by id.
func (db *DB) GetSaga(ctx context.Context, id string) (*domain.SagaState, error) {
	var s domain.SagaState
	var status, steps, reservations string
	var createdNs, updatedNs int64
	err := db.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, step_tx_ids, reservation_ids, created_at_ns, updated_at_ns
		FROM sagas WHERE id = ?
	`, id).Scan(&s.ID, &s.UserID, &status, &steps, &reservations, &createdNs, &updatedNs)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query saga: %w", err)
	}
	s.Status = domain.SagaStatus(status)
	s.CreatedAt = time.Unix(0, createdNs)
	s.UpdatedAt = time.Unix(0, updatedNs)
	if err := json.Unmarshal([]byte(steps), &s.StepTxIDs); err != nil {
		return nil, fmt.Errorf("unmarshal saga steps: %w", err)
	}
	if err := json.Unmarshal([]byte(reservations), &s.ReservationIDs); err != nil {
		return nil, fmt.Errorf("unmarshal saga reservations: %w", err)
	}
	return &s, nil
}
