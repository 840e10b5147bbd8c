package domain

import "time"

// ─── Reservations ───────────────────────────────────────────────────────────
// A reservation is a provisional hold on spendable balance, realized as a
// RESERVATION transaction. It resolves by commit (hold becomes final),
// release (compensating RELEASE transaction) or expiry (sweep releases it).

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Terminal reports whether the reservation can no longer change state.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCommitted || s == ReservationReleased || s == ReservationExpired
}

// Reservation is a provisional debit held pending a saga's outcome.
type Reservation struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Amount        int64             `json:"amount"` // millicredits held, positive
	Status        ReservationStatus `json:"status"`
	SagaID        string            `json:"saga_id"`
	TransactionID string            `json:"transaction_id"` // the RESERVATION ledger row
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// ExpiredAt reports whether the reservation is past its hold deadline.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ─── Sagas ──────────────────────────────────────────────────────────────────

// SagaStatus is the overall state of a multi-step saga.
type SagaStatus string

const (
	SagaPending      SagaStatus = "PENDING"
	SagaReserved     SagaStatus = "RESERVED"
	SagaCommitted    SagaStatus = "COMMITTED"
	SagaCompensating SagaStatus = "COMPENSATING"
	SagaCompleted    SagaStatus = "COMPLETED"
	SagaFailed       SagaStatus = "FAILED"
)

// SagaState records a saga's steps and its compensation plan.
type SagaState struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Status         SagaStatus `json:"status"`
	StepTxIDs      []string   `json:"step_tx_ids"`     // ordered ledger rows
	ReservationIDs []string   `json:"reservation_ids"` // to release on failure
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
