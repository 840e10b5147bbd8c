// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Money ──────────────────────────────────────────────────────────────────
// All credit arithmetic uses int64 millicredits. Floats never touch balances.

// MillicreditsPerCredit is the fixed-point scale: 1 credit = 1000 millicredits.
const MillicreditsPerCredit int64 = 1000

// Credits converts whole credits to millicredits.
func Credits(n int64) int64 { return n * MillicreditsPerCredit }

// FormatCredits renders millicredits as a human-readable credit amount.
func FormatCredits(mc int64) string {
	whole := mc / MillicreditsPerCredit
	frac := mc % MillicreditsPerCredit
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%03d", whole, frac), "0")
}

// ─── Transaction Types ──────────────────────────────────────────────────────

// TransactionType represents the business reason for a credit operation.
type TransactionType string

const (
	TxAddition    TransactionType = "ADDITION"
	TxDeduction   TransactionType = "DEDUCTION"
	TxReservation TransactionType = "RESERVATION"
	TxRelease     TransactionType = "RELEASE"
	TxRefund      TransactionType = "REFUND"
	TxAdjustment  TransactionType = "ADJUSTMENT"
	TxReversal    TransactionType = "REVERSAL"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxAddition, TxDeduction, TxReservation, TxRelease, TxRefund, TxAdjustment, TxReversal:
		return true
	}
	return false
}

// Debits reports whether the type must carry a negative amount.
func (t TransactionType) Debits() bool {
	return t == TxDeduction || t == TxReservation
}

// Credits reports whether the type must carry a positive amount.
func (t TransactionType) Credits() bool {
	return t == TxAddition || t == TxRelease || t == TxRefund
}

// SignMatches reports whether amount has the sign required by the type.
// Adjustments and reversals may go either way but never zero.
func (t TransactionType) SignMatches(amount int64) bool {
	switch {
	case amount == 0:
		return false
	case t.Debits():
		return amount < 0
	case t.Credits():
		return amount > 0
	default:
		return true
	}
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusCancelled  TransactionStatus = "CANCELLED"
	StatusReversed   TransactionStatus = "REVERSED"
)

// Terminal reports whether the status allows no further transitions.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

// ─── Credit Transaction ─────────────────────────────────────────────────────

// GenesisHash is the previous-hash value of the first transaction in a
// user's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreditTransaction is one immutable row in a user's hash-chained ledger.
// Once Status reaches COMPLETED the row never changes — corrections are new
// ADJUSTMENT or REVERSAL transactions.
type CreditTransaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Amount        int64             `json:"amount"` // millicredits, signed
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Status        TransactionStatus `json:"status"`

	EventID    string `json:"event_id"`
	Version    int64  `json:"version"`     // strictly increasing per user, no gaps
	BlockIndex int64  `json:"block_index"` // equals Version

	TransactionHash         string `json:"transaction_hash"`
	PreviousTransactionHash string `json:"previous_transaction_hash"`
	Signature               string `json:"signature"`

	CorrelationID  string `json:"correlation_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	SagaID         string `json:"saga_id,omitempty"`

	ProcessingDuration time.Duration `json:"processing_duration_ns"`
	RetryCount         int           `json:"retry_count"`
	LastRetryAt        *time.Time    `json:"last_retry_at,omitempty"`

	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// Canonical serializes the hash-relevant fields in a fixed order.
// The transaction hash and signature are excluded so the digest is
// well-defined; field order here is part of the on-disk contract.
func (tx *CreditTransaction) Canonical() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d|%d|%s|%s|%d",
		tx.ID,
		tx.UserID,
		tx.Type,
		tx.Amount,
		tx.BalanceBefore,
		tx.BalanceAfter,
		tx.Version,
		tx.IdempotencyKey,
		tx.EventID,
		tx.CreatedAt.UnixNano(),
	)
}

// ─── Transaction Request ────────────────────────────────────────────────────

// TransactionRequest is the caller's intent to append to the ledger.
type TransactionRequest struct {
	UserID         string          `json:"user_id"`
	Type           TransactionType `json:"type"`
	Amount         int64           `json:"amount"` // millicredits, signed
	IdempotencyKey string          `json:"idempotency_key"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	SagaID         string          `json:"saga_id,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// Validate checks required fields and amount sign. Returns ErrValidation
// wrapped with the offending detail.
func (r *TransactionRequest) Validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	case r.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency_key is required", ErrValidation)
	case !r.Type.Valid():
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, r.Type)
	case !r.Type.SignMatches(r.Amount):
		return fmt.Errorf("%w: amount %d has wrong sign for type %s", ErrValidation, r.Amount, r.Type)
	}
	return nil
}

// ─── Balance Projection ─────────────────────────────────────────────────────

// BalanceProjection is the per-user materialized balance cache. The chain is
// the source of truth; the projection is rebuildable by replay and is owned
// exclusively by the ledger service.
type BalanceProjection struct {
	UserID              string    `json:"user_id"`
	Balance             int64     `json:"balance"`  // millicredits
	Reserved            int64     `json:"reserved"` // sum of active reservation holds
	LastVersion         int64     `json:"last_version"`
	LastTransactionHash string    `json:"last_transaction_hash"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Genesis returns the projection of a user with no transactions yet.
func Genesis(userID string) *BalanceProjection {
	return &BalanceProjection{
		UserID:              userID,
		LastVersion:         0,
		LastTransactionHash: GenesisHash,
	}
}
