package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Ledger errors
	ErrValidation          = errors.New("invalid transaction request")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrChainIntegrity      = errors.New("chain integrity violation")
	ErrUserFrozen          = errors.New("ledger writes frozen for user pending investigation")
	ErrTransactionNotFound = errors.New("transaction not found")

	// Idempotency errors
	ErrRequestInFlight = errors.New("request with this idempotency key still processing, retry later")
	ErrDuplicateKey    = errors.New("idempotency key already bound to a committed transaction")

	// Saga errors
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrSagaNotFound        = errors.New("saga not found")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
)
