package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore persists transactions and balance projections. Implementations
// must apply AppendCommitted as a single atomic unit scoped to the user, and
// must reject the write when expectedVersion no longer matches the stored
// projection (the optimistic chain-continuity check).
type LedgerStore interface {
	// AppendCommitted persists tx and the updated projection atomically.
	// expectedVersion is the projection's LastVersion the caller read.
	AppendCommitted(ctx context.Context, tx *CreditTransaction, proj *BalanceProjection, expectedVersion int64) error

	GetTransaction(ctx context.Context, id string) (*CreditTransaction, error)

	// TransactionByKey returns the committed transaction bound to an
	// idempotency key, or ErrTransactionNotFound. The chain's unique key
	// index makes this the durable dedup record once the bounded
	// idempotency mapping has been purged.
	TransactionByKey(ctx context.Context, key string) (*CreditTransaction, error)

	// UserChain returns all committed transactions for a user in ascending
	// version order.
	UserChain(ctx context.Context, userID string) ([]CreditTransaction, error)

	// RecentTransactions returns the newest transactions for a user,
	// descending by version, at most limit rows.
	RecentTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)

	GetProjection(ctx context.Context, userID string) (*BalanceProjection, error)

	// SettleReserved shifts the projection's reserved counter without
	// advancing the chain. Used when a committed hold turns into a final
	// spend: the balance already moved when the hold was placed.
	SettleReserved(ctx context.Context, userID string, delta int64, at time.Time) error
}

// IdempotencyStore maps idempotency keys to terminal results.
type IdempotencyStore interface {
	// GetIdempotencyResult returns the committed transaction id recorded
	// under key, or ok=false if none exists.
	GetIdempotencyResult(ctx context.Context, key string) (txID string, ok bool, err error)

	PutIdempotencyResult(ctx context.Context, key, txID string, at time.Time) error

	// PurgeIdempotencyBefore drops records older than cutoff (bounded
	// retention window). Returns rows removed.
	PurgeIdempotencyBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReservationStore persists reservations and saga state.
type ReservationStore interface {
	InsertReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)

	// ReservationByTxID finds the reservation backed by a RESERVATION
	// ledger row, for rebuilding bookkeeping after a partial write.
	ReservationByTxID(ctx context.Context, txID string) (*Reservation, error)

	// UpdateReservationStatus transitions a reservation. Returns the number
	// of rows changed so callers can detect lost races.
	UpdateReservationStatus(ctx context.Context, id string, from, to ReservationStatus) (int64, error)

	// ExpiredReservations lists ACTIVE reservations whose ExpiresAt is
	// before now.
	ExpiredReservations(ctx context.Context, now time.Time) ([]Reservation, error)

	UpsertSaga(ctx context.Context, s *SagaState) error
	GetSaga(ctx context.Context, id string) (*SagaState, error)
}

// AnomalyStore persists audit findings.
type AnomalyStore interface {
	InsertAnomaly(ctx context.Context, a *AuditAnomaly) error
	ListAnomalies(ctx context.Context, limit int) ([]AuditAnomaly, error)
}

// UsageAggregator returns summed completed spend for a user inside a window.
// Amounts are millicredits, always non-negative.
type UsageAggregator interface {
	SpentBetween(ctx context.Context, userID string, from, to time.Time) (int64, error)
}

// DemandMetrics exposes the live load picture used for surge pricing.
type DemandMetrics interface {
	Snapshot() DemandSnapshot
}

// Notifier is informed, fire-and-forget, when a balance crosses a configured
// alert threshold. Implementations must never block the ledger write path.
type Notifier interface {
	BalanceAlert(userID string, balance, threshold int64)
}
