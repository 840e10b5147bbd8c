// Package ledger implements the append-only credit transaction log. Every
// write is validated, deduplicated, serialized per user, hash-chained to its
// predecessor, signed, and persisted atomically with the balance projection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/credd-network/credd/internal/domain"
	"github.com/credd-network/credd/internal/infra/hashchain"
	"github.com/credd-network/credd/internal/infra/observability"
)

// Store is the persistence surface the service needs: ledger rows plus
// idempotency results.
type Store interface {
	domain.LedgerStore
	domain.IdempotencyStore
}

// Config tunes the service.
type Config struct {
	// AlertThreshold fires a balance notification when a committed write
	// takes the balance from at-or-above to below it. Zero disables alerts.
	AlertThreshold int64

	// EventBuffer is the capacity of the post-commit event stream. When the
	// consumer lags, events are dropped and counted, never blocked on.
	EventBuffer int
}

// Service is the single write path into a user's chain.
type Service struct {
	store    Store
	signer   *hashchain.Signer
	notifier domain.Notifier
	cfg      Config
	log      *logrus.Entry

	guard  *Guard
	locks  *userLocks
	events chan domain.CreditTransaction

	frozenMu sync.RWMutex
	frozen   map[string]string // user id → freeze reason

	now func() time.Time
}

// New creates the ledger service. notifier may be nil.
func New(store Store, signer *hashchain.Signer, notifier domain.Notifier, cfg Config) *Service {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &Service{
		store:    store,
		signer:   signer,
		notifier: notifier,
		cfg:      cfg,
		log:      logrus.WithField("component", "ledger"),
		guard:    NewGuard(store),
		locks:    newUserLocks(),
		events:   make(chan domain.CreditTransaction, cfg.EventBuffer),
		frozen:   make(map[string]string),
		now:      time.Now,
	}
}

// Events exposes the post-commit transaction stream. One consumer expected.
func (s *Service) Events() <-chan domain.CreditTransaction {
	return s.events
}

// keyLister is satisfied by stores that can enumerate their retained
// idempotency keys.
type keyLister interface {
	AllIdempotencyKeys(ctx context.Context) ([]string, error)
}

// WarmIdempotencyCache seeds the dedup guard's negative cache from storage
// and enables its fast path. Optional: without it the guard consults storage
// on every append, which is correct but slower.
func (s *Service) WarmIdempotencyCache(ctx context.Context) error {
	lister, ok := s.store.(keyLister)
	if !ok {
		return nil
	}
	keys, err := lister.AllIdempotencyKeys(ctx)
	if err != nil {
		return fmt.Errorf("warm idempotency cache: %w", err)
	}
	s.guard.Warm(keys)
	s.log.WithField("keys", len(keys)).Debug("idempotency cache warmed")
	return nil
}

// ─── Append ─────────────────────────────────────────────────────────────────

// Append validates, deduplicates, and commits one transaction to the user's
// chain. A repeat of an already-committed idempotency key returns the original
// transaction with no side effects.
func (s *Service) Append(ctx context.Context, req domain.TransactionRequest) (*domain.CreditTransaction, error) {
	started := s.now()

	if err := req.Validate(); err != nil {
		observability.AppendsRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	priorID, found, err := s.guard.CheckAndReserve(ctx, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrRequestInFlight) {
			observability.AppendsRejected.WithLabelValues("in_flight").Inc()
		}
		return nil, err
	}
	if found {
		observability.IdempotencyHits.Inc()
		return s.store.GetTransaction(ctx, priorID)
	}

	tx, err := s.commit(ctx, req, started)
	if errors.Is(err, domain.ErrDuplicateKey) {
		// The mapping table lost this key (retention purge, or a failed
		// record after commit) but the chain row is still there. Answer
		// from the row and restore the mapping.
		prior, lookupErr := s.store.TransactionByKey(ctx, req.IdempotencyKey)
		if lookupErr != nil {
			s.guard.Abandon(req.IdempotencyKey)
			return nil, lookupErr
		}
		observability.IdempotencyHits.Inc()
		if err := s.guard.Complete(ctx, req.IdempotencyKey, prior.ID, prior.CreatedAt); err != nil {
			s.log.WithError(err).WithField("key", req.IdempotencyKey).
				Warn("failed to restore idempotency result")
		}
		return prior, nil
	}
	if err != nil {
		s.guard.Abandon(req.IdempotencyKey)
		return nil, err
	}

	if err := s.guard.Complete(ctx, req.IdempotencyKey, tx.ID, tx.CreatedAt); err != nil {
		// The chain row is committed; the mapping is best-effort on top of
		// the unique index the storage layer already enforces.
		s.log.WithError(err).WithField("key", req.IdempotencyKey).
			Warn("failed to record idempotency result")
	}

	s.afterCommit(tx)
	return tx, nil
}

// commit runs the serialized critical section: read the chain head, check
// funds, build and link the new row, and persist it with the projection CAS.
func (s *Service) commit(ctx context.Context, req domain.TransactionRequest, started time.Time) (*domain.CreditTransaction, error) {
	mu := s.locks.get(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	if reason, frozen := s.frozenFor(req.UserID); frozen {
		observability.AppendsRejected.WithLabelValues("frozen").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrUserFrozen, reason)
	}

	proj, err := s.store.GetProjection(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	balanceAfter := proj.Balance + req.Amount
	if req.Type.Debits() && balanceAfter < 0 {
		observability.AppendsRejected.WithLabelValues("insufficient_balance").Inc()
		return nil, fmt.Errorf("%w: balance %s, requested %s",
			domain.ErrInsufficientBalance,
			domain.FormatCredits(proj.Balance), domain.FormatCredits(-req.Amount))
	}

	now := s.now()
	tx := &domain.CreditTransaction{
		ID:             ulid.Make().String(),
		UserID:         req.UserID,
		Type:           req.Type,
		Amount:         req.Amount,
		BalanceBefore:  proj.Balance,
		BalanceAfter:   balanceAfter,
		Status:         domain.StatusCompleted,
		EventID:        uuid.NewString(),
		Version:        proj.LastVersion + 1,
		BlockIndex:     proj.LastVersion + 1,
		CorrelationID:  req.CorrelationID,
		IdempotencyKey: req.IdempotencyKey,
		SagaID:         req.SagaID,
		Metadata:       req.Metadata,
		CreatedAt:      now,
	}
	tx.ProcessingDuration = now.Sub(started)
	tx.PreviousTransactionHash = proj.LastTransactionHash
	tx.TransactionHash = hashchain.ComputeHash(tx, proj.LastTransactionHash)
	if s.signer != nil {
		tx.Signature = s.signer.Sign(tx.TransactionHash)
	}

	next := &domain.BalanceProjection{
		UserID:              req.UserID,
		Balance:             balanceAfter,
		Reserved:            nextReserved(proj.Reserved, tx),
		LastVersion:         tx.Version,
		LastTransactionHash: tx.TransactionHash,
		UpdatedAt:           now,
	}

	if err := s.store.AppendCommitted(ctx, tx, next, proj.LastVersion); err != nil {
		if errors.Is(err, domain.ErrChainIntegrity) {
			s.freezeUser(req.UserID, "chain head moved during serialized append")
		}
		return nil, err
	}

	observability.AppendsTotal.WithLabelValues(string(tx.Type)).Inc()
	observability.AppendDuration.Observe(s.now().Sub(started).Seconds())
	return tx, nil
}

// nextReserved tracks active holds: a reservation raises the counter, a
// release lowers it. Commits settle through SettleReserved instead.
func nextReserved(current int64, tx *domain.CreditTransaction) int64 {
	switch tx.Type {
	case domain.TxReservation:
		return current - tx.Amount // amount is negative
	case domain.TxRelease:
		if current < tx.Amount {
			return 0
		}
		return current - tx.Amount
	}
	return current
}

// afterCommit handles the non-critical followups: event emission and the
// balance alert. Neither may block or fail the write.
func (s *Service) afterCommit(tx *domain.CreditTransaction) {
	select {
	case s.events <- *tx:
	default:
		observability.EventsDropped.Inc()
		s.log.WithField("tx_id", tx.ID).Warn("post-commit event dropped, consumer lagging")
	}

	if s.notifier != nil && s.cfg.AlertThreshold > 0 &&
		tx.BalanceBefore >= s.cfg.AlertThreshold && tx.BalanceAfter < s.cfg.AlertThreshold {
		s.notifier.BalanceAlert(tx.UserID, tx.BalanceAfter, s.cfg.AlertThreshold)
	}
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// GetBalance returns the user's balance projection. Unknown users get the
// genesis projection.
func (s *Service) GetBalance(ctx context.Context, userID string) (*domain.BalanceProjection, error) {
	return s.store.GetProjection(ctx, userID)
}

// GetTransaction loads one transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.CreditTransaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// History returns the user's newest transactions, descending by version.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	return s.store.RecentTransactions(ctx, userID, limit)
}

// ─── Verification ───────────────────────────────────────────────────────────

// VerifyUserChain replays the user's full chain, recomputing every hash and
// link from scratch. Stored hashes are evidence, not trusted input. Returns
// the version of the first broken row when the chain fails.
func (s *Service) VerifyUserChain(ctx context.Context, userID string) (ok bool, badVersion int64, err error) {
	chain, err := s.store.UserChain(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	valid, badIdx := hashchain.VerifyChain(chain)
	if !valid {
		s.freezeUser(userID, fmt.Sprintf("chain verification failed at version %d", chain[badIdx].Version))
		return false, chain[badIdx].Version, nil
	}
	if s.signer != nil {
		for i := range chain {
			if !s.signer.Verify(chain[i].TransactionHash, chain[i].Signature) {
				s.freezeUser(userID, fmt.Sprintf("bad signature at version %d", chain[i].Version))
				return false, chain[i].Version, nil
			}
		}
	}
	return true, 0, nil
}

// userLister is satisfied by stores that can enumerate users with a balance
// projection.
type userLister interface {
	UserIDs(ctx context.Context) ([]string, error)
}

// AuditChains verifies every user's chain and returns the users whose chains
// failed. Failed users are frozen as a side effect of verification. Stores
// that cannot enumerate users audit nothing.
func (s *Service) AuditChains(ctx context.Context) (checked int, bad []string, err error) {
	lister, ok := s.store.(userLister)
	if !ok {
		return 0, nil, nil
	}
	users, err := lister.UserIDs(ctx)
	if err != nil {
		return 0, nil, err
	}
	for _, userID := range users {
		valid, _, err := s.VerifyUserChain(ctx, userID)
		if err != nil {
			return checked, bad, err
		}
		checked++
		if !valid {
			bad = append(bad, userID)
		}
	}
	return checked, bad, nil
}

// SettleHold lowers the reserved counter after a hold becomes a final spend.
func (s *Service) SettleHold(ctx context.Context, userID string, amount int64) error {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.store.SettleReserved(ctx, userID, -amount, s.now())
}

// ─── Freeze Control ─────────────────────────────────────────────────────────

// Frozen reports whether writes for the user are currently blocked.
func (s *Service) Frozen(userID string) bool {
	_, frozen := s.frozenFor(userID)
	return frozen
}

// Unfreeze lifts a write freeze after operator review.
func (s *Service) Unfreeze(userID string) {
	s.frozenMu.Lock()
	delete(s.frozen, userID)
	s.frozenMu.Unlock()
	s.log.WithField("user_id", userID).Info("user write freeze lifted")
}

func (s *Service) frozenFor(userID string) (string, bool) {
	s.frozenMu.RLock()
	defer s.frozenMu.RUnlock()
	reason, ok := s.frozen[userID]
	return reason, ok
}

func (s *Service) freezeUser(userID, reason string) {
	s.frozenMu.Lock()
	s.frozen[userID] = reason
	s.frozenMu.Unlock()
	observability.IntegrityViolations.Inc()
	s.log.WithFields(logrus.Fields{"user_id": userID, "reason": reason}).
		Error("chain integrity violation, freezing user writes")
}
