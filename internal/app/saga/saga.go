// Package saga coordinates multi-step credit operations through
// reserve/commit/release. A reservation holds balance via a RESERVATION
// ledger row; it resolves by commit (the hold becomes the final spend),
// explicit release, or the background expiry sweep. Every resolution path is
// idempotent so retries and crash recovery converge on the same outcome.
package saga

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/credd-network/credd/internal/app/ledger"
	"github.com/credd-network/credd/internal/domain"
	"github.com/credd-network/credd/internal/infra/observability"
)

// DefaultHoldTTL bounds how long a reservation may stay open before the
// sweep compensates it.
const DefaultHoldTTL = 15 * time.Minute

// Coordinator drives reservation lifecycles against the ledger.
type Coordinator struct {
	ledger *ledger.Service
	store  domain.ReservationStore
	ttl    time.Duration
	log    *logrus.Entry
	now    func() time.Time
}

// NewCoordinator creates a coordinator. ttl <= 0 selects DefaultHoldTTL.
func NewCoordinator(l *ledger.Service, store domain.ReservationStore, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	return &Coordinator{
		ledger: l,
		store:  store,
		ttl:    ttl,
		log:    logrus.WithField("component", "saga"),
		now:    time.Now,
	}
}

// ─── Reserve ────────────────────────────────────────────────────────────────

// Reserve places a hold of amount millicredits (positive) on the user's
// balance. The hold is a real RESERVATION ledger row, so insufficient funds
// reject here, not at commit time.
func (c *Coordinator) Reserve(ctx context.Context, userID string, amount int64, idempotencyKey, correlationID string) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: reservation amount must be positive, got %d", domain.ErrValidation, amount)
	}

	sagaID := ulid.Make().String()
	tx, err := c.ledger.Append(ctx, domain.TransactionRequest{
		UserID:         userID,
		Type:           domain.TxReservation,
		Amount:         -amount,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
		SagaID:         sagaID,
	})
	if err != nil {
		return nil, err
	}

	// An idempotent repeat returns the original RESERVATION row; resolve it
	// to the reservation already created for it.
	if tx.SagaID != sagaID {
		return c.reservationForTx(ctx, tx)
	}

	now := c.now()
	res := &domain.Reservation{
		ID:            ulid.Make().String(),
		UserID:        userID,
		Amount:        amount,
		Status:        domain.ReservationActive,
		SagaID:        sagaID,
		TransactionID: tx.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.ttl),
	}
	if err := c.store.InsertReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	state := &domain.SagaState{
		ID:             sagaID,
		UserID:         userID,
		Status:         domain.SagaReserved,
		StepTxIDs:      []string{tx.ID},
		ReservationIDs: []string{res.ID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.UpsertSaga(ctx, state); err != nil {
		return nil, fmt.Errorf("upsert saga: %w", err)
	}

	observability.ActiveReservations.Inc()
	c.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"reservation_id": res.ID,
		"saga_id":        sagaID,
		"amount":         amount,
	}).Info("reservation placed")
	return res, nil
}

// reservationForTx finds the reservation backed by an existing RESERVATION
// ledger row, for idempotent Reserve repeats. The ledger row commits before
// the reservation and saga records, so a crash in between leaves a hold with
// no bookkeeping; this path rebuilds the missing records from the row itself
// rather than leaving the funds held forever.
func (c *Coordinator) reservationForTx(ctx context.Context, tx *domain.CreditTransaction) (*domain.Reservation, error) {
	res, err := c.store.ReservationByTxID(ctx, tx.ID)
	if err != nil && !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, err
	}

	if res == nil {
		now := c.now()
		res = &domain.Reservation{
			ID:            ulid.Make().String(),
			UserID:        tx.UserID,
			Amount:        -tx.Amount,
			Status:        domain.ReservationActive,
			SagaID:        tx.SagaID,
			TransactionID: tx.ID,
			CreatedAt:     now,
			ExpiresAt:     now.Add(c.ttl),
		}
		if err := c.store.InsertReservation(ctx, res); err != nil {
			return nil, fmt.Errorf("rebuild reservation: %w", err)
		}
		observability.ActiveReservations.Inc()
		c.log.WithFields(logrus.Fields{
			"reservation_id": res.ID,
			"tx_id":          tx.ID,
		}).Warn("rebuilt reservation record for a hold with no bookkeeping")
	}

	if _, err := c.store.GetSaga(ctx, tx.SagaID); errors.Is(err, domain.ErrSagaNotFound) {
		now := c.now()
		state := &domain.SagaState{
			ID:             tx.SagaID,
			UserID:         tx.UserID,
			Status:         domain.SagaReserved,
			StepTxIDs:      []string{tx.ID},
			ReservationIDs: []string{res.ID},
			CreatedAt:      tx.CreatedAt,
			UpdatedAt:      now,
		}
		if err := c.store.UpsertSaga(ctx, state); err != nil {
			return nil, fmt.Errorf("rebuild saga: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return res, nil
}

// ─── Commit ─────────────────────────────────────────────────────────────────

// Commit finalizes a hold: the provisional deduction becomes the real spend.
// No new ledger row is written; only statuses and the reserved counter move.
// Committing an already-committed reservation is a no-op.
func (c *Coordinator) Commit(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := c.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case domain.ReservationCommitted:
		return res, nil
	case domain.ReservationReleased, domain.ReservationExpired:
		return nil, fmt.Errorf("%w: reservation %s already %s",
			domain.ErrReservationExpired, res.ID, res.Status)
	}

	n, err := c.store.UpdateReservationStatus(ctx, res.ID, domain.ReservationActive, domain.ReservationCommitted)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost the race against a release or the sweep; re-read to report
		// what actually happened.
		return c.Commit(ctx, reservationID)
	}

	if err := c.ledger.SettleHold(ctx, res.UserID, res.Amount); err != nil {
		c.log.WithError(err).WithField("reservation_id", res.ID).
			Warn("reserved counter settle failed after commit")
	}
	if err := c.advanceSaga(ctx, res.SagaID, domain.SagaCompleted, ""); err != nil {
		return nil, err
	}

	res.Status = domain.ReservationCommitted
	observability.ActiveReservations.Dec()
	observability.ReservationOutcomes.WithLabelValues("committed").Inc()
	c.log.WithFields(logrus.Fields{"reservation_id": res.ID, "user_id": res.UserID}).
		Info("reservation committed")
	return res, nil
}

// ─── Release ────────────────────────────────────────────────────────────────

// Release compensates a hold by appending a RELEASE row that returns the
// funds. Releasing a reservation twice is a no-op; the compensating append
// is idempotent through a key derived from the reservation id.
func (c *Coordinator) Release(ctx context.Context, reservationID, reason string) (*domain.Reservation, error) {
	return c.release(ctx, reservationID, reason, domain.ReservationReleased)
}

func (c *Coordinator) release(ctx context.Context, reservationID, reason string, to domain.ReservationStatus) (*domain.Reservation, error) {
	res, err := c.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case domain.ReservationReleased, domain.ReservationExpired:
		// The status flip is durable but the compensating append may not
		// be: a release interrupted between the two leaves the hold flipped
		// with the funds still out. The saga only reaches FAILED after the
		// append commits, so anything short of FAILED here means the
		// compensation must be finished, not skipped.
		state, err := c.store.GetSaga(ctx, res.SagaID)
		if err != nil {
			return nil, err
		}
		if state.Status == domain.SagaFailed {
			return res, nil
		}
		return c.finishCompensation(ctx, res, reason)
	case domain.ReservationCommitted:
		return nil, fmt.Errorf("%w: reservation %s already committed",
			domain.ErrValidation, res.ID)
	}

	n, err := c.store.UpdateReservationStatus(ctx, res.ID, domain.ReservationActive, to)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return c.release(ctx, reservationID, reason, to)
	}

	if err := c.advanceSaga(ctx, res.SagaID, domain.SagaCompensating, ""); err != nil {
		return nil, err
	}

	res.Status = to
	return c.finishCompensation(ctx, res, reason)
}

// finishCompensation appends the compensating RELEASE row and closes out the
// saga. The derived key makes the append exactly-once even when this runs
// again after a crash or a rejected write, so retries converge on a single
// refund.
func (c *Coordinator) finishCompensation(ctx context.Context, res *domain.Reservation, reason string) (*domain.Reservation, error) {
	tx, err := c.ledger.Append(ctx, domain.TransactionRequest{
		UserID:         res.UserID,
		Type:           domain.TxRelease,
		Amount:         res.Amount,
		IdempotencyKey: "release:" + res.ID,
		SagaID:         res.SagaID,
		Metadata: domain.Metadata{
			Kind:       domain.MetaAdjustment,
			Adjustment: &domain.AdjustmentContext{Reason: reason, ActorID: "saga"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("compensating release: %w", err)
	}
	if err := c.advanceSaga(ctx, res.SagaID, domain.SagaFailed, tx.ID); err != nil {
		return nil, err
	}

	observability.ActiveReservations.Dec()
	observability.ReservationOutcomes.WithLabelValues(outcomeLabel(res.Status)).Inc()
	c.log.WithFields(logrus.Fields{
		"reservation_id": res.ID,
		"user_id":        res.UserID,
		"reason":         reason,
	}).Info("reservation released")
	return res, nil
}

func outcomeLabel(s domain.ReservationStatus) string {
	if s == domain.ReservationExpired {
		return "expired"
	}
	return "released"
}

// ─── Expiry Sweep ───────────────────────────────────────────────────────────

// SweepExpired compensates every ACTIVE reservation past its deadline.
// Returns the number released. Safe to run concurrently with live traffic:
// each release goes through the same idempotent path as an explicit one.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	expired, err := c.store.ExpiredReservations(ctx, c.now())
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range expired {
		if _, err := c.release(ctx, expired[i].ID, "hold expired", domain.ReservationExpired); err != nil {
			c.log.WithError(err).WithField("reservation_id", expired[i].ID).
				Error("expiry sweep release failed")
			continue
		}
		released++
		observability.SweepReleases.Inc()
	}
	if released > 0 {
		c.log.WithField("released", released).Info("expiry sweep compensated stale holds")
	}
	return released, nil
}

// GetReservation loads one reservation by id.
func (c *Coordinator) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return c.store.GetReservation(ctx, id)
}

// GetSaga loads one saga state by id.
func (c *Coordinator) GetSaga(ctx context.Context, id string) (*domain.SagaState, error) {
	return c.store.GetSaga(ctx, id)
}

// advanceSaga moves the saga record forward, optionally appending a step tx.
func (c *Coordinator) advanceSaga(ctx context.Context, sagaID string, status domain.SagaStatus, stepTxID string) error {
	state, err := c.store.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}
	state.Status = status
	if stepTxID != "" && !slices.Contains(state.StepTxIDs, stepTxID) {
		state.StepTxIDs = append(state.StepTxIDs, stepTxID)
	}
	state.UpdatedAt = c.now()
	return c.store.UpsertSaga(ctx, state)
}
