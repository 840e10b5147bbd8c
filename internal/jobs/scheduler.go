// Package jobs runs the background maintenance loops: reservation expiry
// sweeps, idempotency record purges, stale profile cleanup and the periodic
// full-chain audit.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/credd-network/credd/internal/app/anomaly"
	"github.com/credd-network/credd/internal/app/ledger"
	"github.com/credd-network/credd/internal/app/saga"
	"github.com/credd-network/credd/internal/domain"
)

// Config holds the cron schedules. Any empty schedule disables that job.
type Config struct {
	SweepSchedule   string
	PurgeSchedule   string
	CleanupSchedule string
	AuditSchedule   string

	// IdempotencyRetention is how long terminal idempotency results stay
	// queryable.
	IdempotencyRetention time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

// New wires the maintenance jobs onto a cron runner. Jobs run against a
// background context; the scheduler never blocks the caller.
func New(cfg Config, coordinator *saga.Coordinator, idem domain.IdempotencyStore, ledgerSvc *ledger.Service, detector *anomaly.Detector) (*Scheduler, error) {
	log := logrus.WithField("component", "jobs")
	c := cron.New()

	if cfg.SweepSchedule != "" {
		_, err := c.AddFunc(cfg.SweepSchedule, func() {
			if _, err := coordinator.SweepExpired(context.Background()); err != nil {
				log.WithError(err).Error("reservation expiry sweep failed")
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.PurgeSchedule != "" && cfg.IdempotencyRetention > 0 {
		_, err := c.AddFunc(cfg.PurgeSchedule, func() {
			cutoff := time.Now().Add(-cfg.IdempotencyRetention)
			n, err := idem.PurgeIdempotencyBefore(context.Background(), cutoff)
			if err != nil {
				log.WithError(err).Error("idempotency purge failed")
				return
			}
			if n > 0 {
				log.WithField("purged", n).Info("idempotency records purged")
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.CleanupSchedule != "" && detector != nil {
		_, err := c.AddFunc(cfg.CleanupSchedule, func() {
			detector.CleanupStaleProfiles()
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.AuditSchedule != "" && ledgerSvc != nil {
		_, err := c.AddFunc(cfg.AuditSchedule, func() {
			ctx := context.Background()
			checked, bad, err := ledgerSvc.AuditChains(ctx)
			if err != nil {
				log.WithError(err).Error("chain audit failed")
				return
			}
			log.WithFields(logrus.Fields{"checked": checked, "broken": len(bad)}).
				Info("chain audit completed")
			if detector == nil {
				return
			}
			for _, userID := range bad {
				detector.ReportIntegrityViolation(ctx, userID, "periodic chain audit found a broken chain")
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Start begins running the schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("maintenance scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("maintenance scheduler stopped")
}
