package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/credd-network/credd/internal/api"
	"github.com/credd-network/credd/internal/app/anomaly"
	"github.com/credd-network/credd/internal/app/budget"
	"github.com/credd-network/credd/internal/app/ledger"
	"github.com/credd-network/credd/internal/app/pricing"
	"github.com/credd-network/credd/internal/app/saga"
	"github.com/credd-network/credd/internal/config"
	"github.com/credd-network/credd/internal/domain"
	"github.com/credd-network/credd/internal/infra/hashchain"
	"github.com/credd-network/credd/internal/infra/sqlite"
	"github.com/credd-network/credd/internal/jobs"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger daemon",
	Long:  `Start the HTTP API, the anomaly detector and the background maintenance jobs.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logrus.WithField("component", "daemon")

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}
	log.WithField("public_key", signer.PublicKeyHex()).Info("transaction signing key loaded")

	ledgerSvc := ledger.New(db, signer, logNotifier{}, ledger.Config{
		AlertThreshold: domain.Credits(cfg.Ledger.AlertThresholdCredits),
		EventBuffer:    cfg.Ledger.EventBuffer,
	})
	coordinator := saga.NewCoordinator(ledgerSvc, db,
		time.Duration(cfg.Saga.HoldTTLMinutes)*time.Minute)
	detector := anomaly.NewDetector(anomaly.DefaultDetectorConfig(), db)
	tracker := api.NewLoadTracker(0)
	calculator := pricing.NewCalculator(pricing.DefaultConfig(), tracker)
	validator := budget.NewValidator(db, budget.StaticLimits{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ledgerSvc.WarmIdempotencyCache(ctx); err != nil {
		log.WithError(err).Warn("idempotency cache not warmed, dedup falls back to storage reads")
	}

	// The detector consumes the post-commit stream for the process lifetime.
	go detector.Run(ctx, ledgerSvc.Events())

	scheduler, err := jobs.New(jobs.Config{
		SweepSchedule:        cfg.Jobs.SweepSchedule,
		PurgeSchedule:        cfg.Jobs.PurgeSchedule,
		CleanupSchedule:      cfg.Jobs.CleanupSchedule,
		AuditSchedule:        cfg.Jobs.AuditSchedule,
		IdempotencyRetention: time.Duration(cfg.Ledger.IdempotencyRetentionDays) * 24 * time.Hour,
	}, coordinator, db, ledgerSvc, detector)
	if err != nil {
		return fmt.Errorf("configure jobs: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := api.NewServer(ledgerSvc, coordinator, calculator, validator, detector, db)
	srv.SetLoadTracker(tracker)
	if cfg.API.MetricsEnabled {
		srv.EnableMetrics()
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("ledger API listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildSigner loads the configured seed, or generates a process-lifetime
// key when none is set.
func buildSigner(cfg config.Config) (*hashchain.Signer, error) {
	if cfg.Ledger.SigningSeed != "" {
		return hashchain.NewSigner(cfg.Ledger.SigningSeed)
	}
	logrus.Warn("no signing seed configured, using an ephemeral key")
	return hashchain.GenerateSigner()
}

// logNotifier writes balance alerts to the log. It satisfies the
// fire-and-forget notifier contract.
type logNotifier struct{}

func (logNotifier) BalanceAlert(userID string, balance, threshold int64) {
	logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"balance":   domain.FormatCredits(balance),
		"threshold": domain.FormatCredits(threshold),
	}).Warn("balance dropped below alert threshold")
}
