package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/credd-network/credd/internal/app/anomaly"
	"github.com/credd-network/credd/internal/app/ledger"
	"github.com/credd-network/credd/internal/app/saga"
	"github.com/credd-network/credd/internal/infra/sqlite"
)

func TestSchedulerWiring(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := ledger.New(db, nil, nil, ledger.Config{})
	coordinator := saga.NewCoordinator(svc, db, 0)
	detector := anomaly.NewDetector(anomaly.DefaultDetectorConfig(), db)

	s, err := New(Config{
		SweepSchedule:        "@every 1m",
		PurgeSchedule:        "@daily",
		CleanupSchedule:      "@daily",
		AuditSchedule:        "@daily",
		IdempotencyRetention: 30 * 24 * time.Hour,
	}, coordinator, db, svc, detector)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	s.Start()
	s.Stop()
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := ledger.New(db, nil, nil, ledger.Config{})
	coordinator := saga.NewCoordinator(svc, db, 0)

	if _, err := New(Config{SweepSchedule: "not a schedule"}, coordinator, db, svc, nil); err == nil {
		t.Error("expected an error for a malformed schedule")
	}
}
