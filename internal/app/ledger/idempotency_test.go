package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/credd-network/credd/internal/domain"
)

// countingStore records terminal results in memory and counts lookups, so
// tests can observe whether the guard's negative cache short-circuited the
// storage read.
type countingStore struct {
	results map[string]string
	reads   int
}

func newCountingStore() *countingStore {
	return &countingStore{results: make(map[string]string)}
}

func (s *countingStore) GetIdempotencyResult(_ context.Context, key string) (string, bool, error) {
	s.reads++
	txID, ok := s.results[key]
	return txID, ok, nil
}

func (s *countingStore) PutIdempotencyResult(_ context.Context, key, txID string, _ time.Time) error {
	if _, exists := s.results[key]; !exists {
		s.results[key] = txID
	}
	return nil
}

func (s *countingStore) PurgeIdempotencyBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestGuardUnwarmedAlwaysChecksStore(t *testing.T) {
	store := newCountingStore()
	store.results["prior"] = "tx-1"
	g := NewGuard(store)

	txID, found, err := g.CheckAndReserve(context.Background(), "prior")
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if !found || txID != "tx-1" {
		t.Fatalf("got (%q, %v), want recorded result", txID, found)
	}
	if store.reads != 1 {
		t.Errorf("store reads = %d, want 1 before warming", store.reads)
	}
}

func TestGuardWarmedSkipsStoreForFreshKeys(t *testing.T) {
	store := newCountingStore()
	g := NewGuard(store)
	g.Warm(nil)

	_, found, err := g.CheckAndReserve(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if found {
		t.Fatal("fresh key reported a prior result")
	}
	if store.reads != 0 {
		t.Errorf("store reads = %d, want 0 for a never-seen key", store.reads)
	}

	// The slot is still reserved despite the skipped read.
	if _, _, err := g.CheckAndReserve(context.Background(), "fresh"); !errors.Is(err, domain.ErrRequestInFlight) {
		t.Fatalf("concurrent duplicate err = %v, want ErrRequestInFlight", err)
	}
}

func TestGuardWarmedStillFindsRecordedKeys(t *testing.T) {
	store := newCountingStore()
	store.results["prior"] = "tx-1"
	g := NewGuard(store)
	g.Warm([]string{"prior"})

	txID, found, err := g.CheckAndReserve(context.Background(), "prior")
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if !found || txID != "tx-1" {
		t.Fatalf("got (%q, %v), want the warmed key's result", txID, found)
	}
}

func TestGuardCompleteFeedsNegativeCache(t *testing.T) {
	store := newCountingStore()
	g := NewGuard(store)
	g.Warm(nil)

	ctx := context.Background()
	if _, _, err := g.CheckAndReserve(ctx, "k1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := g.Complete(ctx, "k1", "tx-9", time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	txID, found, err := g.CheckAndReserve(ctx, "k1")
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if !found || txID != "tx-9" {
		t.Fatalf("repeat got (%q, %v), want the completed result", txID, found)
	}
}

func TestWarmIdempotencyCacheRestoresDedup(t *testing.T) {
	svc, db := newTestService(t, Config{})
	addFunds(t, svc, "user-1", 1000)

	ctx := context.Background()
	req := domain.TransactionRequest{
		UserID:         "user-1",
		Type:           domain.TxDeduction,
		Amount:         -domain.Credits(25),
		IdempotencyKey: "restart-survivor",
	}
	first, err := svc.Append(ctx, req)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// A fresh service over the same database models a process restart: its
	// in-memory cache starts empty, and warming rebuilds it from storage.
	restarted := New(db, nil, nil, Config{})
	if err := restarted.WarmIdempotencyCache(ctx); err != nil {
		t.Fatalf("warm: %v", err)
	}

	repeat, err := restarted.Append(ctx, req)
	if err != nil {
		t.Fatalf("repeat append: %v", err)
	}
	if repeat.ID != first.ID {
		t.Errorf("repeat returned %s, want the original %s", repeat.ID, first.ID)
	}

	proj, err := restarted.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if proj.Balance != domain.Credits(975) {
		t.Errorf("balance = %d, want %d", proj.Balance, domain.Credits(975))
	}
}

func TestRetryAfterRetentionPurgeReturnsOriginal(t *testing.T) {
	svc, db := newTestService(t, Config{})
	addFunds(t, svc, "user-1", 1000)

	ctx := context.Background()
	req := domain.TransactionRequest{
		UserID:         "user-1",
		Type:           domain.TxDeduction,
		Amount:         -domain.Credits(25),
		IdempotencyKey: "long-retry",
	}
	first, err := svc.Append(ctx, req)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// The retention job drops the mapping entry; the chain row and its
	// unique key index stay behind as the durable record.
	if _, err := db.PurgeIdempotencyBefore(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("purge: %v", err)
	}

	repeat, err := svc.Append(ctx, req)
	if err != nil {
		t.Fatalf("repeat append after purge: %v", err)
	}
	if repeat.ID != first.ID {
		t.Errorf("repeat returned %s, want the original %s", repeat.ID, first.ID)
	}

	proj, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if proj.Balance != domain.Credits(975) {
		t.Errorf("balance = %d, want %d (retry must not apply twice)", proj.Balance, domain.Credits(975))
	}
	if proj.LastVersion != 2 {
		t.Errorf("version = %d, want 2", proj.LastVersion)
	}
}

func TestGuardAbandonFreesKey(t *testing.T) {
	store := newCountingStore()
	g := NewGuard(store)

	ctx := context.Background()
	if _, _, err := g.CheckAndReserve(ctx, "k1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	g.Abandon("k1")

	if _, found, err := g.CheckAndReserve(ctx, "k1"); err != nil || found {
		t.Fatalf("after abandon got (found=%v, err=%v), want a fresh reservation", found, err)
	}
}
