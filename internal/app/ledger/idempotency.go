package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/credd-network/credd/internal/domain"
	"github.com/credd-network/credd/internal/infra/dsa"
)

// ─── Idempotency Guard ──────────────────────────────────────────────────────

// Guard maps idempotency keys to prior results. Terminal results live in
// storage for the retention window; in-flight keys live in memory so a
// concurrent duplicate gets a retry-later signal instead of proceeding.
//
// A Bloom filter fronts the storage lookup: a key the filter has never seen
// is provably unrecorded, so the common case (a fresh key) skips the read
// entirely. The filter only takes effect after Warm seeds it with the keys
// already on disk — until then every lookup goes to storage.
type Guard struct {
	store domain.IdempotencyStore
	seen  *dsa.Filter
	ready bool

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGuard creates a guard over the given store.
func NewGuard(store domain.IdempotencyStore) *Guard {
	return &Guard{
		store:    store,
		seen:     dsa.NewFilter(100000, 0.001),
		inflight: make(map[string]struct{}),
	}
}

// Warm seeds the negative cache with the keys already recorded in storage
// and enables the fast path. Skipping storage reads before warming would
// risk missing a recorded key.
func (g *Guard) Warm(keys []string) {
	for _, k := range keys {
		g.seen.Add(k)
	}
	g.mu.Lock()
	g.ready = true
	g.mu.Unlock()
}

// CheckAndReserve resolves a key three ways:
//   - a terminal result exists: returns its transaction id, found=true;
//   - the key is currently processing: returns ErrRequestInFlight;
//   - the key is new: reserves the in-flight slot and returns found=false.
//
// Callers that reserved the slot must call Complete or Abandon.
func (g *Guard) CheckAndReserve(ctx context.Context, key string) (txID string, found bool, err error) {
	if g.mustCheckStore(key) {
		txID, ok, err := g.store.GetIdempotencyResult(ctx, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return txID, true, nil
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return "", false, domain.ErrRequestInFlight
	}
	g.inflight[key] = struct{}{}
	return "", false, nil
}

// Complete records the terminal result and releases the in-flight slot.
func (g *Guard) Complete(ctx context.Context, key, txID string, at time.Time) error {
	err := g.store.PutIdempotencyResult(ctx, key, txID, at)
	g.seen.Add(key)
	g.release(key)
	return err
}

// Abandon releases the in-flight slot without a result, so a later retry
// with the same key starts fresh. Used when the append fails.
func (g *Guard) Abandon(key string) { g.release(key) }

// mustCheckStore reports whether the storage lookup can be skipped. Only a
// warmed filter answering "never seen" makes the skip safe.
func (g *Guard) mustCheckStore(key string) bool {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()
	if !ready {
		return true
	}
	return g.seen.MaybeContains(key)
}

func (g *Guard) release(key string) {
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
}
