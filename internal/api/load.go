package api

import (
	"net/http"
	"sync/atomic"

	"github.com/credd-network/credd/internal/domain"
)

// LoadTracker measures live request pressure. It doubles as the demand feed
// for surge pricing: in-flight count against capacity plus a running error
// ratio.
type LoadTracker struct {
	capacity int64
	inflight atomic.Int64
	errors   atomic.Int64
	total    atomic.Int64
}

// NewLoadTracker creates a tracker sized to the expected concurrent
// capacity.
func NewLoadTracker(capacity int) *LoadTracker {
	if capacity <= 0 {
		capacity = 64
	}
	return &LoadTracker{capacity: int64(capacity)}
}

// Middleware counts in-flight requests and server-side failures.
func (lt *LoadTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lt.inflight.Add(1)
		lt.total.Add(1)
		defer lt.inflight.Add(-1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= 500 {
			lt.errors.Add(1)
		}
	})
}

// Snapshot implements domain.DemandMetrics.
func (lt *LoadTracker) Snapshot() domain.DemandSnapshot {
	inflight := lt.inflight.Load()
	total := lt.total.Load()
	errRate := 0.0
	if total > 0 {
		errRate = float64(lt.errors.Load()) / float64(total)
	}
	return domain.DemandSnapshot{
		QueueLength: int(inflight),
		ErrorRate:   errRate,
		LoadRatio:   float64(inflight) / float64(lt.capacity),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
