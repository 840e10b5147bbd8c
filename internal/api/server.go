// Package api provides the HTTP server for the credit ledger engine:
// transaction appends, balances, chain verification, reservations, cost
// estimates, budget checks and audit findings.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/credd-network/credd/internal/app/anomaly"
	"github.com/credd-network/credd/internal/app/budget"
	"github.com/credd-network/credd/internal/app/ledger"
	"github.com/credd-network/credd/internal/app/pricing"
	"github.com/credd-network/credd/internal/app/saga"
	"github.com/credd-network/credd/internal/domain"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// Server is the ledger HTTP API server.
type Server struct {
	ledger         *ledger.Service
	sagas          *saga.Coordinator
	calculator     *pricing.Calculator
	budgets        *budget.Validator
	detector       *anomaly.Detector
	anomalies      domain.AnomalyStore
	load           *LoadTracker
	metricsEnabled bool
}

// NewServer creates the API server over the application services.
func NewServer(l *ledger.Service, s *saga.Coordinator, c *pricing.Calculator, b *budget.Validator, d *anomaly.Detector, store domain.AnomalyStore) *Server {
	return &Server{
		ledger:     l,
		sagas:      s,
		calculator: c,
		budgets:    b,
		detector:   d,
		anomalies:  store,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetLoadTracker installs the request pressure tracker on the middleware
// chain.
func (s *Server) SetLoadTracker(lt *LoadTracker) { s.load = lt }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	r.Use(corsMiddleware)
	if s.load != nil {
		r.Use(s.load.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	r.Route("/api/ledger", func(r chi.Router) {
		r.Post("/transactions", s.handleAppend)
		r.Get("/transactions/{id}", s.handleGetTransaction)
	})

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Get("/balance", s.handleBalance)
		r.Get("/transactions", s.handleHistory)
		r.Get("/verify", s.handleVerify)
		r.Post("/unfreeze", s.handleUnfreeze)
	})

	r.Route("/api/reservations", func(r chi.Router) {
		r.Post("/", s.handleReserve)
		r.Get("/{id}", s.handleGetReservation)
		r.Post("/{id}/commit", s.handleCommit)
		r.Post("/{id}/release", s.handleRelease)
	})
	r.Get("/api/sagas/{id}", s.handleGetSaga)

	r.Post("/api/pricing/estimate", s.handleEstimate)
	r.Post("/api/budget/check", s.handleBudgetCheck)

	r.Route("/api/anomalies", func(r chi.Router) {
		r.Get("/", s.handleListAnomalies)
		r.Get("/stats", s.handleAnomalyStats)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrRequestInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUserFrozen):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrSagaNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrReservationExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON parses the request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
