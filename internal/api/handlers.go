package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/credd-network/credd/internal/domain"
)

// ─── Ledger Handlers ────────────────────────────────────────────────────────

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tx, err := s.ledger.Append(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	proj, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   proj.UserID,
		"balance":   proj.Balance,
		"reserved":  proj.Reserved,
		"available": proj.Balance,
		"version":   proj.LastVersion,
		"frozen":    s.ledger.Frozen(userID),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := s.ledger.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []domain.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ok, badVersion, err := s.ledger.VerifyUserChain(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := map[string]interface{}{"user_id": userID, "valid": ok}
	if !ok {
		resp["bad_version"] = badVersion
		if s.detector != nil {
			s.detector.ReportIntegrityViolation(r.Context(), userID,
				"chain verification failed at version "+strconv.FormatInt(badVersion, 10))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.ledger.Unfreeze(userID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "frozen": false})
}

// ─── Reservation Handlers ───────────────────────────────────────────────────

type reserveRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"` // millicredits to hold, positive
	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := s.sagas.Reserve(r.Context(), req.UserID, req.Amount, req.IdempotencyKey, req.CorrelationID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.sagas.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	res, err := s.sagas.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "released by caller"
	}
	res, err := s.sagas.Release(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSaga(w http.ResponseWriter, r *http.Request) {
	state, err := s.sagas.GetSaga(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ─── Pricing and Budget Handlers ────────────────────────────────────────────

type estimateRequest struct {
	Operation domain.OperationDescriptor `json:"operation"`
	Usage     domain.UsageEstimate       `json:"usage"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.calculator.Estimate(req.Operation, req.Usage))
}

type budgetCheckRequest struct {
	UserID string `json:"user_id"`
	Cost   int64  `json:"cost"` // millicredits
}

func (s *Server) handleBudgetCheck(w http.ResponseWriter, r *http.Request) {
	var req budgetCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	result, err := s.budgets.Check(r.Context(), req.UserID, req.Cost)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Anomaly Handlers ───────────────────────────────────────────────────────

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	findings, err := s.anomalies.ListAnomalies(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if findings == nil {
		findings = []domain.AuditAnomaly{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": findings})
}

func (s *Server) handleAnomalyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.DetectorStats())
}
