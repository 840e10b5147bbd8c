package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/credd-network/credd/internal/app/anomaly"
	"github.com/credd-network/credd/internal/app/budget"
	"github.com/credd-network/credd/internal/app/ledger"
	"github.com/credd-network/credd/internal/app/pricing"
	"github.com/credd-network/credd/internal/app/saga"
	"github.com/credd-network/credd/internal/domain"
	"github.com/credd-network/credd/internal/infra/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ledgerSvc := ledger.New(db, nil, nil, ledger.Config{})
	coordinator := saga.NewCoordinator(ledgerSvc, db, 0)
	calculator := pricing.NewCalculator(pricing.DefaultConfig(), nil)
	validator := budget.NewValidator(db, budget.StaticLimits{Daily: domain.Credits(1000)})
	detector := anomaly.NewDetector(anomaly.DefaultDetectorConfig(), db)

	srv := NewServer(ledgerSvc, coordinator, calculator, validator, detector, db)
	srv.EnableMetrics()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeObject(t, resp)
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeObject(t, resp)
}

func decodeObject(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()
	var obj map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return obj
}

func field[T any](t *testing.T, obj map[string]json.RawMessage, key string) T {
	t.Helper()
	var v T
	raw, ok := obj[key]
	if !ok {
		t.Fatalf("response missing %q: %v", key, obj)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal %q: %v", key, err)
	}
	return v
}

func fundUser(t *testing.T, ts *httptest.Server, userID string, credits int64) {
	t.Helper()
	resp, _ := postJSON(t, ts, "/api/ledger/transactions", domain.TransactionRequest{
		UserID:         userID,
		Type:           domain.TxAddition,
		Amount:         domain.Credits(credits),
		IdempotencyKey: fmt.Sprintf("fund-%s-%d", userID, credits),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("fund status = %d", resp.StatusCode)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	resp, obj := getJSON(t, ts, "/health")
	if resp.StatusCode != http.StatusOK || field[string](t, obj, "status") != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, obj)
	}

	resp, obj = getJSON(t, ts, "/api/version")
	if resp.StatusCode != http.StatusOK || field[string](t, obj, "version") != Version {
		t.Errorf("version = %d %v", resp.StatusCode, obj)
	}
}

func TestAppendAndBalance(t *testing.T) {
	ts := newTestServer(t)
	fundUser(t, ts, "user-1", 1000)

	resp, tx := postJSON(t, ts, "/api/ledger/transactions", domain.TransactionRequest{
		UserID:         "user-1",
		Type:           domain.TxDeduction,
		Amount:         -domain.Credits(25),
		IdempotencyKey: "k1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append status = %d", resp.StatusCode)
	}
	if got := field[int64](t, tx, "balance_after"); got != domain.Credits(975) {
		t.Errorf("balance_after = %d, want %d", got, domain.Credits(975))
	}

	_, bal := getJSON(t, ts, "/api/users/user-1/balance")
	if got := field[int64](t, bal, "balance"); got != domain.Credits(975) {
		t.Errorf("balance = %d, want %d", got, domain.Credits(975))
	}
	if frozen := field[bool](t, bal, "frozen"); frozen {
		t.Error("fresh user reported frozen")
	}

	// Repeating the append returns the original row, still 201-created once.
	resp2, tx2 := postJSON(t, ts, "/api/ledger/transactions", domain.TransactionRequest{
		UserID:         "user-1",
		Type:           domain.TxDeduction,
		Amount:         -domain.Credits(25),
		IdempotencyKey: "k1",
	})
	if resp2.StatusCode != http.StatusCreated {
		t.Fatalf("repeat status = %d", resp2.StatusCode)
	}
	if field[string](t, tx2, "id") != field[string](t, tx, "id") {
		t.Error("repeat append returned a different transaction")
	}
}

func TestAppendErrorsMapToStatuses(t *testing.T) {
	ts := newTestServer(t)
	fundUser(t, ts, "user-1", 10)

	cases := []struct {
		name string
		req  domain.TransactionRequest
		want int
	}{
		{"validation", domain.TransactionRequest{UserID: "user-1", Type: domain.TxDeduction, Amount: 5, IdempotencyKey: "bad-sign"}, http.StatusBadRequest},
		{"insufficient", domain.TransactionRequest{UserID: "user-1", Type: domain.TxDeduction, Amount: -domain.Credits(999), IdempotencyKey: "broke"}, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := postJSON(t, ts, "/api/ledger/transactions", tc.req)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestTransactionLookup(t *testing.T) {
	ts := newTestServer(t)
	fundUser(t, ts, "user-1", 10)

	_, hist := getJSON(t, ts, "/api/users/user-1/transactions")
	txs := field[[]domain.CreditTransaction](t, hist, "transactions")
	if len(txs) != 1 {
		t.Fatalf("history = %d rows, want 1", len(txs))
	}

	resp, tx := getJSON(t, ts, "/api/ledger/transactions/"+txs[0].ID)
	if resp.StatusCode != http.StatusOK || field[string](t, tx, "id") != txs[0].ID {
		t.Errorf("lookup = %d %v", resp.StatusCode, tx)
	}

	resp, _ = getJSON(t, ts, "/api/ledger/transactions/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing tx status = %d, want 404", resp.StatusCode)
	}
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	fundUser(t, ts, "user-1", 500)

	resp, res := postJSON(t, ts, "/api/reservations/", reserveRequest{
		UserID:         "user-1",
		Amount:         domain.Credits(200),
		IdempotencyKey: "hold-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve status = %d %v", resp.StatusCode, res)
	}
	resID := field[string](t, res, "id")

	_, bal := getJSON(t, ts, "/api/users/user-1/balance")
	if got := field[int64](t, bal, "reserved"); got != domain.Credits(200) {
		t.Errorf("reserved = %d, want %d", got, domain.Credits(200))
	}

	resp, committed := postJSON(t, ts, "/api/reservations/"+resID+"/commit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("commit status = %d", resp.StatusCode)
	}
	if got := field[domain.ReservationStatus](t, committed, "status"); got != domain.ReservationCommitted {
		t.Errorf("status = %s, want COMMITTED", got)
	}

	resp, _ = postJSON(t, ts, "/api/reservations/"+resID+"/release", releaseRequest{Reason: "too late"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("release after commit status = %d, want 400", resp.StatusCode)
	}

	sagaID := field[string](t, res, "saga_id")
	resp, state := getJSON(t, ts, "/api/sagas/"+sagaID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("saga status = %d", resp.StatusCode)
	}
	if got := field[domain.SagaStatus](t, state, "status"); got != domain.SagaCompleted {
		t.Errorf("saga = %s, want COMPLETED", got)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, breakdown := postJSON(t, ts, "/api/pricing/estimate", estimateRequest{
		Operation: domain.OperationDescriptor{ModelID: "standard"},
		Usage:     domain.UsageEstimate{InputTokens: 1000, OutputTokens: 500},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("estimate status = %d", resp.StatusCode)
	}
	want := domain.Credits(10) + domain.Credits(15)/2
	if got := field[int64](t, breakdown, "total"); got != want {
		t.Errorf("total = %d, want %d", got, want)
	}
}

func TestBudgetCheckEndpoint(t *testing.T) {
	ts := newTestServer(t)
	fundUser(t, ts, "user-1", 2000)

	// Spend most of the daily cap.
	resp, _ := postJSON(t, ts, "/api/ledger/transactions", domain.TransactionRequest{
		UserID:         "user-1",
		Type:           domain.TxDeduction,
		Amount:         -domain.Credits(950),
		IdempotencyKey: "spend-big",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("spend status = %d", resp.StatusCode)
	}

	resp, result := postJSON(t, ts, "/api/budget/check", budgetCheckRequest{
		UserID: "user-1",
		Cost:   domain.Credits(100),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status = %d", resp.StatusCode)
	}
	if field[bool](t, result, "is_valid") {
		t.Error("over-budget check reported valid")
	}
	violations := field[[]domain.BudgetViolation](t, result, "violations")
	if len(violations) != 1 || violations[0].Window != domain.WindowDaily {
		t.Errorf("violations = %+v, want one daily", violations)
	}
}

func TestAnomalyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, list := getJSON(t, ts, "/api/anomalies/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if findings := field[[]domain.AuditAnomaly](t, list, "anomalies"); len(findings) != 0 {
		t.Errorf("findings = %+v, want empty", findings)
	}

	resp, stats := getJSON(t, ts, "/api/anomalies/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if got := field[int](t, stats, "profile_count"); got != 0 {
		t.Errorf("profile count = %d, want 0", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
