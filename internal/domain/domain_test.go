package domain

import (
	"strings"
	"testing"
	"time"
)

// ─── Money Formatting ───────────────────────────────────────────────────────

func TestFormatCredits(t *testing.T) {
	tests := []struct {
		mc   int64
		want string
	}{
		{Credits(25), "25"},
		{17500, "17.5"},
		{-17500, "-17.5"},
		{1, "0.001"},
		{0, "0"},
	}
	for _, tt := range tests {
		if got := FormatCredits(tt.mc); got != tt.want {
			t.Errorf("FormatCredits(%d) = %q, want %q", tt.mc, got, tt.want)
		}
	}
}

// ─── Transaction Type Rules ─────────────────────────────────────────────────

func TestSignMatches(t *testing.T) {
	tests := []struct {
		txType TransactionType
		amount int64
		want   bool
	}{
		{TxDeduction, -100, true},
		{TxDeduction, 100, false},
		{TxReservation, -100, true},
		{TxReservation, 100, false},
		{TxAddition, 100, true},
		{TxAddition, -100, false},
		{TxRelease, 100, true},
		{TxRefund, 100, true},
		{TxAdjustment, -50, true},
		{TxAdjustment, 50, true},
		{TxAdjustment, 0, false},
	}
	for _, tt := range tests {
		if got := tt.txType.SignMatches(tt.amount); got != tt.want {
			t.Errorf("%s.SignMatches(%d) = %v, want %v", tt.txType, tt.amount, got, tt.want)
		}
	}
}

func TestTransactionStatusTerminal(t *testing.T) {
	terminal := []TransactionStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusReversed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Error("pending/processing should not be terminal")
	}
}

// ─── Request Validation ─────────────────────────────────────────────────────

func TestTransactionRequestValidate(t *testing.T) {
	valid := TransactionRequest{
		UserID:         "user-1",
		Type:           TxDeduction,
		Amount:         -Credits(25),
		IdempotencyKey: "k1",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*TransactionRequest)
	}{
		{"missing user", func(r *TransactionRequest) { r.UserID = "" }},
		{"missing key", func(r *TransactionRequest) { r.IdempotencyKey = "" }},
		{"unknown type", func(r *TransactionRequest) { r.Type = "BOGUS" }},
		{"wrong sign", func(r *TransactionRequest) { r.Amount = Credits(25) }},
		{"zero amount", func(r *TransactionRequest) { r.Amount = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

// ─── Canonical Serialization ────────────────────────────────────────────────

func TestCanonical_Deterministic(t *testing.T) {
	tx := CreditTransaction{
		ID:             "tx-1",
		UserID:         "user-1",
		Type:           TxDeduction,
		Amount:         -Credits(25),
		BalanceBefore:  Credits(1000),
		BalanceAfter:   Credits(975),
		Version:        1,
		IdempotencyKey: "k1",
		EventID:        "ev-1",
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	a, b := tx.Canonical(), tx.Canonical()
	if a != b {
		t.Error("canonical serialization not deterministic")
	}
	if strings.Contains(a, tx.TransactionHash) && tx.TransactionHash != "" {
		t.Error("canonical must exclude the transaction hash")
	}

	// Any hashed field change must change the canonical form.
	tampered := tx
	tampered.Amount = -Credits(24)
	if tampered.Canonical() == a {
		t.Error("amount change did not alter canonical form")
	}
}

func TestMetadataFingerprint(t *testing.T) {
	m1 := Metadata{Kind: MetaAIUsage, AIUsage: &AIUsageContext{Feature: "chat", ModelID: "m1", InputTokens: 10}}
	m2 := Metadata{Kind: MetaAIUsage, AIUsage: &AIUsageContext{Feature: "chat", ModelID: "m1", InputTokens: 10}}
	m3 := Metadata{Kind: MetaAIUsage, AIUsage: &AIUsageContext{Feature: "chat", ModelID: "m2", InputTokens: 10}}

	if m1.Fingerprint() != m2.Fingerprint() {
		t.Error("equal metadata should share a fingerprint")
	}
	if m1.Fingerprint() == m3.Fingerprint() {
		t.Error("different models should not share a fingerprint")
	}
	if (Metadata{}).Fingerprint() != "none" {
		t.Errorf("empty metadata fingerprint = %q, want %q", (Metadata{}).Fingerprint(), "none")
	}
}

func TestGenesisProjection(t *testing.T) {
	p := Genesis("user-1")
	if p.Balance != 0 || p.LastVersion != 0 {
		t.Errorf("genesis projection = balance %d version %d, want 0/0", p.Balance, p.LastVersion)
	}
	if p.LastTransactionHash != GenesisHash {
		t.Errorf("genesis hash = %q, want %q", p.LastTransactionHash, GenesisHash)
	}
	if len(GenesisHash) != 64 {
		t.Errorf("genesis hash length = %d, want 64", len(GenesisHash))
	}
}
