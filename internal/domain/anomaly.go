package domain

import "time"

// ─── Audit Anomalies ────────────────────────────────────────────────────────

// AnomalyType classifies a detected deviation from expected patterns.
type AnomalyType string

const (
	AnomalyUnusualAmount      AnomalyType = "UNUSUAL_AMOUNT"
	AnomalyFrequencySpike     AnomalyType = "FREQUENCY_SPIKE"
	AnomalyDuplicateTx        AnomalyType = "DUPLICATE_TRANSACTION"
	AnomalyIntegrityViolation AnomalyType = "INTEGRITY_VIOLATION"
)

// Severity ranks how urgently an anomaly needs attention.
type Severity int

const (
	SevInfo Severity = iota
	SevWarning
	SevCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// AuditAnomaly is a finding raised by the anomaly detector. Findings are
// observational — they never mutate the ledger.
type AuditAnomaly struct {
	ID             string      `json:"id"`
	Type           AnomalyType `json:"type"`
	Severity       Severity    `json:"severity"`
	UserID         string      `json:"user_id"`
	TransactionIDs []string    `json:"transaction_ids"`
	Detail         string      `json:"detail"`
	DetectedAt     time.Time   `json:"detected_at"`
	Resolved       bool        `json:"resolved"`
}
