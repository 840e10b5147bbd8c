package domain

import "fmt"

// ─── Metadata ───────────────────────────────────────────────────────────────
// Transaction metadata is a tagged payload over known feature contexts, not
// an untyped map. The ledger treats it as opaque; the anomaly detector uses
// its fingerprint for duplicate detection.

// MetadataKind discriminates the metadata payload.
type MetadataKind string

const (
	MetaNone       MetadataKind = ""
	MetaAIUsage    MetadataKind = "ai_usage"
	MetaPayment    MetadataKind = "payment"
	MetaAdjustment MetadataKind = "adjustment"
)

// AIUsageContext describes the AI operation a deduction paid for.
type AIUsageContext struct {
	Feature      string `json:"feature"`
	ModelID      string `json:"model_id"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
	Images       int64  `json:"images,omitempty"`
}

// PaymentContext describes the external payment behind an addition.
type PaymentContext struct {
	Provider  string `json:"provider"`
	PaymentID string `json:"payment_id"`
	Plan      string `json:"plan,omitempty"`
}

// AdjustmentContext describes a manual correction.
type AdjustmentContext struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

// Metadata carries at most one context, selected by Kind.
type Metadata struct {
	Kind       MetadataKind       `json:"kind,omitempty"`
	AIUsage    *AIUsageContext    `json:"ai_usage,omitempty"`
	Payment    *PaymentContext    `json:"payment,omitempty"`
	Adjustment *AdjustmentContext `json:"adjustment,omitempty"`
}

// Fingerprint returns a stable string identifying the metadata content.
// Two transactions with equal fingerprints describe the same logical event.
func (m Metadata) Fingerprint() string {
	switch m.Kind {
	case MetaAIUsage:
		if m.AIUsage != nil {
			return fmt.Sprintf("ai:%s:%s:%d:%d:%d",
				m.AIUsage.Feature, m.AIUsage.ModelID,
				m.AIUsage.InputTokens, m.AIUsage.OutputTokens, m.AIUsage.Images)
		}
	case MetaPayment:
		if m.Payment != nil {
			return fmt.Sprintf("pay:%s:%s", m.Payment.Provider, m.Payment.PaymentID)
		}
	case MetaAdjustment:
		if m.Adjustment != nil {
			return fmt.Sprintf("adj:%s:%s", m.Adjustment.ActorID, m.Adjustment.Reason)
		}
	}
	return "none"
}
