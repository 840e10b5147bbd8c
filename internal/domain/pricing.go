package domain

import "time"

// ─── Pricing Types ──────────────────────────────────────────────────────────
// Multipliers are expressed in basis points (10000 = 1.0×) so that all cost
// arithmetic stays in integers.

// BpsScale is the basis-point denominator for multipliers.
const BpsScale int64 = 10000

// ApplyBps multiplies a millicredit amount by a basis-point factor.
func ApplyBps(mc, bps int64) int64 { return mc * bps / BpsScale }

// Priority is the requested urgency of an operation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PremiumBps returns the multiplicative premium for the priority level.
// Premiums increase strictly with urgency: deferrable work pays below the
// base rate, urgent work pays the most.
func (p Priority) PremiumBps() int64 {
	switch p {
	case PriorityLow:
		return 9000 // 0.9×
	case PriorityHigh:
		return 12500 // 1.25×
	case PriorityUrgent:
		return 15000 // 1.5×
	default:
		return BpsScale // normal pays the base rate
	}
}

// OperationDescriptor identifies what is about to run and how urgently.
type OperationDescriptor struct {
	ModelID   string   `json:"model_id"`
	Feature   string   `json:"feature,omitempty"`
	Priority  Priority `json:"priority,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"` // number of items; 0 or 1 = single
}

// UsageEstimate quantifies the operation's consumption. OutputEstimated marks
// quantities that are guesses (unknown output length) — estimates built on
// them carry lower confidence.
type UsageEstimate struct {
	InputTokens     int64    `json:"input_tokens"`
	OutputTokens    int64    `json:"output_tokens"`
	OutputEstimated bool     `json:"output_estimated,omitempty"`
	Images          int64    `json:"images,omitempty"`
	Features        []string `json:"features,omitempty"` // named add-on features
}

// FeatureCost is the cost of one named add-on feature.
type FeatureCost struct {
	Feature string `json:"feature"`
	Cost    int64  `json:"cost"` // millicredits
}

// SurgeInfo explains an active surge multiplier.
type SurgeInfo struct {
	MultiplierBps     int64         `json:"multiplier_bps"`
	Reason            string        `json:"reason"`
	EstimatedDuration time.Duration `json:"estimated_duration_ns"`
}

// CostBreakdown itemizes an estimate. All amounts are millicredits.
type CostBreakdown struct {
	Base               int64         `json:"base"`
	PriorityAdjustment int64         `json:"priority_adjustment"`
	FeatureCosts       []FeatureCost `json:"feature_costs,omitempty"`
	ImageCost          int64         `json:"image_cost"`
	SurgeAdjustment    int64         `json:"surge_adjustment"`
	BatchDiscount      int64         `json:"batch_discount"` // negative or zero
	Total              int64         `json:"total"`
	Confidence         float64       `json:"confidence"` // 0..1
	Surge              *SurgeInfo    `json:"surge,omitempty"`
}

// DemandSnapshot is the live load picture used for surge pricing.
type DemandSnapshot struct {
	QueueLength int     `json:"queue_length"`
	ErrorRate   float64 `json:"error_rate"` // 0..1
	LoadRatio   float64 `json:"load_ratio"` // in-flight / capacity
}
