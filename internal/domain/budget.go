package domain

// ─── Budget Types ───────────────────────────────────────────────────────────

// BudgetWindow names a rolling budget period.
type BudgetWindow string

const (
	WindowDaily      BudgetWindow = "daily"
	WindowWeekly     BudgetWindow = "weekly"
	WindowMonthly    BudgetWindow = "monthly"
	WindowPerRequest BudgetWindow = "per_request"
)

// BudgetLimits are a user's configured spending caps in millicredits.
// A zero limit means the window is unlimited.
type BudgetLimits struct {
	Daily      int64 `json:"daily"`
	Weekly     int64 `json:"weekly"`
	Monthly    int64 `json:"monthly"`
	PerRequest int64 `json:"per_request"`
}

// RemainingBudget is what is left in each rolling window.
type RemainingBudget struct {
	Daily   int64 `json:"daily"`
	Weekly  int64 `json:"weekly"`
	Monthly int64 `json:"monthly"`
}

// BudgetViolation flags one exceeded window. Violations are soft — the
// caller decides whether to block, warn or require confirmation.
type BudgetViolation struct {
	Window         BudgetWindow `json:"window"`
	Limit          int64        `json:"limit"`
	Spent          int64        `json:"spent"`
	Prospective    int64        `json:"prospective"`
	Recommendation string       `json:"recommendation"`
}

// BudgetResult is the outcome of a pre-flight budget check.
type BudgetResult struct {
	IsValid    bool              `json:"is_valid"`
	Remaining  RemainingBudget   `json:"remaining"`
	Violations []BudgetViolation `json:"violations,omitempty"`
}
