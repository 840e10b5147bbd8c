// Package budget runs pre-flight spending checks against rolling windows.
// Results are advisory: a violation reports what would be exceeded and a
// recommendation, and the caller decides whether to block or just warn.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/credd-network/credd/internal/domain"
)

// LimitsProvider resolves a user's configured caps. The zero value of
// BudgetLimits (all unlimited) is a valid answer for unconfigured users.
type LimitsProvider interface {
	LimitsFor(ctx context.Context, userID string) (domain.BudgetLimits, error)
}

// StaticLimits serves the same caps for every user.
type StaticLimits domain.BudgetLimits

// LimitsFor implements LimitsProvider.
func (l StaticLimits) LimitsFor(context.Context, string) (domain.BudgetLimits, error) {
	return domain.BudgetLimits(l), nil
}

// Validator checks prospective spend against rolling usage windows.
type Validator struct {
	usage  domain.UsageAggregator
	limits LimitsProvider
	log    *logrus.Entry
	now    func() time.Time
}

// NewValidator creates a validator over the usage aggregator.
func NewValidator(usage domain.UsageAggregator, limits LimitsProvider) *Validator {
	return &Validator{
		usage:  usage,
		limits: limits,
		log:    logrus.WithField("component", "budget"),
		now:    time.Now,
	}
}

// Check evaluates a prospective spend of cost millicredits. Every window is
// evaluated even after the first violation, so the caller sees the complete
// picture in one pass.
func (v *Validator) Check(ctx context.Context, userID string, cost int64) (*domain.BudgetResult, error) {
	limits, err := v.limits.LimitsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve limits: %w", err)
	}

	now := v.now()
	result := &domain.BudgetResult{IsValid: true}

	windows := []struct {
		window domain.BudgetWindow
		limit  int64
		span   time.Duration
	}{
		{domain.WindowDaily, limits.Daily, 24 * time.Hour},
		{domain.WindowWeekly, limits.Weekly, 7 * 24 * time.Hour},
		{domain.WindowMonthly, limits.Monthly, 30 * 24 * time.Hour},
	}
	for _, w := range windows {
		spent := int64(0)
		if w.limit > 0 || v.alwaysAggregate(w.window) {
			spent, err = v.usage.SpentBetween(ctx, userID, now.Add(-w.span), now)
			if err != nil {
				return nil, fmt.Errorf("aggregate %s spend: %w", w.window, err)
			}
		}
		setRemaining(&result.Remaining, w.window, remaining(w.limit, spent))
		if w.limit > 0 && spent+cost > w.limit {
			result.IsValid = false
			result.Violations = append(result.Violations, domain.BudgetViolation{
				Window:         w.window,
				Limit:          w.limit,
				Spent:          spent,
				Prospective:    spent + cost,
				Recommendation: recommend(w.window, w.limit, spent, cost),
			})
		}
	}

	if limits.PerRequest > 0 && cost > limits.PerRequest {
		result.IsValid = false
		result.Violations = append(result.Violations, domain.BudgetViolation{
			Window:         domain.WindowPerRequest,
			Limit:          limits.PerRequest,
			Spent:          0,
			Prospective:    cost,
			Recommendation: fmt.Sprintf("request costs %s credits, above the %s per-request cap; split the work or lower the priority",
				domain.FormatCredits(cost), domain.FormatCredits(limits.PerRequest)),
		})
	}

	if !result.IsValid {
		v.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"cost":       cost,
			"violations": len(result.Violations),
		}).Info("budget check flagged prospective spend")
	}
	return result, nil
}

// alwaysAggregate keeps the daily remaining figure populated even without a
// configured daily cap, since dashboards read it.
func (v *Validator) alwaysAggregate(w domain.BudgetWindow) bool {
	return w == domain.WindowDaily
}

func remaining(limit, spent int64) int64 {
	if limit <= 0 {
		return -1 // unlimited
	}
	r := limit - spent
	if r < 0 {
		return 0
	}
	return r
}

func setRemaining(r *domain.RemainingBudget, w domain.BudgetWindow, v int64) {
	switch w {
	case domain.WindowDaily:
		r.Daily = v
	case domain.WindowWeekly:
		r.Weekly = v
	case domain.WindowMonthly:
		r.Monthly = v
	}
}

func recommend(w domain.BudgetWindow, limit, spent, cost int64) string {
	headroom := limit - spent
	if headroom <= 0 {
		return fmt.Sprintf("%s budget of %s credits is exhausted; wait for the window to roll or raise the cap",
			w, domain.FormatCredits(limit))
	}
	return fmt.Sprintf("only %s of %s credits remain in the %s window; a %s credit operation would exceed it",
		domain.FormatCredits(headroom), domain.FormatCredits(limit), w, domain.FormatCredits(cost))
}
