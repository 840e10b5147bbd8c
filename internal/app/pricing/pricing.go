// Package pricing estimates the credit cost of operations before they run.
// All arithmetic is integer millicredits with basis-point multipliers; the
// only float in the package is the confidence score on the breakdown.
package pricing

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/credd-network/credd/internal/domain"
	"github.com/credd-network/credd/internal/infra/observability"
)

// RateCard prices one model's consumption in millicredits.
type RateCard struct {
	InputPer1K  int64 `toml:"input_per_1k"`
	OutputPer1K int64 `toml:"output_per_1k"`
	PerImage    int64 `toml:"per_image"`
}

// Config holds the rate tables and pricing policy.
type Config struct {
	// Rates maps model id to its rate card. Unknown models fall back to
	// DefaultRate with a confidence penalty.
	Rates       map[string]RateCard
	DefaultRate RateCard

	// FeatureCosts maps named add-on features to flat surcharges.
	FeatureCosts map[string]int64

	// MinimumCost floors every estimate so trivial operations still pay for
	// their overhead.
	MinimumCost int64

	// MaxSurgeBps caps the surge multiplier.
	MaxSurgeBps int64
}

// DefaultConfig returns the stock rate tables.
func DefaultConfig() Config {
	return Config{
		Rates: map[string]RateCard{
			"standard": {InputPer1K: domain.Credits(10), OutputPer1K: domain.Credits(15), PerImage: domain.Credits(5)},
			"fast":     {InputPer1K: domain.Credits(2), OutputPer1K: domain.Credits(4), PerImage: domain.Credits(2)},
			"premium":  {InputPer1K: domain.Credits(30), OutputPer1K: domain.Credits(60), PerImage: domain.Credits(10)},
		},
		DefaultRate: RateCard{InputPer1K: domain.Credits(10), OutputPer1K: domain.Credits(15), PerImage: domain.Credits(5)},
		FeatureCosts: map[string]int64{
			"web_search":     domain.Credits(2),
			"code_execution": domain.Credits(3),
			"file_analysis":  domain.Credits(2),
		},
		MinimumCost: domain.Credits(1) / 2, // 0.5 credits
		MaxSurgeBps: 2 * domain.BpsScale,   // never more than 2.0×
	}
}

// Calculator turns operation descriptors and usage estimates into itemized
// cost breakdowns. Stateless apart from the live demand feed.
type Calculator struct {
	cfg    Config
	demand domain.DemandMetrics
	log    *logrus.Entry
}

// NewCalculator creates a calculator. demand may be nil to disable surge.
func NewCalculator(cfg Config, demand domain.DemandMetrics) *Calculator {
	return &Calculator{
		cfg:    cfg,
		demand: demand,
		log:    logrus.WithField("component", "pricing"),
	}
}

// Estimate prices one operation. The order of application is fixed: token
// base, images, feature surcharges, priority premium, surge, batch discount,
// then the minimum floor.
func (c *Calculator) Estimate(op domain.OperationDescriptor, usage domain.UsageEstimate) domain.CostBreakdown {
	observability.EstimatesTotal.Inc()

	confidence := 1.0

	rate, known := c.cfg.Rates[op.ModelID]
	if !known {
		rate = c.cfg.DefaultRate
		confidence -= 0.2
		c.log.WithField("model_id", op.ModelID).Debug("unknown model, default rate applied")
	}
	if usage.OutputEstimated {
		confidence -= 0.15
	}

	base := usage.InputTokens*rate.InputPer1K/1000 + usage.OutputTokens*rate.OutputPer1K/1000
	imageCost := usage.Images * rate.PerImage

	var featureCosts []domain.FeatureCost
	var featureTotal int64
	for _, f := range usage.Features {
		cost, ok := c.cfg.FeatureCosts[f]
		if !ok {
			continue
		}
		featureCosts = append(featureCosts, domain.FeatureCost{Feature: f, Cost: cost})
		featureTotal += cost
	}

	subtotal := base + imageCost + featureTotal
	priorityAdj := domain.ApplyBps(subtotal, op.Priority.PremiumBps()) - subtotal
	afterPriority := subtotal + priorityAdj

	var surge *domain.SurgeInfo
	var surgeAdj int64
	if c.demand != nil {
		surge = surgeFor(c.demand.Snapshot(), c.cfg.MaxSurgeBps)
	}
	if surge != nil {
		surgeAdj = domain.ApplyBps(afterPriority, surge.MultiplierBps) - afterPriority
		confidence -= 0.1
		observability.SurgeMultiplier.Set(float64(surge.MultiplierBps))
	} else {
		observability.SurgeMultiplier.Set(float64(domain.BpsScale))
	}
	afterSurge := afterPriority + surgeAdj

	batchDiscount := -domain.ApplyBps(afterSurge, batchDiscountBps(op.BatchSize))

	total := afterSurge + batchDiscount
	if total < c.cfg.MinimumCost {
		total = c.cfg.MinimumCost
	}
	if confidence < 0.3 {
		confidence = 0.3
	}

	return domain.CostBreakdown{
		Base:               base,
		PriorityAdjustment: priorityAdj,
		FeatureCosts:       featureCosts,
		ImageCost:          imageCost,
		SurgeAdjustment:    surgeAdj,
		BatchDiscount:      batchDiscount,
		Total:              total,
		Confidence:         confidence,
		Surge:              surge,
	}
}

// batchDiscountBps rewards larger batches with a deeper aggregate discount.
func batchDiscountBps(batchSize int) int64 {
	switch {
	case batchSize >= 100:
		return 1500 // 15%
	case batchSize >= 50:
		return 1000
	case batchSize >= 10:
		return 500
	}
	return 0
}

// surgeFor derives a surge multiplier from the live load picture, or nil
// when demand is normal. Each pressure source contributes additively and the
// result is capped.
func surgeFor(snap domain.DemandSnapshot, maxBps int64) *domain.SurgeInfo {
	bps := domain.BpsScale
	reason := ""

	switch {
	case snap.LoadRatio >= 0.9:
		bps += 5000
		reason = "system under heavy load"
	case snap.LoadRatio >= 0.75:
		bps += 2500
		reason = "elevated system load"
	}
	switch {
	case snap.QueueLength >= 100:
		bps += 2500
		if reason == "" {
			reason = "long request queue"
		}
	case snap.QueueLength >= 50:
		bps += 1000
		if reason == "" {
			reason = "request queue building up"
		}
	}
	if snap.ErrorRate >= 0.1 {
		bps += 1000
		if reason == "" {
			reason = "degraded backend capacity"
		}
	}

	if bps == domain.BpsScale {
		return nil
	}
	if maxBps > 0 && bps > maxBps {
		bps = maxBps
	}

	// Rough clearing time: a couple of minutes plus a second per queued
	// request.
	duration := 2*time.Minute + time.Duration(snap.QueueLength)*time.Second
	return &domain.SurgeInfo{
		MultiplierBps:     bps,
		Reason:            reason,
		EstimatedDuration: duration,
	}
}
