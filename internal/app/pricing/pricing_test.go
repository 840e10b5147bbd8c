package pricing

import (
	"testing"
	"time"

	"github.com/credd-network/credd/internal/domain"
)

type fixedDemand struct{ snap domain.DemandSnapshot }

func (d fixedDemand) Snapshot() domain.DemandSnapshot { return d.snap }

func TestTokenBasePricing(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil)

	// 1000 input at 10 credits/1k plus 500 output at 15 credits/1k.
	got := c.Estimate(
		domain.OperationDescriptor{ModelID: "standard"},
		domain.UsageEstimate{InputTokens: 1000, OutputTokens: 500},
	)

	want := domain.Credits(10) + domain.Credits(15)/2 // 17.5 credits
	if got.Base != want {
		t.Errorf("base = %d, want %d", got.Base, want)
	}
	if got.Total != want {
		t.Errorf("total = %d, want %d (no adjustments apply)", got.Total, want)
	}
	if got.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 for exact usage on a known model", got.Confidence)
	}
	if got.Surge != nil {
		t.Errorf("surge = %+v, want none", got.Surge)
	}
}

func TestUnknownModelUsesDefaultRateWithPenalty(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil)
	got := c.Estimate(
		domain.OperationDescriptor{ModelID: "never-heard-of-it"},
		domain.UsageEstimate{InputTokens: 1000},
	)
	if got.Base != domain.Credits(10) {
		t.Errorf("base = %d, want default-rate %d", got.Base, domain.Credits(10))
	}
	if got.Confidence >= 1.0 {
		t.Errorf("confidence = %v, want a penalty for the unknown model", got.Confidence)
	}
}

func TestEstimatedOutputLowersConfidence(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil)
	exact := c.Estimate(domain.OperationDescriptor{ModelID: "standard"},
		domain.UsageEstimate{InputTokens: 100, OutputTokens: 100})
	guessed := c.Estimate(domain.OperationDescriptor{ModelID: "standard"},
		domain.UsageEstimate{InputTokens: 100, OutputTokens: 100, OutputEstimated: true})
	if guessed.Confidence >= exact.Confidence {
		t.Errorf("estimated output confidence %v, want below exact %v", guessed.Confidence, exact.Confidence)
	}
}

func TestPriorityPremiums(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil)
	usage := domain.UsageEstimate{InputTokens: 1000}

	cases := []struct {
		priority domain.Priority
		wantAdj  int64
	}{
		{domain.PriorityLow, -domain.Credits(1)},        // -10%
		{domain.PriorityNormal, 0},
		{domain.PriorityHigh, domain.Credits(10) / 4},   // +25%
		{domain.PriorityUrgent, domain.Credits(10) / 2}, // +50%
	}
	for _, tc := range cases {
		t.Run(string(tc.priority), func(t *testing.T) {
			got := c.Estimate(domain.OperationDescriptor{ModelID: "standard", Priority: tc.priority}, usage)
			if got.PriorityAdjustment != tc.wantAdj {
				t.Errorf("priority adjustment = %d, want %d", got.PriorityAdjustment, tc.wantAdj)
			}
		})
	}
}

func TestPremiumsStrictlyOrdered(t *testing.T) {
	order := []domain.Priority{domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh, domain.PriorityUrgent}
	for i := 1; i < len(order); i++ {
		if order[i-1].PremiumBps() >= order[i].PremiumBps() {
			t.Errorf("premium for %s (%d bps) not below %s (%d bps)",
				order[i-1], order[i-1].PremiumBps(), order[i], order[i].PremiumBps())
		}
	}
}

func TestFeatureSurchargesItemized(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil)
	got := c.Estimate(
		domain.OperationDescriptor{ModelID: "standard"},
		domain.UsageEstimate{InputTokens: 1000, Features: []string{"web_search", "code_execution", "made_up"}},
	)
	if len(got.FeatureCosts) != 2 {
		t.Fatalf("feature costs = %+v, want the two known features", got.FeatureCosts)
	}
	wantTotal := domain.Credits(10) + domain.Credits(2) + domain.Credits(3)
	if got.Total != wantTotal {
		t.Errorf("total = %d, want %d", got.Total, wantTotal)
	}
}

func TestImageCost(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil)
	got := c.Estimate(
		domain.OperationDescriptor{ModelID: "standard"},
		domain.UsageEstimate{Images: 3},
	)
	if got.ImageCost != domain.Credits(15) {
		t.Errorf("image cost = %d, want %d", got.ImageCost, domain.Credits(15))
	}
}

func TestMinimumFloor(t *testing.T) {
	cfg := DefaultConfig()
	c := NewCalculator(cfg, nil)
	got := c.Estimate(
		domain.OperationDescriptor{ModelID: "fast"},
		domain.UsageEstimate{InputTokens: 10}, // far below the floor
	)
	if got.Total != cfg.MinimumCost {
		t.Errorf("total = %d, want floor %d", got.Total, cfg.MinimumCost)
	}
}

func TestSurgeAppliedAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSurgeBps = 15000 // 1.5× cap for this policy
	c := NewCalculator(cfg, fixedDemand{domain.DemandSnapshot{
		QueueLength: 500,
		ErrorRate:   0.5,
		LoadRatio:   0.99,
	}})

	got := c.Estimate(domain.OperationDescriptor{ModelID: "standard"},
		domain.UsageEstimate{InputTokens: 1000})

	if got.Surge == nil {
		t.Fatal("expected an active surge under extreme load")
	}
	if got.Surge.MultiplierBps != cfg.MaxSurgeBps {
		t.Errorf("surge = %d bps, want capped at %d", got.Surge.MultiplierBps, cfg.MaxSurgeBps)
	}
	if got.Surge.Reason == "" {
		t.Error("surge must name its reason")
	}
	if got.Surge.EstimatedDuration <= 0 {
		t.Error("surge must estimate its duration")
	}
	// 1.5× cap on a 10-credit base.
	if got.Total != domain.Credits(15) {
		t.Errorf("total = %d, want %d", got.Total, domain.Credits(15))
	}
}

func TestNoSurgeAtNormalLoad(t *testing.T) {
	c := NewCalculator(DefaultConfig(), fixedDemand{domain.DemandSnapshot{
		QueueLength: 3,
		ErrorRate:   0.01,
		LoadRatio:   0.4,
	}})
	got := c.Estimate(domain.OperationDescriptor{ModelID: "standard"},
		domain.UsageEstimate{InputTokens: 1000})
	if got.Surge != nil || got.SurgeAdjustment != 0 {
		t.Errorf("surge at normal load: %+v adj=%d", got.Surge, got.SurgeAdjustment)
	}
}

func TestBatchDiscountTiers(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil)
	usage := domain.UsageEstimate{InputTokens: 10000} // 100 credits base

	cases := []struct {
		batch        int
		wantDiscount int64
	}{
		{0, 0},
		{1, 0},
		{9, 0},
		{10, -domain.Credits(5)},
		{50, -domain.Credits(10)},
		{100, -domain.Credits(15)},
	}
	for _, tc := range cases {
		got := c.Estimate(domain.OperationDescriptor{ModelID: "standard", BatchSize: tc.batch}, usage)
		if got.BatchDiscount != tc.wantDiscount {
			t.Errorf("batch %d: discount = %d, want %d", tc.batch, got.BatchDiscount, tc.wantDiscount)
		}
	}
}

func TestBreakdownSumsToTotal(t *testing.T) {
	c := NewCalculator(DefaultConfig(), fixedDemand{domain.DemandSnapshot{LoadRatio: 0.8}})
	got := c.Estimate(
		domain.OperationDescriptor{ModelID: "premium", Priority: domain.PriorityHigh, BatchSize: 20},
		domain.UsageEstimate{InputTokens: 2000, OutputTokens: 1000, Images: 2, Features: []string{"web_search"}},
	)

	var features int64
	for _, f := range got.FeatureCosts {
		features += f.Cost
	}
	sum := got.Base + got.ImageCost + features + got.PriorityAdjustment + got.SurgeAdjustment + got.BatchDiscount
	if sum != got.Total {
		t.Errorf("itemized sum %d != total %d (%+v)", sum, got.Total, got)
	}
}

func TestSurgeDurationGrowsWithQueue(t *testing.T) {
	short := surgeFor(domain.DemandSnapshot{QueueLength: 60}, 0)
	long := surgeFor(domain.DemandSnapshot{QueueLength: 200}, 0)
	if short == nil || long == nil {
		t.Fatal("both queues should trigger surge")
	}
	if long.EstimatedDuration <= short.EstimatedDuration {
		t.Errorf("duration %v for queue 200 should exceed %v for queue 60", long.EstimatedDuration, short.EstimatedDuration)
	}
	if short.EstimatedDuration < 2*time.Minute {
		t.Errorf("duration %v below the minimum clearing window", short.EstimatedDuration)
	}
}
