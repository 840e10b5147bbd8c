// Package anomaly watches the committed transaction stream for spending
// deviations: amount outliers against a per-user statistical baseline,
// frequency bursts, duplicate charges, and reported chain integrity breaks.
// Findings are observational and never mutate the ledger.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/credd-network/credd/internal/domain"
	"github.com/credd-network/credd/internal/infra/observability"
)

// MaxConsecutiveAnomalies is the streak length that escalates any finding
// to CRITICAL.
const MaxConsecutiveAnomalies = 3

// DetectorConfig tunes the checks.
type DetectorConfig struct {
	// MinSamples is how many amounts a user's baseline needs before the
	// z-score check may fire.
	MinSamples int64

	// ZThreshold is the amount deviation, in standard deviations, that
	// counts as unusual.
	ZThreshold float64

	// BurstWindow / BurstLimit flag more than BurstLimit transactions
	// inside one BurstWindow.
	BurstWindow time.Duration
	BurstLimit  int

	// DuplicateWindow flags equal-fingerprint charges under different
	// idempotency keys arriving within it.
	DuplicateWindow time.Duration

	// ProfileExpiry ages out baselines for inactive users.
	ProfileExpiry time.Duration
}

// DefaultDetectorConfig returns the stock thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinSamples:      10,
		ZThreshold:      3.0,
		BurstWindow:     time.Minute,
		BurstLimit:      20,
		DuplicateWindow: 2 * time.Minute,
		ProfileExpiry:   90 * 24 * time.Hour,
	}
}

// ─── User Profiles ──────────────────────────────────────────────────────────

// UserProfile is the per-user spending baseline. Amount statistics use
// Welford's online algorithm over absolute amounts, so neither the raw
// samples nor a second pass are ever needed.
type UserProfile struct {
	UserID string

	AmountCount int64
	AmountMean  float64
	amountM2    float64

	ConsecutiveAnomalies int
	LastSeen             time.Time

	// recent holds transaction times inside the burst window; fingerprints
	// maps metadata fingerprints to their last sighting.
	recent       []time.Time
	fingerprints map[string]fpRecord
}

type fpRecord struct {
	txID string
	key  string
	at   time.Time
}

// observeAmount folds one absolute amount into the running statistics.
func (p *UserProfile) observeAmount(amount float64) {
	p.AmountCount++
	delta := amount - p.AmountMean
	p.AmountMean += delta / float64(p.AmountCount)
	p.amountM2 += delta * (amount - p.AmountMean)
}

// AmountStddev returns the sample standard deviation of observed amounts.
func (p *UserProfile) AmountStddev() float64 {
	if p.AmountCount < 2 {
		return 0
	}
	return math.Sqrt(p.amountM2 / float64(p.AmountCount-1))
}

// ─── Detector ───────────────────────────────────────────────────────────────

// Result is the outcome of analyzing one transaction.
type Result struct {
	IsAnomaly bool
	Type      domain.AnomalyType
	Severity  domain.Severity
	Detail    string
}

// Detector holds the per-user baselines and runs the checks. Safe for
// concurrent use.
type Detector struct {
	cfg   DetectorConfig
	store domain.AnomalyStore
	log   *logrus.Entry

	mu       sync.Mutex
	profiles map[string]*UserProfile
	total    int64

	now func() time.Time
}

// NewDetector creates a detector. store may be nil; findings are then only
// returned, not persisted.
func NewDetector(cfg DetectorConfig, store domain.AnomalyStore) *Detector {
	return &Detector{
		cfg:      cfg,
		store:    store,
		log:      logrus.WithField("component", "anomaly"),
		profiles: make(map[string]*UserProfile),
		now:      time.Now,
	}
}

// Run consumes the post-commit stream until ctx is done, persisting every
// finding.
func (d *Detector) Run(ctx context.Context, events <-chan domain.CreditTransaction) {
	d.log.Info("anomaly detector started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("anomaly detector stopped")
			return
		case tx, ok := <-events:
			if !ok {
				return
			}
			res := d.Analyze(&tx)
			if res.IsAnomaly {
				d.record(ctx, &tx, res)
			}
		}
	}
}

// Analyze runs all checks against one committed transaction and updates the
// user's baseline. The strongest finding wins; a streak of three or more
// anomalous transactions escalates to CRITICAL.
func (d *Detector) Analyze(tx *domain.CreditTransaction) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	p := d.profile(tx.UserID)
	p.LastSeen = now

	res := d.checkDuplicate(p, tx, now)
	if !res.IsAnomaly {
		res = d.checkBurst(p, now)
	}
	if !res.IsAnomaly {
		res = d.checkAmount(p, tx)
	}

	// Baseline updates happen after the checks so an outlier is judged
	// against the history that preceded it.
	p.observeAmount(math.Abs(float64(tx.Amount)))
	p.recent = append(p.recent, now)
	p.trimRecent(now, d.cfg.BurstWindow)
	if fp := chargeFingerprint(tx); fp != "none" {
		p.fingerprints[fp] = fpRecord{txID: tx.ID, key: tx.IdempotencyKey, at: now}
	}

	if res.IsAnomaly {
		p.ConsecutiveAnomalies++
		d.total++
		if p.ConsecutiveAnomalies >= MaxConsecutiveAnomalies {
			res.Severity = domain.SevCritical
		}
	} else {
		p.ConsecutiveAnomalies = 0
	}
	return res
}

// ReportIntegrityViolation records a chain break found by verification.
// Always CRITICAL, always persisted.
func (d *Detector) ReportIntegrityViolation(ctx context.Context, userID, detail string, txIDs ...string) {
	d.mu.Lock()
	d.total++
	d.mu.Unlock()

	finding := &domain.AuditAnomaly{
		ID:             ulid.Make().String(),
		Type:           domain.AnomalyIntegrityViolation,
		Severity:       domain.SevCritical,
		UserID:         userID,
		TransactionIDs: txIDs,
		Detail:         detail,
		DetectedAt:     d.now(),
	}
	d.persist(ctx, finding)
}

// ─── Checks ─────────────────────────────────────────────────────────────────

func (d *Detector) checkAmount(p *UserProfile, tx *domain.CreditTransaction) Result {
	if p.AmountCount < d.cfg.MinSamples {
		return Result{}
	}
	stddev := p.AmountStddev()
	if stddev == 0 {
		return Result{}
	}
	z := (math.Abs(float64(tx.Amount)) - p.AmountMean) / stddev
	if z <= d.cfg.ZThreshold {
		return Result{}
	}
	return Result{
		IsAnomaly: true,
		Type:      domain.AnomalyUnusualAmount,
		Severity:  domain.SevWarning,
		Detail: fmt.Sprintf("amount %s credits is %.1f standard deviations above the user's baseline",
			domain.FormatCredits(tx.Amount), z),
	}
}

func (d *Detector) checkBurst(p *UserProfile, now time.Time) Result {
	p.trimRecent(now, d.cfg.BurstWindow)
	if len(p.recent)+1 <= d.cfg.BurstLimit {
		return Result{}
	}
	return Result{
		IsAnomaly: true,
		Type:      domain.AnomalyFrequencySpike,
		Severity:  domain.SevWarning,
		Detail:    "transaction frequency exceeded the burst limit for the window",
	}
}

// chargeFingerprint keys duplicate detection on the amount as well as the
// metadata: the same work at a different price is a distinct charge, not a
// repeat.
func chargeFingerprint(tx *domain.CreditTransaction) string {
	fp := tx.Metadata.Fingerprint()
	if fp == "none" {
		return fp
	}
	return fmt.Sprintf("%s|%d", fp, tx.Amount)
}

func (d *Detector) checkDuplicate(p *UserProfile, tx *domain.CreditTransaction, now time.Time) Result {
	fp := chargeFingerprint(tx)
	if fp == "none" {
		// Untyped metadata is too generic to call two charges duplicates.
		return Result{}
	}
	prev, seen := p.fingerprints[fp]
	if !seen || now.Sub(prev.at) > d.cfg.DuplicateWindow {
		return Result{}
	}
	if prev.key == tx.IdempotencyKey {
		// Same key means the ledger already deduplicated it.
		return Result{}
	}
	return Result{
		IsAnomaly: true,
		Type:      domain.AnomalyDuplicateTx,
		Severity:  domain.SevWarning,
		Detail:    "repeated charge for the same logical event under a fresh idempotency key",
	}
}

// ─── Profile Maintenance ────────────────────────────────────────────────────

// GetProfile returns the user's baseline, or nil before any transactions.
func (d *Detector) GetProfile(userID string) *UserProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profiles[userID]
}

// ProfileCount returns the number of tracked users.
func (d *Detector) ProfileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.profiles)
}

// Stats summarizes detector state for the ops endpoint.
type Stats struct {
	ProfileCount   int   `json:"profile_count"`
	TotalAnomalies int64 `json:"total_anomalies"`
}

// DetectorStats returns a snapshot of the detector's counters.
func (d *Detector) DetectorStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{ProfileCount: len(d.profiles), TotalAnomalies: d.total}
}

// CleanupStaleProfiles drops baselines idle past the expiry. Returns the
// number removed.
func (d *Detector) CleanupStaleProfiles() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.cfg.ProfileExpiry)
	removed := 0
	for id, p := range d.profiles {
		if p.LastSeen.Before(cutoff) {
			delete(d.profiles, id)
			removed++
		}
	}
	if removed > 0 {
		d.log.WithField("removed", removed).Info("stale spending profiles dropped")
	}
	return removed
}

func (d *Detector) profile(userID string) *UserProfile {
	p, ok := d.profiles[userID]
	if !ok {
		p = &UserProfile{
			UserID:       userID,
			fingerprints: make(map[string]fpRecord),
		}
		d.profiles[userID] = p
	}
	return p
}

func (p *UserProfile) trimRecent(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(p.recent) && p.recent[i].Before(cutoff) {
		i++
	}
	p.recent = p.recent[i:]
}

// record persists one finding from the stream consumer.
func (d *Detector) record(ctx context.Context, tx *domain.CreditTransaction, res Result) {
	finding := &domain.AuditAnomaly{
		ID:             ulid.Make().String(),
		Type:           res.Type,
		Severity:       res.Severity,
		UserID:         tx.UserID,
		TransactionIDs: []string{tx.ID},
		Detail:         res.Detail,
		DetectedAt:     d.now(),
	}
	d.persist(ctx, finding)
}

func (d *Detector) persist(ctx context.Context, finding *domain.AuditAnomaly) {
	observability.AnomaliesDetected.WithLabelValues(string(finding.Type)).Inc()
	d.log.WithFields(logrus.Fields{
		"type":     finding.Type,
		"severity": finding.Severity.String(),
		"user_id":  finding.UserID,
	}).Warn(finding.Detail)

	if d.store == nil {
		return
	}
	if err := d.store.InsertAnomaly(ctx, finding); err != nil {
		d.log.WithError(err).Error("failed to persist anomaly finding")
	}
}
