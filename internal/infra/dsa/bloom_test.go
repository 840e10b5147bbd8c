package dsa

import (
	"fmt"
	"testing"
)

func TestFilterNoFalseNegatives(t *testing.T) {
	f := NewFilter(1000, 0.001)

	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("key-%d", i))
	}
	for i := 0; i < 1000; i++ {
		if !f.MaybeContains(fmt.Sprintf("key-%d", i)) {
			t.Fatalf("added key-%d reported absent", i)
		}
	}
	if f.Count() != 1000 {
		t.Errorf("count = %d, want 1000", f.Count())
	}
}

func TestFilterRejectsUnseenKeys(t *testing.T) {
	f := NewFilter(1000, 0.001)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("key-%d", i))
	}

	falsePositives := 0
	for i := 0; i < 10000; i++ {
		if f.MaybeContains(fmt.Sprintf("other-%d", i)) {
			falsePositives++
		}
	}
	// Sized for 0.1%; allow an order of magnitude of slack.
	if falsePositives > 100 {
		t.Errorf("false positives = %d of 10000, filter badly sized", falsePositives)
	}
}

func TestFilterEstimatedFPRate(t *testing.T) {
	f := NewFilter(1000, 0.001)
	if rate := f.EstimatedFPRate(); rate != 0 {
		t.Errorf("empty filter FP rate = %v, want 0", rate)
	}

	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("key-%d", i))
	}
	if rate := f.EstimatedFPRate(); rate <= 0 || rate > 0.01 {
		t.Errorf("FP rate at capacity = %v, want near the 0.001 design point", rate)
	}
}

func TestFilterDegenerateSizing(t *testing.T) {
	f := NewFilter(0, -1) // falls back to defaults
	f.Add("a")
	if !f.MaybeContains("a") {
		t.Error("default-sized filter lost a key")
	}
}
