// Package dsa holds the probabilistic data structures backing hot paths.
package dsa

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// ─── Bloom Filter ───────────────────────────────────────────────────────────
// Set membership for idempotency keys. "Not present" is authoritative (zero
// false negatives once a key is added), so the write path can skip the
// storage lookup for keys it has provably never recorded. "Present" only
// means "check storage".

// Filter is a space-efficient probabilistic set. Safe for concurrent use.
type Filter struct {
	mu      sync.RWMutex
	bits    []uint64
	numBits uint
	numHash uint
	count   int
}

// NewFilter sizes a filter for the expected element count at the target
// false positive rate, using the optimal formulas
//
//	m = -(n * ln(p)) / (ln(2)^2)   — total bits
//	k = (m/n) * ln(2)              — hash functions
func NewFilter(expected int, fpRate float64) *Filter {
	if expected <= 0 {
		expected = 100000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}

	n := float64(expected)
	m := uint(math.Ceil(-(n * math.Log(fpRate)) / (math.Log(2) * math.Log(2))))
	k := uint(math.Ceil(float64(m) / n * math.Log(2)))
	if m == 0 {
		m = 64
	}
	if k == 0 {
		k = 1
	}

	return &Filter{
		bits:    make([]uint64, (m+63)/64),
		numBits: m,
		numHash: k,
	}
}

// Add inserts a key.
func (f *Filter) Add(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h1, h2 := baseHashes(key)
	for i := uint(0); i < f.numHash; i++ {
		pos := f.nthHash(h1, h2, i)
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MaybeContains reports whether the key might have been added. False is
// definitive; true requires an exact check elsewhere.
func (f *Filter) MaybeContains(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := baseHashes(key)
	for i := uint(0); i < f.numHash; i++ {
		pos := f.nthHash(h1, h2, i)
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of keys added.
func (f *Filter) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// EstimatedFPRate returns the current false positive probability given how
// many keys have been added: (1 - e^(-kn/m))^k.
func (f *Filter) EstimatedFPRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	m := float64(f.numBits)
	k := float64(f.numHash)
	n := float64(f.count)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// baseHashes derives two independent 32-bit hashes; the k positions come
// from double hashing (Kirsch–Mitzenmacher): h_i(x) = h1(x) + i*h2(x).
func baseHashes(key string) (uint32, uint32) {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint32(sum[0:4]), binary.BigEndian.Uint32(sum[4:8])
}

func (f *Filter) nthHash(h1, h2 uint32, i uint) uint {
	return uint((uint64(h1) + uint64(i)*uint64(h2)) % uint64(f.numBits))
}
