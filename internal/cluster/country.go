package cluster

import (
	"math"
	"sync"
	"time"
)

// CountryReputationTracker maintains a per-country EMA bot rate with
// decay factor exp(-Δt/τ) (spec §4.8).
type CountryReputationTracker struct {
	mu            sync.Mutex
	tauHours      float64
	minSampleSize int
	entries       map[string]*countryEntry
	now           func() time.Time
}

type countryEntry struct {
	rate      float64
	samples   int
	updatedAt time.Time
}

// NewCountryReputationTracker builds a tracker with the given decay time
// constant (τ, in hours) and minimum sample size before it returns a
// non-zero rate.
func NewCountryReputationTracker(tauHours float64, minSampleSize int) *CountryReputationTracker {
	return &CountryReputationTracker{
		tauHours:      tauHours,
		minSampleSize: minSampleSize,
		entries:       make(map[string]*countryEntry),
		now:           time.Now,
	}
}

// Observe folds one bot-probability sample for a country into its EMA.
func (t *CountryReputationTracker) Observe(countryCode string, botProbability float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[countryCode]
	if !ok {
		t.entries[countryCode] = &countryEntry{rate: botProbability, samples: 1, updatedAt: now}
		return
	}

	elapsedHours := now.Sub(entry.updatedAt).Hours()
	decay := 1.0
	if t.tauHours > 0 && elapsedHours > 0 {
		decay = math.Exp(-elapsedHours / t.tauHours)
	}
	entry.rate = entry.rate*decay + botProbability*(1-decay)
	entry.samples++
	entry.updatedAt = now
}

// Rate returns the country's current EMA bot rate, or 0 until
// minSampleSize observations have accumulated (spec §4.8).
func (t *CountryReputationTracker) Rate(countryCode string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[countryCode]
	if !ok || entry.samples < t.minSampleSize {
		return 0
	}
	return entry.rate
}
