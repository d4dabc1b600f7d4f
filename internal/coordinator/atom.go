package coordinator

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OperationSummary is the per-request record the coordinator folds into a
// signature's behavior window (spec §3).
type OperationSummary struct {
	Signature        string
	RequestID        string
	Path             string
	Method           string
	StatusCode       int
	BotProbability   float64
	Confidence       float64
	ProcessingMs     float64
	EmittedSignalKeys []string
	Timestamp        time.Time
	ContentClass     string
	TransportClass   string
}

// Flag is one of a SignatureAtom's one-way state machine states (spec
// §4.11): Active -> Aberrant is one-way within a window, Evicted is
// terminal.
type Flag uint8

const (
	FlagActive Flag = iota
	FlagAberrant
	FlagEvicted
)

// Snapshot is the read-only cross-request view Query returns.
type Snapshot struct {
	RequestCount      int
	PathEntropy       float64
	TimingCV          float64
	AvgBotProbability float64
	AberrationScore   float64
	Aberrant          bool
	Flag              Flag
}

// Atom is the cross-request behavior record for one signature. All
// mutation happens inside mu, and the cached metrics are always consistent
// with the current history (spec §3 invariant).
type Atom struct {
	mu      sync.Mutex
	history []OperationSummary
	seen    map[string]struct{} // requestId -> present, for idempotent RecordAsync
	metrics Snapshot

	window                 time.Duration
	maxLen                 int
	aberrationThreshold    float64
	minRequestsForAberrant int
}

// NewAtom creates an empty atom bound to the coordinator's window
// parameters.
func NewAtom(window time.Duration, maxLen int, aberrationThreshold float64, minRequestsForAberrant int) *Atom {
	return &Atom{
		seen:                   make(map[string]struct{}),
		window:                 window,
		maxLen:                 maxLen,
		aberrationThreshold:    aberrationThreshold,
		minRequestsForAberrant: minRequestsForAberrant,
		metrics:                Snapshot{Flag: FlagActive},
	}
}

// Append folds a new summary into the atom's window, recomputes behavior
// metrics, and reports whether this append just crossed into aberrant
// (i.e. the caller should raise exactly one aberration signal). Duplicate
// requestIds are idempotent no-ops (spec §8 round-trip property).
func (a *Atom) Append(s OperationSummary) (justTurnedAberrant bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[s.RequestID]; dup && s.RequestID != "" {
		return false
	}
	if s.RequestID != "" {
		a.seen[s.RequestID] = struct{}{}
	}

	a.history = append(a.history, s)
	sort.SliceStable(a.history, func(i, j int) bool { return a.history[i].Timestamp.Before(a.history[j].Timestamp) })

	cutoff := s.Timestamp.Add(-a.window)
	a.history = evictOlderThan(a.history, cutoff)
	for len(a.history) > a.maxLen {
		a.history = a.history[1:]
	}

	wasAberrant := a.metrics.Aberrant
	wasEvicted := a.metrics.Flag == FlagEvicted
	a.metrics = computeMetrics(a.history, a.aberrationThreshold, a.minRequestsForAberrant)
	if wasEvicted {
		a.metrics.Flag = FlagEvicted
	} else {
		if a.metrics.Aberrant {
			a.metrics.Flag = FlagAberrant
		} else if wasAberrant {
			// one-way: once aberrant within a window, stays flagged until
			// eviction even if a later append brings the score back down.
			a.metrics.Aberrant = true
			a.metrics.Flag = FlagAberrant
		}
	}
	return a.metrics.Aberrant && !wasAberrant
}

// Snapshot returns a copy of the atom's current behavior metrics.
func (a *Atom) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// MarkEvicted transitions the atom to its terminal state.
func (a *Atom) MarkEvicted() {
	a.mu.Lock()
	a.metrics.Flag = FlagEvicted
	a.mu.Unlock()
}

// Len returns the current window size, for tests and LRU bookkeeping.
func (a *Atom) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

// BehaviorObservation is the subset of an atom's window the cluster engine
// needs to build a feature vector (spec §4.8 step 2), derived entirely
// from recorded OperationSummary history rather than tracked separately.
type BehaviorObservation struct {
	TimingCV          float64
	RequestRate       float64
	PathDiversity     float64
	PathEntropy       float64
	AvgBotProbability float64
	IntervalsSeconds  []float64
}

// Observation computes the current window's BehaviorObservation.
func (a *Atom) Observation() BehaviorObservation {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.history)
	if n == 0 {
		return BehaviorObservation{}
	}

	pathCounts := make(map[string]int, n)
	for _, h := range a.history {
		pathCounts[h.Path]++
	}

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		intervals = append(intervals, a.history[i].Timestamp.Sub(a.history[i-1].Timestamp).Seconds())
	}

	requestRate := 0.0
	if n >= 2 {
		spanMinutes := a.history[n-1].Timestamp.Sub(a.history[0].Timestamp).Minutes()
		if spanMinutes > 0 {
			requestRate = float64(n) / spanMinutes
		}
	}

	return BehaviorObservation{
		TimingCV:          a.metrics.TimingCV,
		RequestRate:       requestRate,
		PathDiversity:     float64(len(pathCounts)) / float64(n),
		PathEntropy:       a.metrics.PathEntropy,
		AvgBotProbability: a.metrics.AvgBotProbability,
		IntervalsSeconds:  intervals,
	}
}

func evictOlderThan(history []OperationSummary, cutoff time.Time) []OperationSummary {
	idx := 0
	for idx < len(history) && history[idx].Timestamp.Before(cutoff) {
		idx++
	}
	return history[idx:]
}

// computeMetrics implements the per-atom recomputation algorithm (spec
// §4.7 step 4).
func computeMetrics(history []OperationSummary, aberrationThreshold float64, minRequests int) Snapshot {
	n := len(history)
	if n == 0 {
		return Snapshot{Flag: FlagActive}
	}

	pathCounts := make(map[string]int, n)
	var botSum float64
	for _, h := range history {
		pathCounts[h.Path]++
		botSum += h.BotProbability
	}
	avgBot := botSum / float64(n)

	var entropy float64
	for _, count := range pathCounts {
		p := float64(count) / float64(n)
		entropy -= p * math.Log2(p)
	}

	cv := 0.0
	if n >= 2 {
		intervals := make([]float64, 0, n-1)
		for i := 1; i < n; i++ {
			d := history[i].Timestamp.Sub(history[i-1].Timestamp).Seconds()
			intervals = append(intervals, d)
		}
		mean := meanOf(intervals)
		if mean > 0 {
			cv = stddevOf(intervals, mean) / mean
		}
	}

	score := 0.0
	if avgBot > 0.6 {
		score += 0.3 * avgBot
	}
	if entropy > 3.0 {
		score += 0.25
	}
	if cv < 0.15 {
		score += 0.25
	}
	meanInterval := meanIntervalSeconds(history)
	if meanInterval < 2.0 {
		score += 0.20
	}
	if score > 1 {
		score = 1
	}

	aberrant := score >= aberrationThreshold && n >= minRequests

	return Snapshot{
		RequestCount:      n,
		PathEntropy:       entropy,
		TimingCV:          cv,
		AvgBotProbability: avgBot,
		AberrationScore:   score,
		Aberrant:          aberrant,
		Flag:              FlagActive,
	}
}

func meanIntervalSeconds(history []OperationSummary) float64 {
	n := len(history)
	if n < 2 {
		return math.Inf(1)
	}
	span := history[n-1].Timestamp.Sub(history[0].Timestamp).Seconds()
	return span / float64(n-1)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
