// Package reputation maps pattern identifiers (UA hash, CIDR, ...) to a
// long-lived reputation state with time-decayed support (spec §4.9).
package reputation

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	boterrors "github.com/northboundlabs/botshield/internal/shared/errors"
)

// State is a pattern's classification.
type State string

const (
	StateManuallyAllowed State = "ManuallyAllowed"
	StateConfirmedGood   State = "ConfirmedGood"
	StateProbablyGood    State = "ProbablyGood"
	StateNeutral         State = "Neutral"
	StateSuspect         State = "Suspect"
	StateProbablyBad     State = "ProbablyBad"
	StateConfirmedBad    State = "ConfirmedBad"
	StateManuallyBlocked State = "ManuallyBlocked"
)

func (s State) isManual() bool {
	return s == StateManuallyAllowed || s == StateManuallyBlocked
}

// Pattern is one entry in the cache.
type Pattern struct {
	PatternID string
	State     State
	BotScore  float64
	Support   float64
	UpdatedAt time.Time

	// ConfirmedEligibleSince is when Support most recently rose to (and has
	// since stayed at or above) ConfirmedSupport while the pattern sat in a
	// Probably* state. It resets to zero whenever Support falls back below
	// that threshold. Probably*->Confirmed* only fires once this has held
	// for stabilityWindow (spec §4.11 "score stable for >=1 day").
	ConfirmedEligibleSince time.Time
}

// Config carries the thresholds governing automatic state transitions
// (mirrors config.ReputationConfig).
type Config struct {
	ProbableSupport  float64 // support crossing this moves Neutral -> Probably*
	ConfirmedSupport float64 // support crossing this moves Probably* -> Confirmed*
	HalfLife         time.Duration
	MinSupportAbort  float64
	MinSupportAllow  float64
}

// Cache maps patternId -> Pattern. ManuallyAllowed/ManuallyBlocked and
// Confirmed* states are monotonic: only an explicit admin call can change
// them; Neutral/Suspect/Probably* transition automatically from
// accumulated, time-decayed support.
type Cache struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]*Pattern
	now     func() time.Time
}

// New builds an empty reputation cache.
func New(cfg Config) *Cache {
	return &Cache{cfg: cfg, entries: make(map[string]*Pattern), now: time.Now}
}

// Get returns the current pattern, or a zero-value Neutral pattern if
// unseen.
func (c *Cache) Get(patternID string) Pattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.entries[patternID]; ok {
		return decayed(*p, c.cfg.HalfLife, c.now())
	}
	return Pattern{PatternID: patternID, State: StateNeutral, UpdatedAt: c.now()}
}

// Observe folds a new observation (1 support unit, with an associated bot
// score) into a pattern's time-decayed support, then applies the
// probabilistic state machine for non-manual states.
func (c *Cache) Observe(patternID string, observedBotScore float64) Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	existing, ok := c.entries[patternID]
	if !ok {
		existing = &Pattern{PatternID: patternID, State: StateNeutral, UpdatedAt: now}
	}
	decayedPattern := decayed(*existing, c.cfg.HalfLife, now)
	decayedPattern.Support += 1.0
	decayedPattern.BotScore = ema(decayedPattern.BotScore, observedBotScore, 0.2)
	decayedPattern.UpdatedAt = now

	if !decayedPattern.State.isManual() {
		decayedPattern.State, decayedPattern.ConfirmedEligibleSince = nextState(decayedPattern, c.cfg, now)
	}

	c.entries[patternID] = &decayedPattern
	return decayedPattern
}

// SetManual sets a sticky admin override. Always succeeds.
func (c *Cache) SetManual(patternID string, allowed bool) Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	state := StateManuallyBlocked
	score := 0.95
	if allowed {
		state = StateManuallyAllowed
		score = 0.05
	}
	p := Pattern{PatternID: patternID, State: state, BotScore: score, Support: math.Max(c.cfg.ConfirmedSupport, 10), UpdatedAt: now}
	c.entries[patternID] = &p
	log.Info().Str("pattern", patternID).Str("state", string(state)).Msg("reputation manual override")
	return p
}

// Demote attempts to move a pattern to a lower (less trusted) state. A
// Manual state rejects demotion (spec §7 ReputationStateViolation) and is
// audit-logged rather than applied.
func (c *Cache) Demote(patternID string, target State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.entries[patternID]
	if ok && existing.State.isManual() {
		log.Error().Str("pattern", patternID).Str("state", string(existing.State)).Msg("rejected demotion of manual reputation state")
		return boterrors.New(boterrors.KindReputationStateViolation, "cannot demote manual reputation state for "+patternID)
	}
	if !ok {
		existing = &Pattern{PatternID: patternID, UpdatedAt: c.now()}
	}
	existing.State = target
	existing.UpdatedAt = c.now()
	existing.ConfirmedEligibleSince = time.Time{}
	c.entries[patternID] = existing
	return nil
}

// stabilityWindow is how long support must stay at or above
// cfg.ConfirmedSupport before a Probably* pattern is promoted to
// Confirmed* (spec §4.11 "score stable for >=1 day").
const stabilityWindow = 24 * time.Hour

func nextState(p Pattern, cfg Config, now time.Time) (State, time.Time) {
	switch p.State {
	case StateConfirmedGood, StateConfirmedBad:
		return p.State, p.ConfirmedEligibleSince // confirmed states only change via Demote/SetManual
	case StateProbablyGood:
		return probablyToConfirmed(p, cfg, now, StateConfirmedGood, StateProbablyGood)
	case StateProbablyBad:
		return probablyToConfirmed(p, cfg, now, StateConfirmedBad, StateProbablyBad)
	default: // Neutral, Suspect
		if p.Support < cfg.ProbableSupport {
			if p.BotScore >= 0.6 {
				return StateSuspect, time.Time{}
			}
			return StateNeutral, time.Time{}
		}
		if p.BotScore >= 0.6 {
			return StateProbablyBad, time.Time{}
		}
		return StateProbablyGood, time.Time{}
	}
}

// probablyToConfirmed holds a pattern in its Probably* state until support
// has stayed at or above cfg.ConfirmedSupport continuously for
// stabilityWindow, tracking when that streak began in the returned time.
// A drop back below the threshold resets the streak.
func probablyToConfirmed(p Pattern, cfg Config, now time.Time, confirmed, stayProbably State) (State, time.Time) {
	if p.Support < cfg.ConfirmedSupport {
		return stayProbably, time.Time{}
	}
	since := p.ConfirmedEligibleSince
	if since.IsZero() {
		since = now
	}
	if now.Sub(since) >= stabilityWindow {
		return confirmed, since
	}
	return stayProbably, since
}

// decayed applies the same half-life EMA decay the country tracker uses
// (spec §4.8 CountryReputationTracker, reused here per spec §4.9 "same
// time-decayed EMA as the country tracker").
func decayed(p Pattern, halfLife time.Duration, now time.Time) Pattern {
	if halfLife <= 0 || p.UpdatedAt.IsZero() {
		return p
	}
	elapsed := now.Sub(p.UpdatedAt)
	if elapsed <= 0 {
		return p
	}
	decay := math.Exp(-elapsed.Seconds() / halfLife.Seconds())
	p.Support *= decay
	return p
}

func ema(current, sample, alpha float64) float64 {
	if current == 0 {
		return sample
	}
	return alpha*sample + (1-alpha)*current
}
