package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// This file lives in package reputation (not reputation_test) because it
// needs to override Cache.now, which has no exported seam: production
// callers only ever get time.Now via New(cfg).

func TestCache_ConfirmedBadRequiresSupportStableForStabilityWindow(t *testing.T) {
	cfg := Config{ProbableSupport: 3.0, ConfirmedSupport: 10.0, HalfLife: 7 * 24 * time.Hour}
	c := New(cfg)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	var p Pattern
	for i := 0; i < 15; i++ {
		p = c.Observe("bad-ua", 0.95)
	}
	require.GreaterOrEqual(t, p.Support, cfg.ConfirmedSupport)
	assert.Equal(t, StateProbablyBad, p.State, "support crossed the confirmed threshold but no time has passed yet")

	current = current.Add(stabilityWindow - time.Minute)
	p = c.Observe("bad-ua", 0.95)
	assert.Equal(t, StateProbablyBad, p.State, "just under the stability window should not confirm yet")

	current = current.Add(2 * time.Minute)
	p = c.Observe("bad-ua", 0.95)
	assert.Equal(t, StateConfirmedBad, p.State, "support sustained above threshold for a full stability window should confirm")
}

func TestCache_SupportDroppingBelowConfirmedResetsStabilityClock(t *testing.T) {
	cfg := Config{ProbableSupport: 3.0, ConfirmedSupport: 10.0, HalfLife: 7 * 24 * time.Hour}
	c := New(cfg)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	for i := 0; i < 15; i++ {
		c.Observe("flaky", 0.95)
	}
	require.Equal(t, StateProbablyBad, c.Get("flaky").State)

	// Let support decay back under the confirmed threshold.
	current = current.Add(96 * time.Hour)
	dropped := c.Observe("flaky", 0.0)
	require.Less(t, dropped.Support, cfg.ConfirmedSupport)

	// Climb back over the threshold at the same instant; the stability
	// clock should start fresh from here, not from the original crossing.
	var p Pattern
	for i := 0; i < 15; i++ {
		p = c.Observe("flaky", 0.95)
	}
	require.GreaterOrEqual(t, p.Support, cfg.ConfirmedSupport)
	assert.Equal(t, StateProbablyBad, p.State, "re-crossing the threshold should not confirm immediately")

	current = current.Add(time.Minute)
	p = c.Observe("flaky", 0.95)
	assert.Equal(t, StateProbablyBad, p.State, "only a minute has passed since the clock reset")

	current = current.Add(stabilityWindow)
	p = c.Observe("flaky", 0.95)
	assert.Equal(t, StateConfirmedBad, p.State, "support has stayed above threshold for a full stability window since the reset")
}

func TestCache_ConfirmedGoodAlsoRequiresStabilityWindow(t *testing.T) {
	cfg := Config{ProbableSupport: 3.0, ConfirmedSupport: 10.0, HalfLife: 7 * 24 * time.Hour}
	c := New(cfg)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	var p Pattern
	for i := 0; i < 15; i++ {
		p = c.Observe("good-client", 0.05)
	}
	assert.Equal(t, StateProbablyGood, p.State)

	current = current.Add(stabilityWindow)
	p = c.Observe("good-client", 0.05)
	assert.Equal(t, StateConfirmedGood, p.State)
}
