package reputation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northboundlabs/botshield/internal/reputation"
)

func defaultConfig() reputation.Config {
	return reputation.Config{ProbableSupport: 3.0, ConfirmedSupport: 10.0, MinSupportAbort: 10, MinSupportAllow: 10}
}

func TestCache_UnseenPatternIsNeutral(t *testing.T) {
	c := reputation.New(defaultConfig())
	p := c.Get("unseen")
	assert.Equal(t, reputation.StateNeutral, p.State)
}

func TestCache_RepeatedBadObservationsEscalate(t *testing.T) {
	c := reputation.New(defaultConfig())
	var p reputation.Pattern
	for i := 0; i < 15; i++ {
		p = c.Observe("bad-ua", 0.9)
	}
	// Support crosses ConfirmedSupport within this burst, but no real time
	// has elapsed, so it cannot yet satisfy the stability window.
	assert.Equal(t, reputation.StateProbablyBad, p.State)
}

func TestCache_ManualStateRejectsDemotion(t *testing.T) {
	c := reputation.New(defaultConfig())
	c.SetManual("trusted", true)
	err := c.Demote("trusted", reputation.StateConfirmedBad)
	require.Error(t, err)
	assert.Equal(t, reputation.StateManuallyAllowed, c.Get("trusted").State)
}
