package signal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northboundlabs/botshield/internal/signal"
)

func TestSink_RaiseAndSense(t *testing.T) {
	s := signal.NewSink(10)
	s.Raise(signal.NewKey("ua", "is_suspicious"), signal.Of(true), "ua-detector")
	s.Raise(signal.NewKey("ip", "is_datacenter"), signal.Of(false), "geo-detector")

	all := s.Sense("**")
	require.Len(t, all, 2)
	// newest-first
	assert.Equal(t, signal.NewKey("ip", "is_datacenter"), all[0].Key)

	matches := s.Sense("ua.*")
	require.Len(t, matches, 1)
	assert.Equal(t, signal.NewKey("ua", "is_suspicious"), matches[0].Key)
}

func TestSink_SenseLatest(t *testing.T) {
	s := signal.NewSink(10)
	_, ok := s.SenseLatest("ua.*")
	assert.False(t, ok)

	s.Raise(signal.NewKey("ua", "score"), signal.OfFloat(0.2), "d1")
	s.Raise(signal.NewKey("ua", "score"), signal.OfFloat(0.9), "d2")

	latest, ok := s.SenseLatest("ua.score")
	require.True(t, ok)
	assert.Equal(t, "d2", latest.DetectorID)
}

func TestSink_OverCapacityEvictsOldest(t *testing.T) {
	s := signal.NewSink(2)
	s.Raise(signal.NewKey("a"), signal.OfInt(1), "d")
	s.Raise(signal.NewKey("b"), signal.OfInt(2), "d")
	s.Raise(signal.NewKey("c"), signal.OfInt(3), "d")

	stats := s.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, uint64(1), stats.Dropped)

	all := s.Sense("**")
	require.Len(t, all, 2)
	assert.Equal(t, signal.NewKey("b"), all[1].Key)
	assert.Equal(t, signal.NewKey("c"), all[0].Key)
}

func TestSink_Has(t *testing.T) {
	s := signal.NewSink(10)
	assert.False(t, s.Has("transport.is_streaming"))
	s.Raise(signal.NewKey("transport", "is_streaming"), signal.Of(true), "d")
	assert.True(t, s.Has("transport.is_streaming"))
	assert.True(t, s.Has("transport.*"))
}

func TestSink_SweepOlderThan(t *testing.T) {
	s := signal.NewSink(10)
	s.Raise(signal.NewKey("a"), signal.OfInt(1), "d")
	time.Sleep(2 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(2 * time.Millisecond)
	s.Raise(signal.NewKey("b"), signal.OfInt(2), "d")

	removed := s.SweepOlderThan(cutoff)
	assert.Equal(t, 1, removed)
	all := s.Sense("**")
	require.Len(t, all, 1)
	assert.Equal(t, signal.NewKey("b"), all[0].Key)
}

func TestPayload_CoerceUnknownShapeIsNil(t *testing.T) {
	p := signal.Coerce(struct{ X int }{X: 1})
	assert.Equal(t, signal.KindNil, p.Kind)
}
