package builtin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/detector/builtin"
	"github.com/northboundlabs/botshield/internal/reputation"
	"github.com/northboundlabs/botshield/internal/signal"
)

func newState(request detector.RequestSnapshot) (detector.State, *signal.Sink) {
	sink := signal.NewSink(100)
	return detector.State{Sink: sink, Request: request}, sink
}

func TestUADetector_FlagsKnownScrapingTool(t *testing.T) {
	d := builtin.NewUADetector()
	state, sink := newState(detector.RequestSnapshot{UserAgent: "python-requests/2.31"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, detector.BotTypeScraper, contribs[0].BotType)
	assert.True(t, sink.Has("ua.known_tool"))
}

func TestUADetector_RecognisesSearchCrawlerAsLowerRisk(t *testing.T) {
	d := builtin.NewUADetector()
	state, _ := newState(detector.RequestSnapshot{UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, detector.BotTypeSearchEngine, contribs[0].BotType)
}

func TestUADetector_SecurityToolUAIsVerifiedBadEarlyExit(t *testing.T) {
	d := builtin.NewUADetector()
	state, sink := newState(detector.RequestSnapshot{UserAgent: "Mozilla/5.0 (compatible; Nmap Scripting Engine; https://nmap.org/book/nse.html)"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, detector.BotTypeMaliciousBot, contribs[0].BotType)
	assert.True(t, contribs[0].TriggerEarlyExit)
	assert.Equal(t, detector.VerifiedBad, contribs[0].Verified)
	assert.GreaterOrEqual(t, contribs[0].ConfidenceDelta, 0.9)
	assert.True(t, sink.Has("ua.known_security_tool"))
}

func TestUADetector_EmptyUserAgentIsGenericLowConfidence(t *testing.T) {
	d := builtin.NewUADetector()
	state, sink := newState(detector.RequestSnapshot{UserAgent: ""})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Less(t, contribs[0].ConfidenceDelta, 0.5)
	assert.True(t, sink.Has("ua.missing"))
}

func TestUADetector_OrdinaryBrowserUAContributesNothing(t *testing.T) {
	d := builtin.NewUADetector()
	state, _ := newState(detector.RequestSnapshot{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, contribs)
}

func TestHoneypotDetector_TripsOnKnownDecoyPath(t *testing.T) {
	d := builtin.NewHoneypotDetector()
	state, sink := newState(detector.RequestSnapshot{Path: "/.env"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.True(t, contribs[0].TriggerEarlyExit)
	assert.Equal(t, detector.BotTypeMaliciousBot, contribs[0].BotType)
	assert.Equal(t, detector.VerifiedBad, contribs[0].Verified)
	assert.True(t, sink.Has("honeypot.hit"))
}

func TestHoneypotDetector_IgnoresOrdinaryPath(t *testing.T) {
	d := builtin.NewHoneypotDetector()
	state, _ := newState(detector.RequestSnapshot{Path: "/api/v1/products"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, contribs)
}

func TestReputationDetector_ConfirmedBadWithSupportTriggersEarlyExit(t *testing.T) {
	cache := reputation.New(reputation.Config{ProbableSupport: 3, ConfirmedSupport: 8, HalfLife: time.Hour})
	for i := 0; i < 10; i++ {
		cache.Observe("sig-bad", 0.95)
	}

	d := builtin.NewReputationDetector(cache, 5, 5, nil)
	state, _ := newState(detector.RequestSnapshot{Signature: "sig-bad"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.True(t, contribs[0].TriggerEarlyExit)
	assert.Equal(t, detector.BotTypeMaliciousBot, contribs[0].BotType)
}

func TestReputationDetector_ConfirmedGoodIsStrongButNotEarlyExit(t *testing.T) {
	cache := reputation.New(reputation.Config{ProbableSupport: 3, ConfirmedSupport: 8, HalfLife: time.Hour})
	for i := 0; i < 10; i++ {
		cache.Observe("sig-good", 0.05)
	}

	d := builtin.NewReputationDetector(cache, 5, 5, nil)
	state, _ := newState(detector.RequestSnapshot{Signature: "sig-good"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.False(t, contribs[0].TriggerEarlyExit)
	assert.Equal(t, detector.BotTypeHuman, contribs[0].BotType)
}

func TestReputationDetector_NeutralPatternContributesNothing(t *testing.T) {
	cache := reputation.New(reputation.Config{ProbableSupport: 3, ConfirmedSupport: 8, HalfLife: time.Hour})
	d := builtin.NewReputationDetector(cache, 5, 5, nil)
	state, sink := newState(detector.RequestSnapshot{Signature: "never-seen"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, contribs)
	assert.True(t, sink.Has("reputation.state"))
}

func TestReputationBiasDetector_ScalesWithSupportForSuspectState(t *testing.T) {
	cache := reputation.New(reputation.Config{ProbableSupport: 20, ConfirmedSupport: 40, HalfLife: time.Hour})
	for i := 0; i < 5; i++ {
		cache.Observe("sig-suspect", 0.8)
	}

	d := builtin.NewReputationBiasDetector(cache, nil)
	state, _ := newState(detector.RequestSnapshot{Signature: "sig-suspect"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Greater(t, contribs[0].ConfidenceDelta, 0.0)
	assert.LessOrEqual(t, contribs[0].Weight, 0.6)
}

func TestReputationBiasDetector_DefersToFastPathOnConfirmedStates(t *testing.T) {
	cache := reputation.New(reputation.Config{ProbableSupport: 2, ConfirmedSupport: 3, HalfLife: time.Hour})
	for i := 0; i < 5; i++ {
		cache.Observe("sig-confirmed", 0.9)
	}

	d := builtin.NewReputationBiasDetector(cache, nil)
	state, _ := newState(detector.RequestSnapshot{Signature: "sig-confirmed"})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, contribs)
}

func TestHeaderDetector_FlagsSparseHeaderSet(t *testing.T) {
	d := builtin.NewHeaderDetector()
	state, sink := newState(detector.RequestSnapshot{
		UserAgent: "curl/8.0",
		Headers:   map[string][]string{},
	})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.True(t, sink.Has("header.sparse"))
}

func TestHeaderDetector_FullBrowserHeaderSetContributesNothing(t *testing.T) {
	d := builtin.NewHeaderDetector()
	state, _ := newState(detector.RequestSnapshot{
		UserAgent: "Mozilla/5.0",
		Headers: map[string][]string{
			"Accept":          {"text/html"},
			"Accept-Language": {"en-US"},
			"Accept-Encoding": {"gzip"},
			"Sec-Fetch-Mode":  {"navigate"},
		},
	})

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, contribs)
}

func TestCompoundDetector_RewardsMultipleEvidenceClasses(t *testing.T) {
	d := builtin.NewCompoundDetector()
	state, sink := newState(detector.RequestSnapshot{})

	sink.Raise(signal.NewKey("ua", "known_tool"), signal.Of(true), "ua-signature")
	sink.Raise(signal.NewKey("header", "sparse"), signal.OfInt(2), "header-shape")
	sink.Raise(signal.NewKey("reputation", "state"), signal.OfEnum("Suspect"), "reputation-fastpath")

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.InDelta(t, 0.10, contribs[0].ConfidenceDelta, 1e-9) // 3 categories: 0.05*(3-1)
}

func TestCompoundDetector_SingleCategoryContributesNothing(t *testing.T) {
	d := builtin.NewCompoundDetector()
	state, sink := newState(detector.RequestSnapshot{})
	sink.Raise(signal.NewKey("ua", "known_tool"), signal.Of(true), "ua-signature")

	contribs, err := d.ContributeAsync(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, contribs)
}
