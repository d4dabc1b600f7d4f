package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/policy"
	"github.com/northboundlabs/botshield/internal/signal"
)

// fakeDetector is a minimal, directly configurable detector.Detector used
// to drive the orchestrator without depending on any built-in detector's
// real evidence logic.
type fakeDetector struct {
	name      string
	wave      int
	priority  int
	triggers  []signal.Pattern
	emitted   []signal.Key
	timeout   time.Duration
	contribs  []detector.Contribution
	raiseKeys []signal.Key
	called    int
}

func (f *fakeDetector) Name() string               { return f.name }
func (f *fakeDetector) Wave() int                   { return f.wave }
func (f *fakeDetector) Priority() int               { return f.priority }
func (f *fakeDetector) Triggers() []signal.Pattern  { return f.triggers }
func (f *fakeDetector) Emitted() []signal.Key       { return f.emitted }
func (f *fakeDetector) Timeout() time.Duration      { return f.timeout }

func (f *fakeDetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	f.called++
	for _, k := range f.raiseKeys {
		state.Sink.Raise(k, signal.Of(true), f.name)
	}
	return f.contribs, nil
}

func registry(detectors ...*fakeDetector) *detector.Registry {
	reg := detector.NewRegistry()
	for _, d := range detectors {
		reg.Register(detector.Manifest{
			Name: d.name, Wave: d.wave, Priority: d.priority,
			Triggers: d.triggers, EmittedSignals: d.emitted,
			Enabled: true,
		}, d)
	}
	return reg
}

func basicPolicy(names ...string) policy.Policy {
	return policy.Policy{
		Name:                    "test",
		FastPath:                names,
		ImmediateBlockThreshold: 2.0, // effectively disabled unless a test wants it
		AiEscalationThreshold:   0,   // disabled
		MinConfidence:           0,
	}
}

func TestDetectAsync_AggregatesAcrossWaves(t *testing.T) {
	wave0 := &fakeDetector{
		name: "wave0-detector", wave: 0,
		contribs: []detector.Contribution{{DetectorName: "wave0-detector", ConfidenceDelta: 0.4, Weight: 1, Category: detector.CategoryUA}},
		raiseKeys: []signal.Key{signal.NewKey("wave0", "fired")},
	}
	wave1 := &fakeDetector{
		name: "wave1-detector", wave: 1,
		triggers: []signal.Pattern{"wave0.*"},
		contribs: []detector.Contribution{{DetectorName: "wave1-detector", ConfidenceDelta: 0.4, Weight: 1, Category: detector.CategoryBehavioral}},
	}
	reg := registry(wave0, wave1)
	p := basicPolicy("wave0-detector", "wave1-detector")
	orch := New(reg, policy.NewRegistry(), nil, nil, nil)

	v := orch.DetectAsync(context.Background(), detector.RequestSnapshot{RequestID: "r1"}, &p)

	if wave1.called != 1 {
		t.Fatalf("expected wave1 detector to run once it was triggered by wave0's signal, called=%d", wave1.called)
	}
	if v.BotProbability <= 0.5 {
		t.Fatalf("expected positive contributions to push bot probability above 0.5, got %v", v.BotProbability)
	}
}

func TestDetectAsync_WaveNDetectorSkippedWithoutTrigger(t *testing.T) {
	wave0 := &fakeDetector{name: "wave0-detector", wave: 0}
	wave1 := &fakeDetector{
		name: "wave1-detector", wave: 1,
		triggers: []signal.Pattern{"never.fires"},
		contribs: []detector.Contribution{{DetectorName: "wave1-detector", ConfidenceDelta: 0.9, Weight: 1}},
	}
	reg := registry(wave0, wave1)
	p := basicPolicy("wave0-detector", "wave1-detector")
	orch := New(reg, policy.NewRegistry(), nil, nil, nil)

	orch.DetectAsync(context.Background(), detector.RequestSnapshot{RequestID: "r2"}, &p)

	if wave1.called != 0 {
		t.Fatalf("expected untriggered wave1 detector not to run, called=%d", wave1.called)
	}
}

func TestDetectAsync_VerifiedBadTriggersEarlyExit(t *testing.T) {
	honeypot := &fakeDetector{
		name: "honeypot", wave: 0,
		contribs: []detector.Contribution{{
			DetectorName: "honeypot", ConfidenceDelta: 0.95, Weight: 1,
			BotType: detector.BotTypeMaliciousBot, TriggerEarlyExit: true, Verified: detector.VerifiedBad,
			Reason: "honeypot path hit",
		}},
	}
	neverRuns := &fakeDetector{name: "slow", wave: 1, contribs: []detector.Contribution{{DetectorName: "slow", ConfidenceDelta: 0.1, Weight: 1}}}
	reg := registry(honeypot, neverRuns)
	p := basicPolicy("honeypot", "slow")
	orch := New(reg, policy.NewRegistry(), nil, nil, nil)

	v := orch.DetectAsync(context.Background(), detector.RequestSnapshot{RequestID: "r3"}, &p)

	if v.Action != policy.ActionBlock {
		t.Fatalf("expected a VerifiedBad contribution to force Block, got %q", v.Action)
	}
	if v.BotProbability < 0.95 {
		t.Fatalf("expected early-exit verdict to carry a very high bot probability, got %v", v.BotProbability)
	}
	if neverRuns.called != 0 {
		t.Fatalf("expected the early exit to short-circuit later waves, but the wave-1 detector ran %d times", neverRuns.called)
	}
}

func TestDetectAsync_TransitionRoutesToBlock(t *testing.T) {
	d := &fakeDetector{
		name: "strong-signal", wave: 0,
		contribs: []detector.Contribution{{DetectorName: "strong-signal", ConfidenceDelta: 0.9, Weight: 1}},
	}
	reg := registry(d)
	p := basicPolicy("strong-signal")
	p.Transitions = []policy.Transition{
		{Condition: mustCompile(t, 0.9), ThenAction: policy.ActionBlock},
	}
	orch := New(reg, policy.NewRegistry(), nil, nil, nil)

	v := orch.DetectAsync(context.Background(), detector.RequestSnapshot{RequestID: "r4"}, &p)

	if v.Action != policy.ActionBlock {
		t.Fatalf("expected the risk-exceeds transition to fire Block, got %q", v.Action)
	}
}

func TestDetectAsync_ImmediateBlockThresholdShortCircuits(t *testing.T) {
	d := &fakeDetector{
		name: "strong-signal", wave: 0,
		contribs: []detector.Contribution{{DetectorName: "strong-signal", ConfidenceDelta: 0.9, Weight: 3}},
	}
	reg := registry(d)
	p := basicPolicy("strong-signal")
	p.ImmediateBlockThreshold = 0.8
	p.MinConfidence = 0
	orch := New(reg, policy.NewRegistry(), nil, nil, nil)

	v := orch.DetectAsync(context.Background(), detector.RequestSnapshot{RequestID: "r5"}, &p)

	if v.BotProbability < 0.8 {
		t.Fatalf("expected bot probability above the immediate-block threshold, got %v", v.BotProbability)
	}
}

func TestDetectAsync_CancelledContextReturnsLogOnly(t *testing.T) {
	d := &fakeDetector{name: "irrelevant", wave: 0}
	reg := registry(d)
	p := basicPolicy("irrelevant")
	orch := New(reg, policy.NewRegistry(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := orch.DetectAsync(ctx, detector.RequestSnapshot{RequestID: "r6"}, &p)
	if v.Action != policy.ActionLogOnly {
		t.Fatalf("expected a pre-cancelled context to produce LogOnly, got %q", v.Action)
	}
}

func TestDetectAsync_NoContributionsDefaultsToAllow(t *testing.T) {
	d := &fakeDetector{name: "silent", wave: 0}
	reg := registry(d)
	p := basicPolicy("silent")
	orch := New(reg, policy.NewRegistry(), nil, nil, nil)

	v := orch.DetectAsync(context.Background(), detector.RequestSnapshot{RequestID: "r7"}, &p)
	if v.Action != policy.ActionAllow {
		t.Fatalf("expected no contributions to default to Allow, got %q", v.Action)
	}
	if v.BotProbability != 0.5 {
		t.Fatalf("expected the neutral 0.5 bot probability with no evidence, got %v", v.BotProbability)
	}
}

func mustCompile(t *testing.T, threshold float64) policy.Condition {
	t.Helper()
	cond, err := (policy.ConditionSpec{RiskExceeds: &threshold}).Compile()
	if err != nil {
		t.Fatalf("failed to compile condition: %v", err)
	}
	return cond
}
