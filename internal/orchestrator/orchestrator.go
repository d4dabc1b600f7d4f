// Package orchestrator runs the multi-wave detector pipeline against a
// per-request signal sink and folds the results into a Verdict (spec §4.3).
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/northboundlabs/botshield/internal/aggregator"
	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/llm"
	"github.com/northboundlabs/botshield/internal/monitoring"
	"github.com/northboundlabs/botshield/internal/policy"
	"github.com/northboundlabs/botshield/internal/signal"
)

// DefaultWaveBudget is the fast-path Wave 0 deadline (spec §4.3 step 3).
const DefaultWaveBudget = 5 * time.Millisecond

// BlackboardOrchestrator runs detectors in waves against a per-request
// sink, handling early exit, parallel fan-out, cancellation and timeouts.
type BlackboardOrchestrator struct {
	Detectors   *detector.Registry
	Policies    *policy.Registry
	Coordinator *coordinator.SignatureCoordinator
	Escalator   llm.Escalator
	Metrics     *monitoring.MetricsCollector
}

// New builds an orchestrator. Escalator and Metrics may be nil; a nil
// Escalator falls back to llm.NoopEscalator, a nil Metrics collector
// simply skips metric recording.
func New(detectors *detector.Registry, policies *policy.Registry, coord *coordinator.SignatureCoordinator, esc llm.Escalator, metrics *monitoring.MetricsCollector) *BlackboardOrchestrator {
	if esc == nil {
		esc = llm.NoopEscalator{}
	}
	return &BlackboardOrchestrator{Detectors: detectors, Policies: policies, Coordinator: coord, Escalator: esc, Metrics: metrics}
}

// DetectAsync runs the full pipeline for one request and returns its
// verdict. p may be nil, in which case the path-to-policy mapping
// resolves one.
func (o *BlackboardOrchestrator) DetectAsync(ctx context.Context, req detector.RequestSnapshot, p *policy.Policy) Verdict {
	start := req.ArrivedAt
	if start.IsZero() {
		start = time.Now()
	}

	sink := signal.NewSink(signal.DefaultOperationSinkCapacity)
	seedRequestFacts(sink, req)

	resolved := p
	if resolved == nil {
		r := o.Policies.ResolveForPath(req.Path)
		resolved = &r
	}

	ordered := o.Detectors.DetectorsForPolicy(resolved.AllDetectorNames())
	waves := groupByWave(ordered)

	var (
		contributions []detector.Contribution
		earlyExit     *Verdict
	)

	coordReader := coordinatorReaderFor(o.Coordinator, req.Signature)

	for _, wave := range waves {
		if ctx.Err() != nil {
			return cancelledVerdict(req.RequestID, start)
		}

		runnable := wave.detectors
		if wave.number > 0 {
			runnable = filterTriggered(runnable, sink)
		}
		if len(runnable) == 0 {
			continue
		}

		waveStart := time.Now()
		budget := resolved.TimeoutBudget
		if budget <= 0 || wave.number == 0 {
			budget = DefaultWaveBudget
		}
		waveCtx, cancel := context.WithTimeout(ctx, budget)
		newContribs, verified := runWave(waveCtx, runnable, sink, req, coordReader, o.Metrics)
		cancel()
		contributions = append(contributions, newContribs...)
		if o.Metrics != nil {
			o.Metrics.RecordWave(waveLabel(wave.number), time.Since(waveStart))
		}

		if v := verifiedEarlyExit(verified, req.RequestID, start); v != nil {
			earlyExit = v
			break
		}

		result := aggregator.Aggregate(contributions, *resolved)
		evalCtx := policy.EvalContext{
			BotProbability: result.BotProbability,
			Confidence:     result.Confidence,
			RiskBand:       string(result.RiskBand),
			Sink:           sink,
		}
		if t, ok := policy.Evaluate(resolved.Transitions, evalCtx); ok {
			if t.GoToPolicy != "" {
				if np, ok := o.Policies.Get(t.GoToPolicy); ok {
					resolved = &np
				}
			}
			if t.ThenAction != "" {
				earlyExit = &Verdict{
					RequestID: req.RequestID, BotProbability: result.BotProbability,
					Confidence: result.Confidence, RiskBand: result.RiskBand,
					BotType: result.BotType, Action: t.ThenAction, Reasons: result.TopReasons,
					ProcessingTime: time.Since(start),
				}
				break
			}
		}

		if result.BotProbability >= resolved.ImmediateBlockThreshold && result.Confidence >= resolved.MinConfidence {
			earlyExit = &Verdict{
				RequestID: req.RequestID, BotProbability: result.BotProbability,
				Confidence: result.Confidence, RiskBand: result.RiskBand,
				BotType: result.BotType, Action: result.Action,
				Reasons: result.TopReasons, ProcessingTime: time.Since(start),
			}
			break
		}
	}

	if earlyExit != nil {
		if o.Metrics != nil {
			o.Metrics.RecordVerdict(string(earlyExit.Action), string(earlyExit.RiskBand))
		}
		return *earlyExit
	}

	result := aggregator.Aggregate(contributions, *resolved)

	if resolved.AiEscalationThreshold > 0 && inconclusive(result.BotProbability, resolved.AiEscalationThreshold) {
		if c, err := o.Escalator.Escalate(ctx, llm.Snapshot{Signature: req.Signature, BotProbability: result.BotProbability, Confidence: result.Confidence}); err == nil && c != nil {
			contributions = append(contributions, *c)
			result = aggregator.Aggregate(contributions, *resolved)
		}
	}

	v := Verdict{
		RequestID: req.RequestID, BotProbability: result.BotProbability,
		Confidence: result.Confidence, RiskBand: result.RiskBand,
		BotType: result.BotType, Action: result.Action, Reasons: result.TopReasons,
		ProcessingTime: time.Since(start),
	}
	if o.Metrics != nil {
		o.Metrics.RecordVerdict(string(v.Action), string(v.RiskBand))
	}
	return v
}

func seedRequestFacts(sink *signal.Sink, req detector.RequestSnapshot) {
	sink.Raise(signal.NewKey("request", "path"), signal.OfString(req.Path), "orchestrator")
	sink.Raise(signal.NewKey("request", "method"), signal.OfString(req.Method), "orchestrator")
	sink.Raise(signal.NewKey("request", "ip"), signal.OfString(req.IP), "orchestrator")
	sink.Raise(signal.NewKey("request", "user_agent"), signal.OfString(req.UserAgent), "orchestrator")
	sink.Raise(signal.NewKey("request", "is_websocket"), signal.Of(req.IsWebSocket), "orchestrator")
}

type wave struct {
	number    int
	detectors []detector.Detector
}

func groupByWave(ordered []detector.Detector) []wave {
	var waves []wave
	for _, d := range ordered {
		if len(waves) == 0 || waves[len(waves)-1].number != d.Wave() {
			waves = append(waves, wave{number: d.Wave()})
		}
		waves[len(waves)-1].detectors = append(waves[len(waves)-1].detectors, d)
	}
	sort.SliceStable(waves, func(i, j int) bool { return waves[i].number < waves[j].number })
	return waves
}

func filterTriggered(ds []detector.Detector, sink *signal.Sink) []detector.Detector {
	var out []detector.Detector
	for _, d := range ds {
		triggered := true
		for _, pattern := range d.Triggers() {
			if !sink.Has(pattern) {
				triggered = false
				break
			}
		}
		if triggered {
			out = append(out, d)
		}
	}
	return out
}

// runWave executes a set of detectors in parallel, returning every
// contribution (clamped) and separately the subset flagged Verified for
// the early-exit rule in spec §4.3 step 4.
func runWave(ctx context.Context, ds []detector.Detector, sink *signal.Sink, req detector.RequestSnapshot, coord detector.CoordinatorReader, metrics *monitoring.MetricsCollector) ([]detector.Contribution, []detector.Contribution) {
	var (
		mu       sync.Mutex
		all      []detector.Contribution
		verified []detector.Contribution
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range ds {
		d := d
		g.Go(func() error {
			callCtx := gctx
			var cancel context.CancelFunc
			if d.Timeout() > 0 {
				callCtx, cancel = context.WithTimeout(gctx, d.Timeout())
				defer cancel()
			}
			state := detector.State{Sink: sink, Request: req, Coordinator: coord}
			contribs, err := d.ContributeAsync(callCtx, state)
			if err != nil {
				log.Warn().Str("detector", d.Name()).Err(err).Msg("detector error")
				if metrics != nil {
					metrics.RecordDetectorError(d.Name())
				}
				return nil
			}
			mu.Lock()
			for _, c := range contribs {
				c = c.Clamp()
				all = append(all, c)
				if c.TriggerEarlyExit && c.Verified != detector.VerifiedNone {
					verified = append(verified, c)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return all, verified
}

func verifiedEarlyExit(verified []detector.Contribution, requestID string, start time.Time) *Verdict {
	if len(verified) == 0 {
		return nil
	}
	c := verified[0]
	prob := 0.5
	switch c.Verified {
	case detector.VerifiedBad:
		prob = 0.99
	case detector.VerifiedGood:
		prob = 0.01
	}
	action := policy.ActionBlock
	if c.Verified == detector.VerifiedGood {
		action = policy.ActionAllow
	}
	return &Verdict{
		RequestID: requestID, BotProbability: prob, Confidence: 1.0,
		RiskBand: aggregator.BandFor(prob), BotType: c.BotType, Action: action,
		Reasons: []string{c.Reason}, ProcessingTime: time.Since(start),
	}
}

func inconclusive(prob, aiThreshold float64) bool {
	return prob >= aiThreshold && prob < 0.9
}

func cancelledVerdict(requestID string, start time.Time) Verdict {
	return Verdict{
		RequestID: requestID, BotProbability: 0.5, Confidence: 0,
		RiskBand: aggregator.BandFor(0.5), Action: policy.ActionLogOnly,
		ProcessingTime: time.Since(start),
	}
}

func waveLabel(n int) string {
	switch n {
	case 0:
		return "wave0"
	default:
		return "waveN"
	}
}

func coordinatorReaderFor(c *coordinator.SignatureCoordinator, signature string) detector.CoordinatorReader {
	if c == nil {
		return noopCoordinatorReader{}
	}
	return coordinatorAdapter{c: c}
}

type noopCoordinatorReader struct{}

func (noopCoordinatorReader) QueryBehavior(string) (detector.BehaviorSnapshot, bool) {
	return detector.BehaviorSnapshot{}, false
}

type coordinatorAdapter struct{ c *coordinator.SignatureCoordinator }

func (a coordinatorAdapter) QueryBehavior(signature string) (detector.BehaviorSnapshot, bool) {
	snap, ok := a.c.Query(signature)
	if !ok {
		return detector.BehaviorSnapshot{}, false
	}
	return detector.BehaviorSnapshot{
		RequestCount:      snap.RequestCount,
		PathEntropy:       snap.PathEntropy,
		TimingCV:          snap.TimingCV,
		AvgBotProbability: snap.AvgBotProbability,
		AberrationScore:   snap.AberrationScore,
		Aberrant:          snap.Aberrant,
	}, true
}
