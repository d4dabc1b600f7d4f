package builtin

import (
	"context"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/reputation"
	"github.com/northboundlabs/botshield/internal/signal"
)

// PatternIDFunc derives the reputation pattern id for a request (spec §4.9:
// "patternId e.g. hash(UA) or CIDR"). The built-in detectors use the
// request's signature, which is itself a salted hash of ip+ua.
type PatternIDFunc func(detector.RequestSnapshot) string

// BySignature is the default PatternIDFunc.
func BySignature(r detector.RequestSnapshot) string { return r.Signature }

// ReputationDetector is the Wave-0 fast-path reputation consumer (spec
// §4.9): ConfirmedBad/ManuallyBlocked with sufficient support and a high
// bot score is an instant-block contribution; ConfirmedGood/ManuallyAllowed
// with sufficient support is a strong (non-early-exit) human contribution.
type ReputationDetector struct {
	cache           *reputation.Cache
	patternID       PatternIDFunc
	minSupportAbort float64
	minSupportAllow float64
}

// NewReputationDetector builds the detector against a shared reputation
// cache.
func NewReputationDetector(cache *reputation.Cache, minSupportAbort, minSupportAllow float64, patternID PatternIDFunc) *ReputationDetector {
	if patternID == nil {
		patternID = BySignature
	}
	return &ReputationDetector{cache: cache, patternID: patternID, minSupportAbort: minSupportAbort, minSupportAllow: minSupportAllow}
}

func (d *ReputationDetector) Name() string              { return "reputation-fastpath" }
func (d *ReputationDetector) Wave() int                 { return 0 }
func (d *ReputationDetector) Priority() int             { return 5 }
func (d *ReputationDetector) Triggers() []signal.Pattern { return nil }
func (d *ReputationDetector) Emitted() []signal.Key {
	return []signal.Key{signal.NewKey("reputation", "state")}
}
func (d *ReputationDetector) Timeout() time.Duration { return 2 * time.Millisecond }

func (d *ReputationDetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	pattern := d.cache.Get(d.patternID(state.Request))
	state.Sink.Raise(signal.NewKey("reputation", "state"), signal.OfEnum(string(pattern.State)), d.Name())

	switch pattern.State {
	case reputation.StateConfirmedBad, reputation.StateManuallyBlocked:
		if pattern.Support >= d.minSupportAbort && pattern.BotScore >= 0.9 {
			return []detector.Contribution{{
				DetectorName:     d.Name(),
				Category:         detector.CategoryHeuristic,
				ConfidenceDelta:  1.0,
				Weight:           1.0,
				Reason:           "pattern has confirmed-bad reputation with sufficient support",
				BotType:          detector.BotTypeMaliciousBot,
				TriggerEarlyExit: true,
			}}, nil
		}
	case reputation.StateConfirmedGood, reputation.StateManuallyAllowed:
		if pattern.Support >= d.minSupportAllow {
			return []detector.Contribution{{
				DetectorName:    d.Name(),
				Category:        detector.CategoryHeuristic,
				ConfidenceDelta: -0.8,
				Weight:          0.9,
				Reason:          "pattern has confirmed-good reputation with sufficient support",
				BotType:         detector.BotTypeHuman,
			}}, nil
		}
	}

	return nil, nil
}
