package builtin

import (
	"context"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/reputation"
	"github.com/northboundlabs/botshield/internal/signal"
)

// ReputationBiasDetector is the Wave-1 soft reputation consumer (spec
// §4.9): for non-confirmed states it contributes a small bias scaled by
// accumulated support rather than a hard decision.
type ReputationBiasDetector struct {
	cache     *reputation.Cache
	patternID PatternIDFunc
}

func NewReputationBiasDetector(cache *reputation.Cache, patternID PatternIDFunc) *ReputationBiasDetector {
	if patternID == nil {
		patternID = BySignature
	}
	return &ReputationBiasDetector{cache: cache, patternID: patternID}
}

func (d *ReputationBiasDetector) Name() string  { return "reputation-bias" }
func (d *ReputationBiasDetector) Wave() int     { return 1 }
func (d *ReputationBiasDetector) Priority() int { return 20 }
func (d *ReputationBiasDetector) Triggers() []signal.Pattern {
	return []signal.Pattern{"reputation.state"}
}
func (d *ReputationBiasDetector) Emitted() []signal.Key { return nil }
func (d *ReputationBiasDetector) Timeout() time.Duration { return 2 * time.Millisecond }

func (d *ReputationBiasDetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	pattern := d.cache.Get(d.patternID(state.Request))

	switch pattern.State {
	case reputation.StateConfirmedBad, reputation.StateConfirmedGood, reputation.StateManuallyBlocked, reputation.StateManuallyAllowed:
		return nil, nil // handled decisively by the Wave-0 fast path
	}

	// Scale weight in support, capped so a thin history never dominates.
	supportWeight := pattern.Support / 20
	if supportWeight > 0.6 {
		supportWeight = 0.6
	}
	if supportWeight <= 0 {
		return nil, nil
	}

	delta := 0.0
	switch pattern.State {
	case reputation.StateSuspect, reputation.StateProbablyBad:
		delta = 0.3 + 0.3*pattern.BotScore
	case reputation.StateProbablyGood:
		delta = -(0.2 + 0.2*(1-pattern.BotScore))
	default:
		return nil, nil
	}

	return []detector.Contribution{{
		DetectorName:    d.Name(),
		Category:        detector.CategoryHeuristic,
		ConfidenceDelta: delta,
		Weight:          supportWeight,
		Reason:          "reputation bias from accumulated, non-confirmed support",
		BotType:         detector.BotTypeGeneric,
	}}, nil
}
