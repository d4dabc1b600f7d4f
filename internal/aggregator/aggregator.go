// Package aggregator folds a request's detector contributions into a
// final verdict: bot probability, detection confidence, risk band, and a
// recommended action (spec §4.5).
package aggregator

import (
	"math"
	"sort"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/policy"
)

// RiskBand classifies the final bot probability into a coarse bucket.
type RiskBand string

const (
	RiskVeryLow  RiskBand = "VeryLow"
	RiskLow      RiskBand = "Low"
	RiskElevated RiskBand = "Elevated"
	RiskMedium   RiskBand = "Medium"
	RiskHigh     RiskBand = "High"
	RiskVeryHigh RiskBand = "VeryHigh"
)

// BandFor classifies a bot probability into its risk band (spec §4.5).
func BandFor(p float64) RiskBand {
	switch {
	case p < 0.2:
		return RiskVeryLow
	case p < 0.35:
		return RiskLow
	case p < 0.5:
		return RiskElevated
	case p < 0.65:
		return RiskMedium
	case p < 0.8:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

// categoryCoverageBaseline is the denominator for the coverage factor: the
// number of distinct evidence classes the engine is able to evaluate.
const categoryCoverageBaseline = 6.0

// defaultCoverageBaseline is the constant "baseline" weight coverage
// divides by; policies do not override it.
const defaultCoverageBaseline = 3.0

// Result is the output of Aggregate: everything the orchestrator needs to
// build a Verdict.
type Result struct {
	BotProbability float64
	Confidence     float64
	RiskBand       RiskBand
	BotType        detector.BotType
	Action         policy.Action
	TopReasons     []string
}

// Aggregate folds contributions into a Result under the given policy. The
// order of contributions does not affect the numeric result (summation is
// commutative) but TopReasons is built from a deterministic sort by
// detector name first, matching the orchestrator's "fold in a
// deterministic order" requirement (spec §4.3).
func Aggregate(contributions []detector.Contribution, p policy.Policy) Result {
	if len(contributions) == 0 {
		return Result{
			BotProbability: 0.5,
			Confidence:     0,
			RiskBand:       BandFor(0.5),
			BotType:        detector.BotTypeGeneric,
			Action:         policy.ActionAllow,
		}
	}

	ordered := make([]detector.Contribution, len(contributions))
	copy(ordered, contributions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].DetectorName < ordered[j].DetectorName })

	var (
		weightedSum   float64
		totalWeight   float64
		signedWeight  float64
		distinctNames = map[string]struct{}{}
		categories    = map[detector.Category]struct{}{}
		forceHigh     bool
		forceLow      bool
		botTypeWeight = map[detector.BotType]float64{}
	)

	for _, c := range ordered {
		c = c.Clamp()
		weight := c.Weight * p.WeightFor(c.DetectorName)
		prob := 0.5 + 0.5*c.ConfidenceDelta

		weightedSum += prob * weight
		totalWeight += weight
		signedWeight += c.ConfidenceDelta * weight
		distinctNames[c.DetectorName] = struct{}{}
		categories[c.Category] = struct{}{}

		if c.Verified == detector.VerifiedBad {
			forceHigh = true
		}
		if c.Verified == detector.VerifiedGood {
			forceLow = true
		}
		if c.BotType != "" && c.BotType != detector.BotTypeHuman {
			botTypeWeight[c.BotType] += weight
		}
	}

	botProbability := 0.5
	if totalWeight > 0 {
		botProbability = weightedSum / totalWeight
	}
	botProbability = clamp01(botProbability)

	if forceHigh {
		botProbability = math.Max(botProbability, 0.95)
	}
	if forceLow {
		botProbability = math.Min(math.Min(botProbability, 0.05), 1)
		if botProbability < 0 {
			botProbability = 0
		}
	}

	agreement := 0.0
	if totalWeight > 0 {
		agreement = math.Abs(signedWeight) / totalWeight
	}
	coverage := math.Min(1, totalWeight/defaultCoverageBaseline)
	diversity := math.Min(1, float64(len(distinctNames))/4.0)

	confidence := 0.40*agreement + 0.35*coverage + 0.25*diversity
	coverageFactor := math.Min(1, float64(len(categories))/categoryCoverageBaseline)
	confidence = clamp01(confidence * (0.5 + 0.5*coverageFactor))

	band := BandFor(botProbability)
	action := defaultAction(band, p, confidence)
	if override, ok := p.ActionOverrides[string(band)]; ok {
		action = override
	}

	botType := detector.BotTypeHuman
	if len(botTypeWeight) > 0 {
		botType = bestBotType(botTypeWeight)
	}

	reasons := make([]string, 0, 5)
	for _, c := range ordered {
		if c.Reason == "" {
			continue
		}
		reasons = append(reasons, c.Reason)
		if len(reasons) == 5 {
			break
		}
	}

	return Result{
		BotProbability: botProbability,
		Confidence:     confidence,
		RiskBand:       band,
		BotType:        botType,
		Action:         action,
		TopReasons:     reasons,
	}
}

func defaultAction(band RiskBand, p policy.Policy, confidence float64) policy.Action {
	switch band {
	case RiskVeryHigh, RiskHigh:
		if confidence >= p.MinConfidence {
			return policy.ActionBlock
		}
		return policy.ActionChallenge
	case RiskMedium:
		return policy.ActionChallenge
	case RiskElevated:
		return policy.ActionThrottle
	default:
		return policy.ActionAllow
	}
}

// bestBotType picks the most-weighted bot type, breaking ties by
// specificity order (spec §4.5).
func bestBotType(weights map[detector.BotType]float64) detector.BotType {
	var best detector.BotType
	bestWeight := -1.0
	bestSpecificity := -1
	for t, w := range weights {
		spec := detector.Specificity(t)
		if w > bestWeight || (w == bestWeight && spec > bestSpecificity) {
			best = t
			bestWeight = w
			bestSpecificity = spec
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
