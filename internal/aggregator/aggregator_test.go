package aggregator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/northboundlabs/botshield/internal/aggregator"
	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/policy"
)

func TestAggregate_ZeroContributions(t *testing.T) {
	r := aggregator.Aggregate(nil, policy.Policy{})
	assert.Equal(t, 0.5, r.BotProbability)
	assert.Equal(t, 0.0, r.Confidence)
	assert.Equal(t, policy.ActionAllow, r.Action)
}

func TestAggregate_VerifiedBadForcesHighProbability(t *testing.T) {
	contribs := []detector.Contribution{
		{DetectorName: "ua", Category: detector.CategoryUA, ConfidenceDelta: -0.9, Weight: 10, Verified: detector.VerifiedBad, BotType: detector.BotTypeMaliciousBot},
	}
	r := aggregator.Aggregate(contribs, policy.Policy{MinConfidence: 0.5})
	assert.GreaterOrEqual(t, r.BotProbability, 0.95)
}

func TestAggregate_VerifiedGoodForcesLowProbability(t *testing.T) {
	contribs := []detector.Contribution{
		{DetectorName: "reputation", Category: detector.CategoryIP, ConfidenceDelta: 0.9, Weight: 10, Verified: detector.VerifiedGood},
	}
	r := aggregator.Aggregate(contribs, policy.Policy{MinConfidence: 0.5})
	assert.LessOrEqual(t, r.BotProbability, 0.05)
}

func TestAggregate_ProbabilityAndConfidenceStayInUnitRange(t *testing.T) {
	contribs := []detector.Contribution{
		{DetectorName: "a", Category: detector.CategoryUA, ConfidenceDelta: 1.5, Weight: 1000},
		{DetectorName: "b", Category: detector.CategoryHeader, ConfidenceDelta: -2, Weight: 5},
	}
	r := aggregator.Aggregate(contribs, policy.Policy{MinConfidence: 0.5})
	assert.GreaterOrEqual(t, r.BotProbability, 0.0)
	assert.LessOrEqual(t, r.BotProbability, 1.0)
	assert.GreaterOrEqual(t, r.Confidence, 0.0)
	assert.LessOrEqual(t, r.Confidence, 1.0)
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, aggregator.RiskVeryLow, aggregator.BandFor(0.0))
	assert.Equal(t, aggregator.RiskVeryHigh, aggregator.BandFor(0.99))
	assert.Equal(t, aggregator.RiskMedium, aggregator.BandFor(0.5))
}
