package orchestrator

import (
	"time"

	"github.com/northboundlabs/botshield/internal/aggregator"
	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/policy"
)

// Verdict is the final output of DetectAsync: what the caller (HTTP
// middleware shell, in this engine) needs to act on a request and forward
// to downstream services as headers (spec §6).
type Verdict struct {
	RequestID      string
	BotProbability float64
	Confidence     float64
	RiskBand       aggregator.RiskBand
	BotType        detector.BotType
	BotName        string
	Country        string
	Action         policy.Action
	Reasons        []string
	ProcessingTime time.Duration
	TimedOut       bool
}
