// Package operation closes out a request: it composes the operation's
// summary from the detection verdict and response analysis, raises it into
// the process-scoped global sink keyed operation.complete.{signature}, and
// feeds the signature coordinator and cluster engine's trigger counter
// (spec §4.10: "the coordinator composes an OperationSummary, raises it
// into the global sink ... and destroys the operation sink").
package operation

import (
	"sync/atomic"
	"time"

	"github.com/northboundlabs/botshield/internal/aggregator"
	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/signal"
)

// Recorder is the cross-request destination an operation's summary is fed
// into once composed. SignatureCoordinator implements this.
type Recorder interface {
	RecordAsync(summary coordinator.OperationSummary)
}

// ClusterTrigger is the minimal surface the composer needs from the
// cluster engine: an event-triggered re-run request.
type ClusterTrigger interface {
	TriggerEvent()
}

// Composer turns one completed request+response pair into an
// OperationSummary, publishes it, and feeds downstream collaborators.
type Composer struct {
	global               *signal.GlobalSink
	coordinator          Recorder
	cluster              ClusterTrigger
	minBotDetections     int64
	botDetectionCount    atomic.Int64
}

// New builds a composer. cluster may be nil if no cluster engine is wired
// (spec's clustering stays optional per deployment).
func New(global *signal.GlobalSink, rec Recorder, cluster ClusterTrigger, minBotDetectionsToTrigger int) *Composer {
	if minBotDetectionsToTrigger <= 0 {
		minBotDetectionsToTrigger = 20
	}
	return &Composer{
		global:           global,
		coordinator:      rec,
		cluster:          cluster,
		minBotDetections: int64(minBotDetectionsToTrigger),
	}
}

// Input carries everything the composer needs to build one operation's
// summary; callers assemble it from the orchestrator's Verdict plus
// request/response metadata the orchestrator itself never sees.
type Input struct {
	Signature        string
	RequestID        string
	Path             string
	Method           string
	StatusCode       int
	BotProbability   float64
	Confidence       float64
	ProcessingTime   time.Duration
	EmittedSignalKeys []string
	ContentClass     string
	TransportClass   string
	RiskBand         aggregator.RiskBand
}

// Complete composes the OperationSummary, raises it into the global sink,
// forwards it to the coordinator, and trips the cluster engine's trigger
// once enough bot detections have accumulated.
func (c *Composer) Complete(in Input) coordinator.OperationSummary {
	summary := coordinator.OperationSummary{
		Signature:         in.Signature,
		RequestID:         in.RequestID,
		Path:              in.Path,
		Method:            in.Method,
		StatusCode:        in.StatusCode,
		BotProbability:    in.BotProbability,
		Confidence:        in.Confidence,
		ProcessingMs:      float64(in.ProcessingTime.Microseconds()) / 1000.0,
		EmittedSignalKeys: in.EmittedSignalKeys,
		Timestamp:         time.Now(),
		ContentClass:      in.ContentClass,
		TransportClass:    in.TransportClass,
	}

	if c.global != nil {
		c.global.Raise(
			signal.NewKey("operation", "complete", in.Signature),
			signal.OfStruct(map[string]any{
				"requestId":      summary.RequestID,
				"botProbability": summary.BotProbability,
				"riskBand":       string(in.RiskBand),
				"statusCode":     summary.StatusCode,
			}),
			"operation-composer",
		)
	}

	if c.coordinator != nil {
		c.coordinator.RecordAsync(summary)
	}

	if in.BotProbability >= 0.7 && c.cluster != nil {
		if c.botDetectionCount.Add(1) >= c.minBotDetections {
			c.botDetectionCount.Store(0)
			c.cluster.TriggerEvent()
		}
	}

	return summary
}
