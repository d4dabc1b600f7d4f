package builtin

import (
	"context"
	"sync"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/signal"
)

// handshakeStormWindow and handshakeStormThreshold implement the scenario
// table's WebSocket row: a burst of 15 upgrades from one signature inside
// 60 seconds raises stream.handshake_storm (spec.md §8 scenario 5).
const (
	handshakeStormWindow    = 60 * time.Second
	handshakeStormThreshold = 15
)

// WebSocketStormDetector tracks per-signature upgrade attempt timestamps in
// a bounded sliding window and flags signatures that hammer the upgrade
// endpoint faster than any browser reconnect/backoff policy would. State
// lives in the detector instance itself (one shared instance across
// requests), not in the per-operation sink, since the pattern only shows
// up across many operations.
type WebSocketStormDetector struct {
	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

func NewWebSocketStormDetector() *WebSocketStormDetector {
	return &WebSocketStormDetector{history: make(map[string][]time.Time), now: time.Now}
}

func (d *WebSocketStormDetector) Name() string              { return "websocket-handshake-storm" }
func (d *WebSocketStormDetector) Wave() int                 { return 0 }
func (d *WebSocketStormDetector) Priority() int             { return 25 }
func (d *WebSocketStormDetector) Triggers() []signal.Pattern { return nil }
func (d *WebSocketStormDetector) Emitted() []signal.Key {
	return []signal.Key{signal.NewKey("stream", "handshake_storm")}
}
func (d *WebSocketStormDetector) Timeout() time.Duration { return 2 * time.Millisecond }

func (d *WebSocketStormDetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	if !state.Request.IsWebSocket {
		return nil, nil
	}

	count := d.recordAndCount(state.Request.Signature, d.now())
	if count < handshakeStormThreshold {
		return nil, nil
	}

	state.Sink.Raise(signal.NewKey("stream", "handshake_storm"), signal.Of(true), d.Name())
	confidence := 0.6 + 0.02*float64(count-handshakeStormThreshold)
	if confidence > 0.95 {
		confidence = 0.95
	}

	return []detector.Contribution{{
		DetectorName:    d.Name(),
		Category:        detector.CategoryBehavioral,
		ConfidenceDelta: confidence,
		Weight:          0.8,
		Reason:          "burst of WebSocket upgrade attempts from one signature",
		BotType:         detector.BotTypeMaliciousBot,
	}}, nil
}

// recordAndCount appends t to the signature's history, evicts entries
// older than the sliding window, and returns the count still inside it.
func (d *WebSocketStormDetector) recordAndCount(signature string, t time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := t.Add(-handshakeStormWindow)
	hist := d.history[signature]
	kept := hist[:0]
	for _, ts := range hist {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, t)
	d.history[signature] = kept
	return len(kept)
}
