package builtin

import (
	"context"
	"strings"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/signal"
)

// honeypotPaths are URL paths no legitimate client ever requests: links
// hidden from rendered pages but present in markup/robots.txt for crawlers
// that ignore robots directives.
var honeypotPaths = map[string]struct{}{
	"/wp-admin/install.php": {},
	"/.env":                 {},
	"/admin/config.bak":     {},
	"/__internal/trap":      {},
	"/.git/config":          {},
}

// HoneypotDetector raises an early, high-confidence bot contribution and
// the honeypot.hit signal when the request path is a known decoy. The
// response-analysis context is not set from this signal; the resulting
// high bot probability is what makes the handler escalate it to
// Blocking/Deep.
type HoneypotDetector struct{}

func NewHoneypotDetector() *HoneypotDetector { return &HoneypotDetector{} }

func (d *HoneypotDetector) Name() string              { return "honeypot-path" }
func (d *HoneypotDetector) Wave() int                 { return 0 }
func (d *HoneypotDetector) Priority() int             { return 0 }
func (d *HoneypotDetector) Triggers() []signal.Pattern { return nil }
func (d *HoneypotDetector) Emitted() []signal.Key {
	return []signal.Key{signal.NewKey("honeypot", "hit")}
}
func (d *HoneypotDetector) Timeout() time.Duration { return time.Millisecond }

func (d *HoneypotDetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	path := strings.ToLower(state.Request.Path)
	if _, hit := honeypotPaths[path]; !hit {
		return nil, nil
	}

	state.Sink.Raise(signal.NewKey("honeypot", "hit"), signal.OfString(path), d.Name())
	return []detector.Contribution{{
		DetectorName:     d.Name(),
		Category:         detector.CategoryHeuristic,
		ConfidenceDelta:  0.95,
		Weight:           1.0,
		Reason:           "requested a honeypot-only path: " + path,
		BotType:          detector.BotTypeMaliciousBot,
		TriggerEarlyExit: true,
		Verified:         detector.VerifiedBad,
	}}, nil
}
