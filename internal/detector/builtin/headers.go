package builtin

import (
	"context"
	"strings"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/signal"
)

// HeaderDetector inspects the coarse header shape automated HTTP clients
// tend to get wrong: a missing Accept-Language, no Accept header at all,
// or a header set so sparse a real browser would never send it.
type HeaderDetector struct{}

func NewHeaderDetector() *HeaderDetector { return &HeaderDetector{} }

func (d *HeaderDetector) Name() string              { return "header-shape" }
func (d *HeaderDetector) Wave() int                 { return 0 }
func (d *HeaderDetector) Priority() int             { return 15 }
func (d *HeaderDetector) Triggers() []signal.Pattern { return nil }
func (d *HeaderDetector) Emitted() []signal.Key {
	return []signal.Key{signal.NewKey("header", "sparse")}
}
func (d *HeaderDetector) Timeout() time.Duration { return 2 * time.Millisecond }

// browserHeaders are present on essentially every real browser request;
// automation stacks built on bare HTTP clients routinely omit most of
// them.
var browserHeaders = []string{"Accept", "Accept-Language", "Accept-Encoding"}

func (d *HeaderDetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	missing := 0
	for _, h := range browserHeaders {
		if state.Request.Header(h) == "" {
			missing++
		}
	}

	secFetch := state.Request.Header("Sec-Fetch-Mode") != "" || state.Request.Header("Sec-Fetch-Site") != ""
	acceptAny := state.Request.Header("Accept") == "*/*"

	switch {
	case missing >= 2:
		state.Sink.Raise(signal.NewKey("header", "sparse"), signal.OfInt(missing), d.Name())
		return []detector.Contribution{{
			DetectorName:    d.Name(),
			Category:        detector.CategoryHeader,
			ConfidenceDelta: 0.2 + 0.15*float64(missing-1),
			Weight:          0.5,
			Reason:          "request is missing common browser headers",
			BotType:         detector.BotTypeGeneric,
		}}, nil
	case !secFetch && acceptAny && strings.Contains(strings.ToLower(state.Request.UserAgent), "mozilla"):
		// Claims to be a browser but lacks the Fetch Metadata headers every
		// modern browser attaches and accepts anything.
		return []detector.Contribution{{
			DetectorName:    d.Name(),
			Category:        detector.CategoryHeader,
			ConfidenceDelta: 0.35,
			Weight:          0.4,
			Reason:          "browser-claiming UA without Sec-Fetch-* headers",
			BotType:         detector.BotTypeScraper,
		}}, nil
	}

	return nil, nil
}
