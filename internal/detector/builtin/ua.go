package builtin

import (
	"context"
	"regexp"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/signal"
)

// knownBadUA matches user agents that self-identify as generic scraping
// tools. This is intentionally a small, explainable list rather than an
// exhaustive database -- the out-of-scope "UA pattern feed" the core
// consumes is a richer external lookup.
var knownBadUA = regexp.MustCompile(`(?i)\b(curl|wget|python-requests|scrapy|go-http-client|libwww-perl)\b`)

// knownSecurityToolUA matches user agents that self-identify as security
// scanning/exploitation tools. A UA this explicit about scanning intent is
// treated as an authoritative identification, not an ordinary heuristic
// vote (spec §8 scenario 3).
var knownSecurityToolUA = regexp.MustCompile(`(?i)\b(nikto|sqlmap|nmap|masscan|zgrab|gobuster|dirbuster)\b`)

var knownGoodBotUA = regexp.MustCompile(`(?i)\b(googlebot|bingbot|slurp|duckduckbot|baiduspider|yandexbot)\b`)

// UADetector inspects the User-Agent header for known scraping/security
// tool signatures and common legitimate crawler identities.
type UADetector struct{}

func NewUADetector() *UADetector { return &UADetector{} }

func (d *UADetector) Name() string              { return "ua-signature" }
func (d *UADetector) Wave() int                 { return 0 }
func (d *UADetector) Priority() int             { return 10 }
func (d *UADetector) Triggers() []signal.Pattern { return nil }
func (d *UADetector) Emitted() []signal.Key {
	return []signal.Key{
		signal.NewKey("ua", "known_tool"),
		signal.NewKey("ua", "known_crawler"),
		signal.NewKey("ua", "known_security_tool"),
	}
}
func (d *UADetector) Timeout() time.Duration { return 2 * time.Millisecond }

func (d *UADetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	ua := state.Request.UserAgent
	if ua == "" {
		state.Sink.Raise(signal.NewKey("ua", "missing"), signal.Of(true), d.Name())
		return []detector.Contribution{{
			DetectorName:    d.Name(),
			Category:        detector.CategoryUA,
			ConfidenceDelta: 0.3,
			Weight:          0.5,
			Reason:          "missing user-agent header",
			BotType:         detector.BotTypeGeneric,
		}}, nil
	}

	if knownGoodBotUA.MatchString(ua) {
		state.Sink.Raise(signal.NewKey("ua", "known_crawler"), signal.Of(true), d.Name())
		return []detector.Contribution{{
			DetectorName:    d.Name(),
			Category:        detector.CategoryUA,
			ConfidenceDelta: 0.6,
			Weight:          0.7,
			Reason:          "identifies as known search crawler",
			BotType:         detector.BotTypeSearchEngine,
		}}, nil
	}

	if knownSecurityToolUA.MatchString(ua) {
		state.Sink.Raise(signal.NewKey("ua", "known_security_tool"), signal.Of(true), d.Name())
		return []detector.Contribution{{
			DetectorName:     d.Name(),
			Category:         detector.CategoryUA,
			ConfidenceDelta:  0.95,
			Weight:           1.0,
			Reason:           "user-agent self-identifies as a security scanning tool",
			BotType:          detector.BotTypeMaliciousBot,
			TriggerEarlyExit: true,
			Verified:         detector.VerifiedBad,
		}}, nil
	}

	if knownBadUA.MatchString(ua) {
		state.Sink.Raise(signal.NewKey("ua", "known_tool"), signal.Of(true), d.Name())
		return []detector.Contribution{{
			DetectorName:    d.Name(),
			Category:        detector.CategoryUA,
			ConfidenceDelta: 0.7,
			Weight:          0.8,
			Reason:          "user-agent identifies a scripting/scanning tool",
			BotType:         detector.BotTypeScraper,
		}}, nil
	}

	return nil, nil
}
