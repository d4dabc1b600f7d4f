package builtin

import (
	"context"
	"strings"
	"time"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/signal"
)

// compoundBonusPerCategory and compoundBonusCap implement the documented
// Haxxor multi-category bonus curve (spec §9): a small, capped probability
// boost when a request trips detectors across several independent evidence
// classes rather than just one.
const (
	compoundBonusPerCategory = 0.05
	compoundBonusCap         = 0.99
)

// namespaceCategory maps a signal key's namespace to the evidence class it
// represents, so the bonus can be computed from what has already been
// raised into the sink without needing direct access to sibling
// contributions.
var namespaceCategory = map[string]detector.Category{
	"ua":          detector.CategoryUA,
	"header":      detector.CategoryHeader,
	"reputation":  detector.CategoryHeuristic,
	"honeypot":    detector.CategoryHeuristic,
	"stream":      detector.CategoryBehavioral,
	"fingerprint": detector.CategoryClientSide,
}

// CompoundDetector runs after the other wave-0/1 detectors and rewards
// requests that trip multiple independent evidence classes at once, which
// is a stronger bot signal than the same total weight concentrated in one
// class.
type CompoundDetector struct{}

func NewCompoundDetector() *CompoundDetector { return &CompoundDetector{} }

func (d *CompoundDetector) Name() string  { return "compound-bonus" }
func (d *CompoundDetector) Wave() int     { return 2 }
func (d *CompoundDetector) Priority() int { return 90 }
func (d *CompoundDetector) Triggers() []signal.Pattern {
	return []signal.Pattern{"*.*"}
}
func (d *CompoundDetector) Emitted() []signal.Key {
	return []signal.Key{signal.NewKey("compound", "bonus")}
}
func (d *CompoundDetector) Timeout() time.Duration { return time.Millisecond }

func (d *CompoundDetector) ContributeAsync(ctx context.Context, state detector.State) ([]detector.Contribution, error) {
	hit := map[detector.Category]struct{}{}
	for _, e := range state.Sink.All() {
		ns := string(e.Key)
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[:i]
		}
		if cat, ok := namespaceCategory[ns]; ok {
			hit[cat] = struct{}{}
		}
	}

	if len(hit) < 2 {
		return nil, nil
	}

	bonus := compoundBonusPerCategory * float64(len(hit)-1)
	if bonus > compoundBonusCap {
		bonus = compoundBonusCap
	}

	state.Sink.Raise(signal.NewKey("compound", "bonus"), signal.OfFloat(bonus), d.Name())
	return []detector.Contribution{{
		DetectorName:    d.Name(),
		Category:        detector.CategoryHeuristic,
		ConfidenceDelta: bonus,
		Weight:          0.3 * float64(len(hit)),
		Reason:          "evidence spans multiple independent detector categories",
		BotType:         detector.BotTypeGeneric,
	}}, nil
}
