package policy

import (
	"fmt"

	"github.com/northboundlabs/botshield/internal/signal"
)

// EvalContext is what a compiled Condition is evaluated against, after a
// wave completes.
type EvalContext struct {
	BotProbability  float64
	Confidence      float64
	RiskBand        string
	ReputationState string
	Sink            *signal.Sink
}

// Condition is a pre-compiled leaf or combinator from the transition
// grammar (spec §4.4): leaf conditions AND/OR'd, numeric comparisons,
// equality on enums.
type Condition interface {
	Evaluate(ctx EvalContext) bool
}

type riskExceeds struct{ threshold float64 }

func (c riskExceeds) Evaluate(ctx EvalContext) bool { return ctx.BotProbability >= c.threshold }

type riskBelow struct{ threshold float64 }

func (c riskBelow) Evaluate(ctx EvalContext) bool { return ctx.BotProbability < c.threshold }

type signalPresent struct{ pattern signal.Pattern }

func (c signalPresent) Evaluate(ctx EvalContext) bool {
	if ctx.Sink == nil {
		return false
	}
	return ctx.Sink.Has(c.pattern)
}

type reputationStateEquals struct{ state string }

func (c reputationStateEquals) Evaluate(ctx EvalContext) bool { return ctx.ReputationState == c.state }

type andCondition []Condition

func (c andCondition) Evaluate(ctx EvalContext) bool {
	for _, sub := range c {
		if !sub.Evaluate(ctx) {
			return false
		}
	}
	return true
}

type orCondition []Condition

func (c orCondition) Evaluate(ctx EvalContext) bool {
	for _, sub := range c {
		if sub.Evaluate(ctx) {
			return true
		}
	}
	return false
}

// ConditionSpec is the declarative (YAML-friendly) form of a Condition,
// compiled once at policy load time.
type ConditionSpec struct {
	RiskExceeds     *float64        `yaml:"risk_exceeds,omitempty"`
	RiskBelow       *float64        `yaml:"risk_below,omitempty"`
	Signal          string          `yaml:"signal,omitempty"`
	ReputationState string          `yaml:"reputation_state,omitempty"`
	And             []ConditionSpec `yaml:"and,omitempty"`
	Or              []ConditionSpec `yaml:"or,omitempty"`
}

// Compile turns a spec into an evaluable Condition, failing closed on a
// syntactically invalid spec (spec §7 PolicyConfigError).
func (s ConditionSpec) Compile() (Condition, error) {
	switch {
	case s.RiskExceeds != nil:
		return riskExceeds{threshold: *s.RiskExceeds}, nil
	case s.RiskBelow != nil:
		return riskBelow{threshold: *s.RiskBelow}, nil
	case s.Signal != "":
		return signalPresent{pattern: signal.Pattern(s.Signal)}, nil
	case s.ReputationState != "":
		return reputationStateEquals{state: s.ReputationState}, nil
	case len(s.And) > 0:
		conds := make(andCondition, 0, len(s.And))
		for _, sub := range s.And {
			c, err := sub.Compile()
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		return conds, nil
	case len(s.Or) > 0:
		conds := make(orCondition, 0, len(s.Or))
		for _, sub := range s.Or {
			c, err := sub.Compile()
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		return conds, nil
	default:
		return nil, fmt.Errorf("transition condition has no recognised leaf or combinator")
	}
}

// Transition is a compiled (condition -> action or policy name) rule,
// evaluated in declaration order after each wave; the first matching
// transition wins.
type Transition struct {
	Condition  Condition
	ThenAction Action // empty if this transition routes to another policy
	GoToPolicy string // empty if this transition is a terminal action
}

// Evaluate returns the first matching transition's outcome, or ok=false
// if none of ts matched.
func Evaluate(ts []Transition, ctx EvalContext) (Transition, bool) {
	for _, t := range ts {
		if t.Condition != nil && t.Condition.Evaluate(ctx) {
			return t, true
		}
	}
	return Transition{}, false
}
