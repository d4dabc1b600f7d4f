// Package llm defines the AI-wave collaborator interface the core calls
// through (spec §4.3 step 6 "optional AI wave"); no concrete LLM client
// ships here, consistent with spec §1 scoping LLM internals out of core.
package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/northboundlabs/botshield/internal/detector"
)

// Snapshot is the minimal context an Escalator needs to render a verdict
// contribution: the signature and the aggregate state so far.
type Snapshot struct {
	Signature      string
	BotProbability float64
	Confidence     float64
}

// Escalator is the AI-wave collaborator contract. A real implementation
// calls out to an LLM; Escalate returning a nil contribution means "no
// opinion", not "human".
type Escalator interface {
	Escalate(ctx context.Context, snap Snapshot) (*detector.Contribution, error)
}

// NoopEscalator always abstains. It is the default when no AI collaborator
// is configured.
type NoopEscalator struct{}

func (NoopEscalator) Escalate(context.Context, Snapshot) (*detector.Contribution, error) {
	return nil, nil
}

// CircuitBreakingEscalator wraps a real Escalator with a gobreaker circuit
// breaker so a wedged or repeatedly-failing collaborator degrades to
// no-contribution instead of consuming a wave's timeout budget on every
// request.
type CircuitBreakingEscalator struct {
	inner   Escalator
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakingEscalator wraps inner. name identifies the breaker in
// metrics/logs; it trips after 5 consecutive failures and probes again
// after 30s.
func NewCircuitBreakingEscalator(name string, inner Escalator) *CircuitBreakingEscalator {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &CircuitBreakingEscalator{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (c *CircuitBreakingEscalator) Escalate(ctx context.Context, snap Snapshot) (*detector.Contribution, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		contribution, err := c.inner.Escalate(ctx, snap)
		return contribution, err
	})
	if err != nil {
		return nil, err
	}
	contribution, _ := result.(*detector.Contribution)
	return contribution, nil
}
