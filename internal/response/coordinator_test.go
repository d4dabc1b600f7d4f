package response_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/northboundlabs/botshield/internal/response"
	"github.com/northboundlabs/botshield/internal/signal"
)

func TestCoordinator_AsyncModeAlwaysAllows(t *testing.T) {
	c := response.New(response.Config{})
	sink := signal.NewSink(10)
	decision := c.Analyze(context.Background(), sink, response.DefaultContext(), 200, nil, nil, 0.9)
	assert.Equal(t, response.ActionAllow, decision.Action)
}

func TestCoordinator_BlockingHighProbabilityReplacesWithHoneypot(t *testing.T) {
	c := response.New(response.Config{})
	sink := signal.NewSink(10)
	ctx := response.Escalate("honeypot path")
	decision := c.Analyze(context.Background(), sink, ctx, 200, nil, []byte("normal body"), 0.95)
	assert.Equal(t, response.ActionReplaceHoneypot, decision.Action)
	assert.Equal(t, response.HoneypotBody, decision.Body)
}

func TestCoordinator_BlockingMasksPIIWhenFoundAndBotSuspected(t *testing.T) {
	c := response.New(response.Config{})
	sink := signal.NewSink(10)
	ctx := response.AnalysisContext{Mode: response.ModeBlocking, Thoroughness: response.ThoroughnessStandard}
	body := []byte("contact: jane.doe@example.com for details")
	decision := c.Analyze(context.Background(), sink, ctx, 200, nil, body, 0.6)
	assert.Equal(t, response.ActionMaskPII, decision.Action)
	assert.Contains(t, decision.PIIMasked, "email")
	assert.NotContains(t, string(decision.Body), "jane.doe@example.com")
}

func TestCoordinator_BlockingRaisesResponseSignals(t *testing.T) {
	c := response.New(response.Config{})
	sink := signal.NewSink(10)
	ctx := response.AnalysisContext{Mode: response.ModeBlocking}
	c.Analyze(context.Background(), sink, ctx, 500, nil, []byte("Traceback (most recent call last): boom"), 0.1)

	assert.True(t, sink.Has("response.status"))
	assert.True(t, sink.Has("response.pattern"))
	assert.True(t, sink.Has("response.score"))
}

func TestCoordinator_ServerErrorWithoutBotSignalBlocksOnHighScore(t *testing.T) {
	c := response.New(response.Config{})
	sink := signal.NewSink(10)
	ctx := response.AnalysisContext{Mode: response.ModeBlocking}
	decision := c.Analyze(context.Background(), sink, ctx, 500, nil, []byte("sql syntax error near SELECT, contact admin@example.com"), 0.0)
	assert.Equal(t, response.ActionBlock, decision.Action)
}
