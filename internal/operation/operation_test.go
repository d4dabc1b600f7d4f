package operation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/operation"
	"github.com/northboundlabs/botshield/internal/signal"
)

type fakeRecorder struct {
	summaries []coordinator.OperationSummary
}

func (f *fakeRecorder) RecordAsync(s coordinator.OperationSummary) {
	f.summaries = append(f.summaries, s)
}

type fakeTrigger struct {
	count int
}

func (f *fakeTrigger) TriggerEvent() { f.count++ }

func TestComposer_CompleteRaisesGlobalSignalAndRecords(t *testing.T) {
	global := signal.NewGlobalSink(100, time.Hour)
	defer global.Close()
	rec := &fakeRecorder{}

	c := operation.New(global, rec, nil, 20)
	summary := c.Complete(operation.Input{
		Signature:      "sig-1",
		RequestID:      "req-1",
		Path:           "/api/widgets",
		BotProbability: 0.3,
		ProcessingTime: 5 * time.Millisecond,
	})

	assert.Equal(t, "sig-1", summary.Signature)
	require.Len(t, rec.summaries, 1)
	assert.True(t, global.Has(signal.Pattern("operation.complete.sig-1")))
}

func TestComposer_TriggersClusterAfterThreshold(t *testing.T) {
	global := signal.NewGlobalSink(100, time.Hour)
	defer global.Close()
	trig := &fakeTrigger{}

	c := operation.New(global, &fakeRecorder{}, trig, 3)
	for i := 0; i < 3; i++ {
		c.Complete(operation.Input{Signature: "sig-bot", BotProbability: 0.9})
	}
	assert.Equal(t, 1, trig.count)
}

func TestComposer_DoesNotTriggerBelowBotProbabilityFloor(t *testing.T) {
	global := signal.NewGlobalSink(100, time.Hour)
	defer global.Close()
	trig := &fakeTrigger{}

	c := operation.New(global, &fakeRecorder{}, trig, 1)
	c.Complete(operation.Input{Signature: "sig-human", BotProbability: 0.1})
	assert.Equal(t, 0, trig.count)
}
