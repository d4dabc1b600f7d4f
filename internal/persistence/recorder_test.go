package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/persistence"
	"github.com/northboundlabs/botshield/internal/reputation"
)

func TestNoopRecorder_NeverFails(t *testing.T) {
	var r persistence.Recorder = persistence.NoopRecorder{}
	assert.NoError(t, r.RecordOperation(context.Background(), coordinator.OperationSummary{}))
	assert.NoError(t, r.RecordReputationSnapshot(context.Background(), reputation.Pattern{}))
	assert.NoError(t, r.Close())
}
