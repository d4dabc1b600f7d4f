// Package persistence defines the optional collaborator that durably
// records operation summaries and reputation snapshots. The engine only
// ever produces opaque records; what a deployment does with them past
// Recorder is implementation-defined (spec §6).
package persistence

import (
	"context"

	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/reputation"
)

// Recorder is the persistence collaborator interface. All methods are
// best-effort: a failing Recorder must never block or fail the request
// path, only log.
type Recorder interface {
	RecordOperation(ctx context.Context, summary coordinator.OperationSummary) error
	RecordReputationSnapshot(ctx context.Context, pattern reputation.Pattern) error
	Close() error
}

// NoopRecorder discards everything. It is the default when no persistence
// driver is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordOperation(context.Context, coordinator.OperationSummary) error { return nil }
func (NoopRecorder) RecordReputationSnapshot(context.Context, reputation.Pattern) error   { return nil }
func (NoopRecorder) Close() error                                                         { return nil }
