package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"

	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/reputation"
)

// SQLiteRecorder persists operation summaries and reputation snapshots to
// append-only tables, keyed by (timestamp, signature)/(timestamp,
// patternId) per spec §6.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder opens (creating if absent) the SQLite database at path
// and ensures its append-only tables exist.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite recorder: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	schema := []string{
		`CREATE TABLE IF NOT EXISTS operation_summaries (
			timestamp      DATETIME NOT NULL,
			signature      TEXT NOT NULL,
			request_id     TEXT NOT NULL,
			path           TEXT NOT NULL,
			method         TEXT NOT NULL,
			status_code    INTEGER NOT NULL,
			bot_probability REAL NOT NULL,
			confidence     REAL NOT NULL,
			processing_ms  REAL NOT NULL,
			content_class  TEXT NOT NULL,
			transport_class TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operation_summaries_signature ON operation_summaries(signature)`,
		`CREATE TABLE IF NOT EXISTS reputation_snapshots (
			timestamp   DATETIME NOT NULL,
			pattern_id  TEXT NOT NULL,
			state       TEXT NOT NULL,
			bot_score   REAL NOT NULL,
			support     REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reputation_snapshots_pattern ON reputation_snapshots(pattern_id)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite recorder: %w", err)
		}
	}
	return &SQLiteRecorder{db: db}, nil
}

func (r *SQLiteRecorder) RecordOperation(ctx context.Context, s coordinator.OperationSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO operation_summaries
			(timestamp, signature, request_id, path, method, status_code, bot_probability, confidence, processing_ms, content_class, transport_class)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp, s.Signature, s.RequestID, s.Path, s.Method, s.StatusCode,
		s.BotProbability, s.Confidence, s.ProcessingMs, s.ContentClass, s.TransportClass,
	)
	if err != nil {
		log.Warn().Err(err).Str("signature", s.Signature).Msg("persistence: failed to record operation summary")
	}
	return err
}

func (r *SQLiteRecorder) RecordReputationSnapshot(ctx context.Context, p reputation.Pattern) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reputation_snapshots (timestamp, pattern_id, state, bot_score, support)
		VALUES (?, ?, ?, ?, ?)`,
		p.UpdatedAt, p.PatternID, string(p.State), p.BotScore, p.Support,
	)
	if err != nil {
		log.Warn().Err(err).Str("pattern", p.PatternID).Msg("persistence: failed to record reputation snapshot")
	}
	return err
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
