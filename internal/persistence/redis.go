package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/reputation"
)

// RedisReputationStore persists reputation patterns, keyed by patternId,
// as Redis hashes under a fixed prefix. It deliberately does not persist
// operation summaries (those are high-volume and SQLite-shaped; see
// SQLiteRecorder) -- RecordOperation is a no-op here.
type RedisReputationStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisReputationStore builds a store against the given address/db.
func NewRedisReputationStore(addr string, db int, ttl time.Duration) *RedisReputationStore {
	return &RedisReputationStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: "botshield:reputation:",
		ttl:    ttl,
	}
}

func (r *RedisReputationStore) RecordOperation(context.Context, coordinator.OperationSummary) error {
	return nil
}

func (r *RedisReputationStore) RecordReputationSnapshot(ctx context.Context, p reputation.Pattern) error {
	key := r.prefix + p.PatternID
	values := map[string]any{
		"state":      string(p.State),
		"bot_score":  strconv.FormatFloat(p.BotScore, 'f', -1, 64),
		"support":    strconv.FormatFloat(p.Support, 'f', -1, 64),
		"updated_at": p.UpdatedAt.Format(time.RFC3339Nano),
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Warn().Err(err).Str("pattern", p.PatternID).Msg("persistence: failed to record reputation snapshot to redis")
	}
	return err
}

// Load fetches a previously persisted pattern, for warming the in-memory
// reputation.Cache on startup.
func (r *RedisReputationStore) Load(ctx context.Context, patternID string) (reputation.Pattern, bool, error) {
	key := r.prefix + patternID
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return reputation.Pattern{}, false, fmt.Errorf("load reputation pattern %s: %w", patternID, err)
	}
	if len(vals) == 0 {
		return reputation.Pattern{}, false, nil
	}

	botScore, _ := strconv.ParseFloat(vals["bot_score"], 64)
	support, _ := strconv.ParseFloat(vals["support"], 64)
	updatedAt, _ := time.Parse(time.RFC3339Nano, vals["updated_at"])

	return reputation.Pattern{
		PatternID: patternID,
		State:     reputation.State(vals["state"]),
		BotScore:  botScore,
		Support:   support,
		UpdatedAt: updatedAt,
	}, true, nil
}

func (r *RedisReputationStore) Close() error {
	return r.client.Close()
}
