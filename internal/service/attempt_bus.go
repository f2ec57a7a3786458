package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// snapshotTTL bounds how long the latest autosave of an attempt stays in Redis.
const snapshotTTL = 24 * time.Hour

// AttemptBus carries attempt side effects to Redis: the latest snapshot,
// the persistence and scoring queues, and the monitor channel.
type AttemptBus interface {
	// StoreSnapshot keeps p unless a snapshot saved later is already
	// stored; stored reports which happened.
	StoreSnapshot(ctx context.Context, attemptID string, p model.AutosavePayload) (stored bool, err error)
	EnqueueAutosave(ctx context.Context, job model.AutosaveJob) error
	EnqueueScore(ctx context.Context, job model.ScoreJob) error
	Publish(ctx context.Context, ev ws.MonitorEvent) error
}

// RedisAttemptBus is the Redis implementation of AttemptBus.
type RedisAttemptBus struct {
	rdb *redis.Client
}

func NewRedisAttemptBus(rdb *redis.Client) *RedisAttemptBus {
	return &RedisAttemptBus{rdb: rdb}
}

// storeSnapshotScript replaces the snapshot hash only when the incoming
// saved_at is not older than the stored one.
var storeSnapshotScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'saved_at')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'saved_at', ARGV[1], 'payload', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

func (b *RedisAttemptBus) StoreSnapshot(ctx context.Context, attemptID string, p model.AutosavePayload) (bool, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	stored, err := storeSnapshotScript.Run(ctx, b.rdb,
		[]string{config.CacheKey.AttemptSnapshotKey(attemptID)},
		p.SavedAt.UnixMilli(), raw, int64(snapshotTTL/time.Second),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (b *RedisAttemptBus) EnqueueAutosave(ctx context.Context, job model.AutosaveJob) error {
	return b.push(ctx, config.WorkerKey.PersistAutosaveQueue, job)
}

func (b *RedisAttemptBus) EnqueueScore(ctx context.Context, job model.ScoreJob) error {
	return b.push(ctx, config.WorkerKey.ScoreAttemptQueue, job)
}

func (b *RedisAttemptBus) push(ctx context.Context, queue string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return b.rdb.RPush(ctx, queue, raw).Err()
}

func (b *RedisAttemptBus) Publish(ctx context.Context, ev ws.MonitorEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID), raw).Err()
}

// ClearSnapshots drops cached snapshots of scored attempts in one pipeline.
func (b *RedisAttemptBus) ClearSnapshots(ctx context.Context, attemptIDs []string) error {
	if len(attemptIDs) == 0 {
		return nil
	}
	pipe := b.rdb.Pipeline()
	for _, id := range attemptIDs {
		pipe.Del(ctx, config.CacheKey.AttemptSnapshotKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}
