package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO list of JSON jobs.
type Queue interface {
	// Pop waits up to timeout for the next job. ok is false on timeout.
	Pop(ctx context.Context, timeout time.Duration) (job string, ok bool, err error)
	// TryPop returns the next job without waiting.
	TryPop(ctx context.Context) (job string, ok bool, err error)
	// Push appends a job.
	Push(ctx context.Context, job string) error
	// Requeue puts a job back at the head so it is retried before newer ones.
	Requeue(ctx context.Context, job string) error
}

// RedisQueue is a Queue backed by a Redis list.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

// NewRedisQueue returns the Redis list queue with the given key.
func NewRedisQueue(rdb *redis.Client, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name}
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BLPop returns [key, value].
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

func (q *RedisQueue) TryPop(ctx context.Context) (string, bool, error) {
	v, err := q.rdb.LPop(ctx, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (q *RedisQueue) Push(ctx context.Context, job string) error {
	return q.rdb.RPush(ctx, q.name, job).Err()
}

func (q *RedisQueue) Requeue(ctx context.Context, job string) error {
	return q.rdb.LPush(ctx, q.name, job).Err()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
