package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	fieldAttemptID   = "attempt_id"
	fieldStartedAt   = "started_at"
	fieldAnswers     = "answers"
	fieldTabWarnings = "tab_warnings"
	fieldUpdatedAt   = "updated_at"
)

// RedisStore keeps each record as a hash, so a merge is a single HSET of the
// patched fields. Used on exam-lab machines that share a local Redis.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore wraps an existing client. Records expire ttl after their last
// write; zero keeps them forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

// Load reads the record for key.
func (s *RedisStore) Load(ctx context.Context, key Key) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, key.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{AttemptID: fields[fieldAttemptID]}

	if v := fields[fieldStartedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("%w: started_at: %v", ErrCorrupt, err)
		}
		rec.StartedAt = &t
	}
	if v := fields[fieldAnswers]; v != "" {
		var answers model.Answers
		if err := json.Unmarshal([]byte(v), &answers); err != nil {
			return nil, fmt.Errorf("%w: answers: %v", ErrCorrupt, err)
		}
		rec.Answers = answers
	}
	if v := fields[fieldTabWarnings]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: tab_warnings: %v", ErrCorrupt, err)
		}
		rec.TabWarnings = n
	}
	if v := fields[fieldUpdatedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, nil
}

// Merge writes only the patched fields.
func (s *RedisStore) Merge(ctx context.Context, key Key, patch Patch) error {
	values := map[string]interface{}{
		fieldUpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if patch.AttemptID != nil {
		values[fieldAttemptID] = *patch.AttemptID
	}
	if patch.StartedAt != nil {
		values[fieldStartedAt] = patch.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if patch.Answers != nil {
		raw, err := json.Marshal(patch.Answers)
		if err != nil {
			return fmt.Errorf("encode answers: %w", err)
		}
		values[fieldAnswers] = string(raw)
	}
	if patch.TabWarnings != nil {
		values[fieldTabWarnings] = *patch.TabWarnings
	}

	k := key.String()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge draft: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.rdb.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
