package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	AutosavePollTimeout = 1 * time.Second
	AutosaveRetryDelay  = 5 * time.Second
)

var errMalformedJob = errors.New("malformed job")

// SnapshotStore persists autosave snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, attemptID string, entries []model.AnswerEntry, tabWarnings int) (bool, error)
}

// AutosaveWorker consumes the autosave queue and writes snapshots to PostgreSQL.
type AutosaveWorker struct {
	store      SnapshotStore
	queue      Queue
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store SnapshotStore, queue Queue, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store:      store,
		queue:      queue,
		log:        log.With().Str("component", "autosave_worker").Logger(),
		retryDelay: AutosaveRetryDelay,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.WithoutCancel(ctx))
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	raw, ok, err := w.queue.Pop(ctx, AutosavePollTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Queue pop error")
			sleepCtx(ctx, w.retryDelay)
		}
		return
	}
	if !ok {
		return
	}

	if err := w.persist(ctx, raw); err != nil {
		if errors.Is(err, errMalformedJob) {
			w.log.Error().Err(err).Msg("Dropping autosave job")
			return
		}
		w.log.Error().Err(err).Dur("retry_in", w.retryDelay).Msg("Persist error, retrying")
		// Back at the head: a newer snapshot must not be overwritten by this one.
		if err := w.queue.Requeue(context.WithoutCancel(ctx), raw); err != nil {
			w.log.Error().Err(err).Msg("Requeue failed, snapshot lost")
		}
		sleepCtx(ctx, w.retryDelay)
	}
}

func (w *AutosaveWorker) persist(ctx context.Context, raw string) error {
	var job model.AutosaveJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return fmt.Errorf("%w: %v", errMalformedJob, err)
	}
	if job.AttemptID == "" {
		return fmt.Errorf("%w: missing attempt id", errMalformedJob)
	}

	saved, err := w.store.SaveSnapshot(ctx, job.AttemptID, job.Answers, job.TabWarnings)
	if err != nil {
		return err
	}
	if !saved {
		// The final submission already holds the answers.
		w.log.Debug().Str("attempt_id", job.AttemptID).Msg("Attempt closed, snapshot skipped")
	}
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, ok, err := w.queue.TryPop(ctx)
		if err != nil || !ok {
			break
		}

		if err := w.persist(ctx, raw); err != nil {
			if errors.Is(err, errMalformedJob) {
				w.log.Error().Err(err).Msg("Drain dropped job")
				continue
			}
			w.log.Error().Err(err).Msg("Drain persist error")
			_ = w.queue.Requeue(ctx, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
