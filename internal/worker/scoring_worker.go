package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
	ScorePollTimeout  = 1 * time.Second
)

// AnswerKeySource provides the marking data of an exam.
type AnswerKeySource interface {
	ListAnswerKeys(ctx context.Context, examID string) ([]model.AnswerKey, error)
}

// ScoreStore reads submitted answers and stores scores.
type ScoreStore interface {
	ListAnswers(ctx context.Context, attemptID string) (model.Answers, error)
	SetScores(ctx context.Context, scores map[string]float64) error
	SetScore(ctx context.Context, attemptID string, score float64) error
}

// SnapshotCleaner forgets cached autosave snapshots of finished attempts.
type SnapshotCleaner interface {
	ClearSnapshots(ctx context.Context, attemptIDs []string) error
}

// ScoringWorker grades submitted attempts in batches.
type ScoringWorker struct {
	keys    AnswerKeySource
	scores  ScoreStore
	cleaner SnapshotCleaner
	queue   Queue
	log     zerolog.Logger
}

func NewScoringWorker(keys AnswerKeySource, scores ScoreStore, cleaner SnapshotCleaner, queue Queue, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		keys:    keys,
		scores:  scores,
		cleaner: cleaner,
		queue:   queue,
		log:     log.With().Str("component", "scoring_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")

	batch := make([]model.ScoreJob, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.WithoutCancel(ctx), batch)
			return

		default:
			raw, ok, err := w.queue.Pop(ctx, ScorePollTimeout)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("Queue pop error")
					sleepCtx(ctx, ScorePollTimeout)
				}
				continue
			}
			if !ok {
				continue
			}

			var job model.ScoreJob
			if err := json.Unmarshal([]byte(raw), &job); err != nil || job.AttemptID == "" {
				w.log.Error().Err(err).Str("payload", raw).Msg("Invalid score job")
				continue
			}
			batch = append(batch, job)
		}
	}
}

// ----------------------------------------------------------------
// Batch grading
// ----------------------------------------------------------------

func (w *ScoringWorker) flushSafe(ctx context.Context, batch []model.ScoreJob) {
	if len(batch) == 0 {
		return
	}

	scores := w.grade(ctx, batch)
	if len(scores) == 0 {
		return
	}

	if err := w.scores.SetScores(ctx, scores); err != nil {
		w.log.Warn().Err(err).Msg("bulk score update failed, using fallback")

		for id, score := range scores {
			if err := w.scores.SetScore(ctx, id, score); err != nil {
				w.log.Error().Err(err).Str("attempt_id", id).Msg("SetScore failed, requeueing")
				w.requeue(ctx, model.ScoreJob{AttemptID: id, ExamID: examOf(batch, id)})
				delete(scores, id)
			}
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	if err := w.cleaner.ClearSnapshots(ctx, ids); err != nil {
		w.log.Warn().Err(err).Msg("Clear snapshots failed")
	}
	w.log.Info().Int("count", len(ids)).Msg("Scored attempts")
}

// grade computes scores for every job it can; failed jobs go back on the queue.
func (w *ScoringWorker) grade(ctx context.Context, batch []model.ScoreJob) map[string]float64 {
	keysByExam := make(map[string][]model.AnswerKey)
	scores := make(map[string]float64, len(batch))

	for _, job := range batch {
		if _, done := scores[job.AttemptID]; done {
			continue
		}

		keys, ok := keysByExam[job.ExamID]
		if !ok {
			var err error
			keys, err = w.keys.ListAnswerKeys(ctx, job.ExamID)
			if err != nil {
				w.log.Error().Err(err).Str("exam_id", job.ExamID).Msg("Load answer keys failed")
				w.requeue(ctx, job)
				continue
			}
			keysByExam[job.ExamID] = keys
		}

		answers, err := w.scores.ListAnswers(ctx, job.AttemptID)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", job.AttemptID).Msg("Load answers failed")
			w.requeue(ctx, job)
			continue
		}

		g := model.GradeAttempt(keys, answers)
		scores[job.AttemptID] = g.Score
		w.log.Debug().
			Str("attempt_id", job.AttemptID).
			Float64("score", g.Score).
			Int("max_auto", g.MaxAutoScore).
			Int("pending_manual", g.PendingManual).
			Msg("Attempt graded")
	}
	return scores
}

func (w *ScoringWorker) requeue(ctx context.Context, job model.ScoreJob) {
	raw, err := json.Marshal(job)
	if err == nil {
		err = w.queue.Push(ctx, string(raw))
	}
	if err != nil {
		w.log.Error().Err(fmt.Errorf("requeue score job: %w", err)).Str("attempt_id", job.AttemptID).Msg("Score job lost")
	}
}

func examOf(batch []model.ScoreJob, attemptID string) string {
	for _, j := range batch {
		if j.AttemptID == attemptID {
			return j.ExamID
		}
	}
	return ""
}
