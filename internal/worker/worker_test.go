package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

type memQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *memQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	if job, ok, _ := q.TryPop(ctx); ok {
		return job, true, nil
	}
	sleepCtx(ctx, 5*time.Millisecond)
	return "", false, ctx.Err()
}

func (q *memQueue) TryPop(context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return "", false, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true, nil
}

func (q *memQueue) Push(_ context.Context, job string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Requeue(_ context.Context, job string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append([]string{job}, q.jobs...)
	return nil
}

func (q *memQueue) snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.jobs...)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

// ─── Autosave ──────────────────────────────────────────────────────

type fakeSnapshots struct {
	mu     sync.Mutex
	saved  map[string][]model.AnswerEntry
	failOn string
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, id string, entries []model.AnswerEntry, _ int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failOn {
		return false, errors.New("db down")
	}
	if f.saved == nil {
		f.saved = map[string][]model.AnswerEntry{}
	}
	f.saved[id] = entries
	return true, nil
}

func TestAutosaveWorkerRequeuesFailedJobAtHead(t *testing.T) {
	store := &fakeSnapshots{failOn: "a1"}
	q := &memQueue{}
	failing := mustJSON(t, model.AutosaveJob{AttemptID: "a1"})
	later := mustJSON(t, model.AutosaveJob{AttemptID: "a2"})
	q.jobs = []string{failing, later}

	w := NewAutosaveWorker(store, q, zerolog.Nop())
	w.retryDelay = time.Millisecond
	w.processNext(context.Background())

	got := q.snapshot()
	if len(got) != 2 || got[0] != failing {
		t.Fatalf("queue = %v, want failed job first", got)
	}
}

func TestAutosaveWorkerDropsMalformedJobs(t *testing.T) {
	store := &fakeSnapshots{}
	q := &memQueue{jobs: []string{"{not json", `{"answers":[]}`}}

	w := NewAutosaveWorker(store, q, zerolog.Nop())
	w.processNext(context.Background())
	w.processNext(context.Background())

	if len(q.snapshot()) != 0 || len(store.saved) != 0 {
		t.Fatalf("queue = %v, saved = %v", q.snapshot(), store.saved)
	}
}

func TestAutosaveWorkerDrainsOnShutdown(t *testing.T) {
	store := &fakeSnapshots{}
	q := &memQueue{}
	for _, id := range []string{"a1", "a2", "a3"} {
		q.jobs = append(q.jobs, mustJSON(t, model.AutosaveJob{AttemptID: id}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewAutosaveWorker(store, q, zerolog.Nop()).Start(ctx)

	if len(store.saved) != 3 || len(q.snapshot()) != 0 {
		t.Fatalf("saved %d snapshots, %d left in queue", len(store.saved), len(q.snapshot()))
	}
}

// ─── Scoring ───────────────────────────────────────────────────────

type fakeKeys map[string][]model.AnswerKey

func (f fakeKeys) ListAnswerKeys(_ context.Context, examID string) ([]model.AnswerKey, error) {
	k, ok := f[examID]
	if !ok {
		return nil, errors.New("no such exam")
	}
	return k, nil
}

type fakeScores struct {
	answers  map[string]model.Answers
	stored   map[string]float64
	bulkErr  error
	bulkRuns int
}

func (f *fakeScores) ListAnswers(_ context.Context, id string) (model.Answers, error) {
	return f.answers[id], nil
}

func (f *fakeScores) SetScores(_ context.Context, scores map[string]float64) error {
	f.bulkRuns++
	if f.bulkErr != nil {
		return f.bulkErr
	}
	for id, s := range scores {
		f.stored[id] = s
	}
	return nil
}

func (f *fakeScores) SetScore(_ context.Context, id string, score float64) error {
	f.stored[id] = score
	return nil
}

type fakeCleaner struct{ cleared []string }

func (f *fakeCleaner) ClearSnapshots(_ context.Context, ids []string) error {
	f.cleared = append(f.cleared, ids...)
	return nil
}

func scoringFixture() (fakeKeys, *fakeScores) {
	keys := fakeKeys{"exam": {
		{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice, Marks: 2, CorrectOption: "A"},
		{QuestionID: "q2", Type: model.QuestionTypeMultipleChoice, Marks: 3, CorrectOption: "C"},
		{QuestionID: "q3", Type: model.QuestionTypeShortAnswer, Marks: 5},
	}}
	scores := &fakeScores{
		answers: map[string]model.Answers{
			"a1": {"q1": "A", "q2": "C", "q3": "essay"},
			"a2": {"q1": "B"},
		},
		stored: map[string]float64{},
	}
	return keys, scores
}

func TestScoringWorkerFlush(t *testing.T) {
	tests := []struct {
		name    string
		bulkErr error
	}{
		{"bulk update", nil},
		{"single-row fallback", errors.New("batch rejected")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, scores := scoringFixture()
			scores.bulkErr = tt.bulkErr
			cleaner := &fakeCleaner{}
			q := &memQueue{}

			w := NewScoringWorker(keys, scores, cleaner, q, zerolog.Nop())
			w.flushSafe(context.Background(), []model.ScoreJob{
				{AttemptID: "a1", ExamID: "exam"},
				{AttemptID: "a2", ExamID: "exam"},
				{AttemptID: "a1", ExamID: "exam"},
			})

			if scores.stored["a1"] != 5 || scores.stored["a2"] != 0 {
				t.Fatalf("stored = %v", scores.stored)
			}
			if _, ok := scores.stored["a2"]; !ok {
				t.Fatal("a zero score must still be stored")
			}
			if len(cleaner.cleared) != 2 {
				t.Fatalf("cleared = %v", cleaner.cleared)
			}
			if len(q.snapshot()) != 0 {
				t.Fatalf("unexpected requeue: %v", q.snapshot())
			}
		})
	}
}

func TestScoringWorkerRequeuesUngradable(t *testing.T) {
	keys, scores := scoringFixture()
	q := &memQueue{}
	w := NewScoringWorker(keys, scores, &fakeCleaner{}, q, zerolog.Nop())

	w.flushSafe(context.Background(), []model.ScoreJob{
		{AttemptID: "a1", ExamID: "exam"},
		{AttemptID: "a9", ExamID: "missing"},
	})

	if _, ok := scores.stored["a1"]; !ok {
		t.Fatal("gradable attempt should be scored")
	}
	got := q.snapshot()
	if len(got) != 1 {
		t.Fatalf("queue = %v", got)
	}
	var job model.ScoreJob
	if err := json.Unmarshal([]byte(got[0]), &job); err != nil || job.AttemptID != "a9" {
		t.Fatalf("requeued = %s (%v)", got[0], err)
	}
}

func TestScoringWorkerFlushesOnShutdown(t *testing.T) {
	keys, scores := scoringFixture()
	q := &memQueue{jobs: []string{mustJSON(t, model.ScoreJob{AttemptID: "a1", ExamID: "exam"})}}
	w := NewScoringWorker(keys, scores, &fakeCleaner{}, q, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(q.snapshot()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if scores.stored["a1"] != 5 {
		t.Fatalf("stored = %v", scores.stored)
	}
}
