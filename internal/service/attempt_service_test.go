package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

type memAttempts struct {
	mu       sync.Mutex
	byID     map[string]*model.Attempt
	answers  map[string][]model.AnswerEntry
	creates  int
	raceWith *model.Attempt // inserted by a "concurrent" request on the next Create
}

func newMemAttempts() *memAttempts {
	return &memAttempts{byID: map[string]*model.Attempt{}, answers: map[string][]model.AnswerEntry{}}
}

func (m *memAttempts) GetByID(_ context.Context, id string) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *memAttempts) GetByExamAndStudent(_ context.Context, examID, studentID string) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.ExamID == examID && a.StudentID == studentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memAttempts) Create(_ context.Context, a *model.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.raceWith != nil {
		m.byID[m.raceWith.ID] = m.raceWith
		m.raceWith = nil
	}
	for _, ex := range m.byID {
		if ex.ExamID == a.ExamID && ex.StudentID == a.StudentID {
			return pgx.ErrNoRows
		}
	}
	cp := *a
	m.byID[a.ID] = &cp
	return nil
}

func (m *memAttempts) Submit(_ context.Context, attemptID string, p model.SubmitPayload, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[attemptID]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Status = model.AttemptStatusSubmitted
	a.SubmittedAt = &at
	a.AutoSubmit = p.Auto
	m.answers[attemptID] = p.Answers
	return true, nil
}

type fakeExams struct{ exam *model.Exam }

func (f fakeExams) GetExam(_ context.Context, examID string) (*model.Exam, error) {
	if f.exam == nil || f.exam.ID != examID {
		return nil, ErrExamNotFound
	}
	return f.exam, nil
}

type fakeBus struct {
	mu        sync.Mutex
	snapshots map[string]model.AutosavePayload
	autosaves []model.AutosaveJob
	scores    []model.ScoreJob
	events    []ws.MonitorEvent
	pubErr    error
}

func (b *fakeBus) StoreSnapshot(_ context.Context, id string, p model.AutosavePayload) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshots == nil {
		b.snapshots = map[string]model.AutosavePayload{}
	}
	if cur, ok := b.snapshots[id]; ok && cur.SavedAt.After(p.SavedAt) {
		return false, nil
	}
	b.snapshots[id] = p
	return true, nil
}

func (b *fakeBus) EnqueueAutosave(_ context.Context, job model.AutosaveJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autosaves = append(b.autosaves, job)
	return nil
}

func (b *fakeBus) EnqueueScore(_ context.Context, job model.ScoreJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores = append(b.scores, job)
	return nil
}

func (b *fakeBus) Publish(_ context.Context, ev ws.MonitorEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return b.pubErr
}

const (
	examID = "0b5e6a56-3f0e-4c55-9d7a-5a0f3e0c1a01"
	q1     = "4a4f9b0e-8c6b-4b59-9a55-0c3a0a1b0001"
	q2     = "4a4f9b0e-8c6b-4b59-9a55-0c3a0a1b0002"
)

var (
	alice = model.User{ID: "a11ce000-0000-4000-8000-000000000001", Name: "Alice", Role: model.RoleStudent}
	bob   = model.User{ID: "b0b00000-0000-4000-8000-000000000002", Name: "Bob", Role: model.RoleStudent}
	t0    = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

func testExam() *model.Exam {
	return &model.Exam{
		ID:              examID,
		Title:           "Mechanics",
		DurationMinutes: 30,
		Questions: []model.Question{
			{ID: q1, Prompt: "g?", Marks: 1, Body: model.MultipleChoice{Options: []model.Option{{Key: "A", Label: "9.8"}, {Key: "B", Label: "10"}}}},
			{ID: q2, Prompt: "Explain inertia", Marks: 5, Body: model.ShortAnswer{}},
		},
	}
}

func newTestAttemptService() (*AttemptService, *memAttempts, *fakeBus) {
	store := newMemAttempts()
	bus := &fakeBus{}
	svc := NewAttemptService(store, fakeExams{exam: testExam()}, bus, zerolog.Nop())
	svc.now = func() time.Time { return t0 }
	return svc, store, bus
}

func strp(s string) *string { return &s }

func TestStartIsIdempotentForOpenAttempt(t *testing.T) {
	svc, store, bus := newTestAttemptService()
	ctx := context.Background()

	first, err := svc.Start(ctx, examID, alice)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if first.Resumed || !first.StartedAt.Equal(t0) {
		t.Fatalf("first start = %+v", first)
	}

	second, err := svc.Start(ctx, examID, alice)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.AttemptID != first.AttemptID || !second.StartedAt.Equal(first.StartedAt) || !second.Resumed {
		t.Fatalf("second start = %+v, want resume of %+v", second, first)
	}
	if store.creates != 1 {
		t.Fatalf("creates = %d, want 1", store.creates)
	}
	if len(bus.events) != 1 || bus.events[0].Event != ws.EventStarted || bus.events[0].Total != 2 {
		t.Fatalf("events = %+v", bus.events)
	}

	other, err := svc.Start(ctx, examID, bob)
	if err != nil {
		t.Fatalf("bob start: %v", err)
	}
	if other.AttemptID == first.AttemptID {
		t.Fatal("different students must get different attempts")
	}
}

func TestStartConcurrentCreateResumesExisting(t *testing.T) {
	svc, store, _ := newTestAttemptService()
	winner := &model.Attempt{ID: "w1", ExamID: examID, StudentID: alice.ID, StartedAt: t0.Add(-time.Second), Status: model.AttemptStatusInProgress}
	store.raceWith = winner

	got, err := svc.Start(context.Background(), examID, alice)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.AttemptID != "w1" || !got.Resumed {
		t.Fatalf("start = %+v, want the concurrent winner", got)
	}
}

func TestStartUnknownExam(t *testing.T) {
	svc, _, _ := newTestAttemptService()
	if _, err := svc.Start(context.Background(), "nope", alice); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestSubmitTwiceIsRejected(t *testing.T) {
	svc, store, bus := newTestAttemptService()
	ctx := context.Background()

	started, err := svc.Start(ctx, examID, alice)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	payload := model.SubmitPayload{
		Answers:     []model.AnswerEntry{{QuestionID: q1, Response: strp("B")}, {QuestionID: q2, Response: nil}},
		TabWarnings: 2,
	}
	resp, err := svc.Submit(ctx, started.AttemptID, alice, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != model.AttemptStatusSubmitted || resp.AttemptID != started.AttemptID {
		t.Fatalf("submit response = %+v", resp)
	}

	payload.Answers[0].Response = strp("A")
	if _, err := svc.Submit(ctx, started.AttemptID, alice, payload); !errors.Is(err, ErrAttemptSubmitted) {
		t.Fatalf("second submit err = %v, want ErrAttemptSubmitted", err)
	}
	if got := *store.answers[started.AttemptID][0].Response; got != "B" {
		t.Fatalf("stored answer = %q, the second submit must not overwrite", got)
	}
	if len(bus.scores) != 1 {
		t.Fatalf("score jobs = %d, want 1", len(bus.scores))
	}

	if _, err := svc.Start(ctx, examID, alice); !errors.Is(err, ErrAttemptSubmitted) {
		t.Fatalf("start after submit err = %v, want ErrAttemptSubmitted", err)
	}
	if err := svc.Autosave(ctx, started.AttemptID, alice, model.AutosavePayload{}); !errors.Is(err, ErrAttemptSubmitted) {
		t.Fatalf("autosave after submit err = %v, want ErrAttemptSubmitted", err)
	}
}

func TestAutosaveQueuesNormalizedSnapshot(t *testing.T) {
	svc, _, bus := newTestAttemptService()
	ctx := context.Background()
	started, _ := svc.Start(ctx, examID, alice)

	err := svc.Autosave(ctx, started.AttemptID, alice, model.AutosavePayload{
		Answers: []model.AnswerEntry{
			{QuestionID: q2, Response: strp("draft")},
			{QuestionID: q1, Response: strp("A")},
			{QuestionID: q2, Response: strp("final")},
		},
		RemainingSec: 600,
		TabWarnings:  1,
	})
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}

	if len(bus.autosaves) != 1 {
		t.Fatalf("autosave jobs = %d", len(bus.autosaves))
	}
	job := bus.autosaves[0]
	if len(job.Answers) != 2 || job.Answers[0].QuestionID != q1 || *job.Answers[1].Response != "final" {
		t.Fatalf("job answers = %+v", job.Answers)
	}
	if _, ok := bus.snapshots[started.AttemptID]; !ok {
		t.Fatal("snapshot not stored")
	}
	last := bus.events[len(bus.events)-1]
	if last.Event != ws.EventAutosaved || last.Answered != 2 || last.RemainingSec != 600 || last.TabWarnings != 1 {
		t.Fatalf("monitor event = %+v", last)
	}
}

func TestAutosaveDropsOlderSnapshot(t *testing.T) {
	svc, _, bus := newTestAttemptService()
	ctx := context.Background()
	started, _ := svc.Start(ctx, examID, alice)

	save := func(at time.Duration, text string) error {
		return svc.Autosave(ctx, started.AttemptID, alice, model.AutosavePayload{
			Answers: []model.AnswerEntry{{QuestionID: q2, Response: strp(text)}},
			SavedAt: t0.Add(at),
		})
	}

	if err := save(40*time.Second, "new"); err != nil {
		t.Fatalf("newer autosave: %v", err)
	}
	if err := save(20*time.Second, "old"); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("older autosave err = %v, want ErrStaleSnapshot", err)
	}
	if err := save(40*time.Second, "new"); err != nil {
		t.Fatalf("repeated autosave: %v", err)
	}

	if len(bus.autosaves) != 2 {
		t.Fatalf("autosave jobs = %d, want 2", len(bus.autosaves))
	}
	for _, job := range bus.autosaves {
		if got := *job.Answers[1].Response; got != "new" {
			t.Fatalf("queued answer = %q, the older snapshot must not be persisted", got)
		}
	}
	if got := *bus.snapshots[started.AttemptID].Answers[1].Response; got != "new" {
		t.Fatalf("stored snapshot answer = %q", got)
	}
}

func TestAttemptAccessErrors(t *testing.T) {
	svc, _, _ := newTestAttemptService()
	ctx := context.Background()
	started, _ := svc.Start(ctx, examID, alice)

	tests := []struct {
		name      string
		attemptID string
		student   model.User
		answers   []model.AnswerEntry
		want      error
	}{
		{"malformed id", "not-a-uuid", alice, nil, ErrAttemptNotFound},
		{"missing attempt", "9d2c5f9e-0000-4000-8000-000000000009", alice, nil, ErrAttemptNotFound},
		{"other student", started.AttemptID, bob, nil, ErrNotAttemptOwner},
		{"unknown question", started.AttemptID, alice, []model.AnswerEntry{{QuestionID: "q9", Response: strp("A")}}, ErrUnknownQuestion},
		{"invalid option", started.AttemptID, alice, []model.AnswerEntry{{QuestionID: q1, Response: strp("Z")}}, ErrInvalidAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Autosave(ctx, tt.attemptID, tt.student, model.AutosavePayload{Answers: tt.answers})
			if !errors.Is(err, tt.want) {
				t.Fatalf("autosave err = %v, want %v", err, tt.want)
			}
			_, err = svc.Submit(ctx, tt.attemptID, tt.student, model.SubmitPayload{Answers: tt.answers})
			if !errors.Is(err, tt.want) {
				t.Fatalf("submit err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishFailureDoesNotFailSubmit(t *testing.T) {
	svc, _, bus := newTestAttemptService()
	bus.pubErr = errors.New("redis down")
	ctx := context.Background()

	started, err := svc.Start(ctx, examID, alice)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(ctx, started.AttemptID, alice, model.SubmitPayload{Auto: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
}
