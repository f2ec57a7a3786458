package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/apiclient"
	"github.com/stemsi/exstem-attempt/internal/draft"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var errOffline = &apiclient.Error{Kind: apiclient.ErrNetwork, Err: errors.New("dial tcp: connection refused")}

type fakeAPI struct {
	mu sync.Mutex

	exam        *model.Exam
	fetchErr    error
	startResp   *model.StartAttemptResponse
	startErr    error
	startCalls  int
	autosaveErr []error // consumed per call; nil entries succeed
	autosaves   []model.AutosavePayload
	submitErr   []error
	submits     []model.SubmitPayload
	submitGate  chan struct{}
}

func (f *fakeAPI) FetchExam(_ context.Context, examID string) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.exam, nil
}

func (f *fakeAPI) StartAttempt(context.Context, string) (*model.StartAttemptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	resp := *f.startResp
	return &resp, nil
}

func (f *fakeAPI) Autosave(_ context.Context, _ string, p model.AutosavePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autosaves = append(f.autosaves, p)
	if len(f.autosaveErr) == 0 {
		return nil
	}
	err := f.autosaveErr[0]
	f.autosaveErr = f.autosaveErr[1:]
	return err
}

func (f *fakeAPI) Submit(ctx context.Context, attemptID string, p model.SubmitPayload) (*model.SubmitResponse, error) {
	if f.submitGate != nil {
		select {
		case <-f.submitGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, p)
	if len(f.submitErr) > 0 {
		err := f.submitErr[0]
		f.submitErr = f.submitErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.SubmitResponse{AttemptID: attemptID, Status: model.AttemptStatusSubmitted}, nil
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeAPI) autosaveCalls() []model.AutosavePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AutosavePayload(nil), f.autosaves...)
}

// recordingStore remembers every merged answer set.
type recordingStore struct {
	*draft.MemoryStore
	mu     sync.Mutex
	merged []model.Answers
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: draft.NewMemoryStore()}
}

func (r *recordingStore) Merge(ctx context.Context, key draft.Key, p draft.Patch) error {
	if p.Answers != nil {
		r.mu.Lock()
		r.merged = append(r.merged, p.Answers.Clone())
		r.mu.Unlock()
	}
	return r.MemoryStore.Merge(ctx, key, p)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func testExam() *model.Exam {
	return &model.Exam{
		ID:              "exam-1",
		Title:           "Mechanics",
		DurationMinutes: 60,
		Questions: []model.Question{
			{ID: "q1", Prompt: "g?", Marks: 1, Body: model.MultipleChoice{Options: []model.Option{
				{Key: "A", Label: "9.8"}, {Key: "B", Label: "10"},
			}}},
			{ID: "q2", Prompt: "Explain inertia", Marks: 5, Body: model.ShortAnswer{}},
		},
	}
}

type harness struct {
	api     *fakeAPI
	store   *recordingStore
	clock   *fakeClock
	notices *[]Notice
	s       *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api: &fakeAPI{
			exam:      testExam(),
			startResp: &model.StartAttemptResponse{AttemptID: "att-1", StartedAt: t0},
		},
		store:   newRecordingStore(),
		clock:   &fakeClock{now: t0},
		notices: new([]Notice),
	}
	h.s = h.newSession()
	return h
}

func (h *harness) newSession() *Session {
	var mu sync.Mutex
	return New(Options{
		API:       h.api,
		Store:     h.store,
		StudentID: "stu-1",
		ExamID:    "exam-1",
		Config:    DefaultConfig(),
		Logger:    zerolog.Nop(),
		Now:       h.clock.Now,
		Notify: func(n Notice) {
			mu.Lock()
			*h.notices = append(*h.notices, n)
			mu.Unlock()
		},
	})
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	if err := h.s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

// pump applies one result posted by a background call.
func (h *harness) pump(t *testing.T) {
	t.Helper()
	select {
	case fn := <-h.s.events:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session event")
	}
}

func (h *harness) count(kind NoticeKind) int {
	n := 0
	for _, notice := range *h.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) loadDraft(t *testing.T) *draft.Record {
	t.Helper()
	rec, err := h.store.Load(context.Background(), draft.Key{StudentID: "stu-1", ExamID: "exam-1"})
	if err != nil {
		t.Fatalf("load draft: %v", err)
	}
	return rec
}
