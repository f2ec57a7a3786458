// Package attempt runs one student's timed exam attempt: it resolves the
// attempt, counts down to the deadline, keeps a local draft of the answers,
// counts integrity events, replicates the draft to the server and performs
// the final submission exactly once.
//
// All mutable state is owned by the goroutine running Session.Run. Inputs,
// timers and finished network calls are turned into closures on the events
// channel, so no two handlers ever interleave.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/draft"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// API is the part of the exam backend a session talks to.
type API interface {
	FetchExam(ctx context.Context, examID string) (*model.Exam, error)
	StartAttempt(ctx context.Context, examID string) (*model.StartAttemptResponse, error)
	Autosave(ctx context.Context, attemptID string, payload model.AutosavePayload) error
	Submit(ctx context.Context, attemptID string, payload model.SubmitPayload) (*model.SubmitResponse, error)
}

type Config struct {
	TickInterval     time.Duration
	DraftDebounce    time.Duration
	AutosaveInterval time.Duration
	// LowTime is the remaining time at which the one-shot warning fires.
	LowTime time.Duration
	// FinalSeconds is how many trailing seconds get a per-second cue.
	FinalSeconds int
}

func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Second,
		DraftDebounce:    400 * time.Millisecond,
		AutosaveInterval: 20 * time.Second,
		LowTime:          time.Minute,
		FinalSeconds:     10,
	}
}

// ConfigFrom takes the session timings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg.TickInterval > 0 {
		c.TickInterval = cfg.TickInterval
	}
	if cfg.DraftDebounce > 0 {
		c.DraftDebounce = cfg.DraftDebounce
	}
	if cfg.AutosaveInterval > 0 {
		c.AutosaveInterval = cfg.AutosaveInterval
	}
	return c
}

type Options struct {
	API       API
	Store     draft.Store
	StudentID string
	ExamID    string
	Config    Config
	Notify    Notifier
	Logger    zerolog.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// View is a read-only copy of the session state for rendering.
type View struct {
	State       State
	Exam        *model.Exam
	AttemptID   string
	StartedAt   time.Time
	Deadline    time.Time
	Remaining   time.Duration
	Answers     model.Answers
	TabWarnings int
	Online      bool
	Queued      int
	Progress    model.Progress
	LastSavedAt time.Time
	Err         error
}

type Session struct {
	api    API
	store  draft.Store
	key    draft.Key
	cfg    Config
	notify Notifier
	log    zerolog.Logger
	now    func() time.Time

	events  chan func()
	done    chan struct{}
	running atomic.Bool
	view    atomic.Pointer[View]
	wg      sync.WaitGroup
	runCtx  context.Context

	// Owned by the loop.
	state         State
	exam          *model.Exam
	attemptID     string
	startedAt     time.Time
	deadline      time.Time
	answers       model.Answers
	tabWarnings   int
	online        bool
	countdown     countdown
	queue         RetryQueue
	draining      bool
	draftTimer    *time.Timer
	draftDirty    bool
	autoRequested bool
	submitReply   chan<- error
	submitAuto    bool
	lastSavedAt   time.Time
	err           error
}

func New(opts Options) *Session {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.DraftDebounce <= 0 {
		cfg.DraftDebounce = def.DraftDebounce
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = def.AutosaveInterval
	}
	if cfg.LowTime <= 0 {
		cfg.LowTime = def.LowTime
	}
	if cfg.FinalSeconds <= 0 {
		cfg.FinalSeconds = def.FinalSeconds
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	notify := opts.Notify
	if notify == nil {
		notify = func(Notice) {}
	}

	s := &Session{
		api:       opts.API,
		store:     opts.Store,
		key:       draft.Key{StudentID: opts.StudentID, ExamID: opts.ExamID},
		cfg:       cfg,
		notify:    notify,
		now:       now,
		events:    make(chan func(), 64),
		done:      make(chan struct{}),
		runCtx:    context.Background(),
		state:     StateBootstrapping,
		answers:   model.Answers{},
		online:    true,
		countdown: newCountdown(cfg.LowTime, cfg.FinalSeconds),
		log: opts.Logger.With().
			Str("component", "attempt").
			Str("student_id", opts.StudentID).
			Str("exam_id", opts.ExamID).
			Logger(),
	}
	s.publish()
	return s
}

// ─── Bootstrap ─────────────────────────────────────────────────────────

// Open fetches the exam and resolves the attempt: a draft that already
// anchors an attempt is reused, otherwise a new attempt is started and
// anchored in the draft before Open returns. Any failure leaves the session
// in StateFailed.
func (s *Session) Open(ctx context.Context) error {
	if s.state != StateBootstrapping {
		return fmt.Errorf("attempt: open in state %s", s.state)
	}

	exam, err := s.api.FetchExam(ctx, s.key.ExamID)
	if err != nil {
		return s.fail(err)
	}

	rec, err := s.store.Load(ctx, s.key)
	switch {
	case err == nil:
	case errors.Is(err, draft.ErrNotFound):
		rec = nil
	default:
		s.log.Warn().Err(err).Msg("Ignoring unreadable draft")
		rec = nil
	}

	if rec != nil {
		if rec.Answers != nil {
			s.answers = rec.Answers.Clone()
		}
		s.tabWarnings = rec.TabWarnings
	}

	if rec.HasAttempt() {
		s.attemptID = rec.AttemptID
		s.startedAt = rec.StartedAt.UTC()
		s.log.Info().Str("attempt_id", s.attemptID).Msg("Resuming attempt from draft")
	} else {
		resp, err := s.api.StartAttempt(ctx, s.key.ExamID)
		if err != nil {
			return s.fail(err)
		}
		if resp.AttemptID == "" {
			return s.fail(ErrMissingAttemptID)
		}
		startedAt := resp.StartedAt
		if startedAt.IsZero() {
			startedAt = s.now()
		}
		startedAt = startedAt.UTC()

		if err := s.store.Merge(ctx, s.key, draft.Patch{
			AttemptID: &resp.AttemptID,
			StartedAt: &startedAt,
		}); err != nil {
			return s.fail(fmt.Errorf("anchor attempt in draft: %w", err))
		}
		s.attemptID = resp.AttemptID
		s.startedAt = startedAt
		s.log.Info().Str("attempt_id", s.attemptID).Bool("resumed", resp.Resumed).Msg("Attempt started")
	}

	s.exam = exam
	s.deadline = s.startedAt.Add(exam.Duration())
	s.countdown.bind(s.attemptID)
	s.log = s.log.With().Str("attempt_id", s.attemptID).Logger()
	s.state = StateInProgress
	s.publish()
	return nil
}

func (s *Session) fail(err error) error {
	err = fmt.Errorf("%w: %w", ErrBootstrap, err)
	s.state = StateFailed
	s.err = err
	s.log.Error().Err(err).Msg("Attempt bootstrap failed")
	s.publish()
	return err
}

// ─── Loop ──────────────────────────────────────────────────────────────

// Run drives the attempt until it is submitted (nil) or ctx ends (ctx.Err()).
// A pending draft write is flushed before returning.
func (s *Session) Run(ctx context.Context) error {
	if s.state != StateInProgress {
		return ErrNotInProgress
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("attempt: Run called twice")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.runCtx = ctx
	defer func() {
		cancel()
		close(s.done)
		s.wg.Wait()
		s.publish()
	}()

	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	autosave := time.NewTicker(s.cfg.AutosaveInterval)
	defer autosave.Stop()
	defer s.stopDraftTimer()

	tickC := tick.C
	s.handleTick()
	s.publish()

	for s.state != StateSubmitted {
		if s.countdown.expired {
			tickC = nil
		}
		select {
		case <-ctx.Done():
			s.flushDraft(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-tickC:
			s.handleTick()
		case <-autosave.C:
			s.handleAutosaveTick()
		case <-s.draftTimerC():
			s.draftTimer = nil
			s.flushDraft(ctx)
		case fn := <-s.events:
			fn()
		}
		s.publish()
	}
	return nil
}

// spawn runs work off the loop and applies its result on the loop.
func (s *Session) spawn(work func(ctx context.Context) func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		apply := work(s.runCtx)
		select {
		case s.events <- apply:
		case <-s.done:
		}
	}()
}

// post queues fn for the loop.
func (s *Session) post(ctx context.Context, fn func()) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.events <- fn:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, func() { reply <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) publish() {
	v := &View{
		State:       s.state,
		Exam:        s.exam,
		AttemptID:   s.attemptID,
		StartedAt:   s.startedAt,
		Deadline:    s.deadline,
		Answers:     s.answers.Clone(),
		TabWarnings: s.tabWarnings,
		Online:      s.online,
		Queued:      s.queue.Len(),
		LastSavedAt: s.lastSavedAt,
		Err:         s.err,
	}
	if !s.deadline.IsZero() {
		v.Remaining = max(s.deadline.Sub(s.now()), 0)
	}
	if s.exam != nil {
		v.Progress = model.ComputeProgress(s.exam.Questions, s.answers)
	}
	s.view.Store(v)
}

// ─── Inputs ────────────────────────────────────────────────────────────

// Snapshot returns the state as of the last handled event. It never blocks.
func (s *Session) Snapshot() View {
	return *s.view.Load()
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// SetAnswer records a response and schedules a draft write.
func (s *Session) SetAnswer(ctx context.Context, questionID, value string) error {
	return s.call(ctx, func() error { return s.setAnswer(questionID, value) })
}

// ClearAnswer removes a response.
func (s *Session) ClearAnswer(ctx context.Context, questionID string) error {
	return s.call(ctx, func() error { return s.clearAnswer(questionID) })
}

// ReportIntegrity records that the student may have left the exam view.
// It never blocks answering and never triggers a submission.
func (s *Session) ReportIntegrity(ctx context.Context, kind model.IntegrityKind) error {
	return s.post(ctx, func() { s.recordIntegrity(kind) })
}

// SetOnline reports connectivity. Going online drains queued autosaves.
func (s *Session) SetOnline(online bool) {
	_ = s.post(context.Background(), func() { s.setOnline(online) })
}

// Submit asks for the final submission and waits for its outcome. It fails
// fast with ErrSubmissionInFlight or ErrNotInProgress when a submission is
// not allowed right now.
func (s *Session) Submit(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, func() { s.requestSubmit(false, reply) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
