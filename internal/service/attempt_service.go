package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// Attempt errors.
var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptSubmitted = errors.New("attempt already submitted")
	ErrNotAttemptOwner  = errors.New("attempt belongs to another student")
	ErrUnknownQuestion  = errors.New("answer references an unknown question")
	ErrInvalidAnswer    = errors.New("answer is not valid for its question")
	ErrStaleSnapshot    = errors.New("a newer autosave is already stored")
)

// AttemptStore is the attempt persistence the service needs.
type AttemptStore interface {
	GetByID(ctx context.Context, id string) (*model.Attempt, error)
	GetByExamAndStudent(ctx context.Context, examID, studentID string) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	Submit(ctx context.Context, attemptID string, p model.SubmitPayload, at time.Time) (bool, error)
}

// ExamProvider resolves student-facing exams.
type ExamProvider interface {
	GetExam(ctx context.Context, examID string) (*model.Exam, error)
}

// AttemptService handles starting, autosaving and submitting attempts.
type AttemptService struct {
	attempts AttemptStore
	exams    ExamProvider
	bus      AttemptBus
	log      zerolog.Logger
	now      func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(attempts AttemptStore, exams ExamProvider, bus AttemptBus, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		exams:    exams,
		bus:      bus,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
	}
}

// Start returns the student's open attempt for the exam, creating it on the
// first call. Starting again after submission fails with ErrAttemptSubmitted.
func (s *AttemptService) Start(ctx context.Context, examID string, student model.User) (*model.StartAttemptResponse, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	existing, err := s.attempts.GetByExamAndStudent(ctx, examID, student.ID)
	switch {
	case err == nil:
		return resume(existing)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}

	a := &model.Attempt{
		ID:        uuid.New().String(),
		ExamID:    examID,
		StudentID: student.ID,
		StartedAt: s.now().UTC().Truncate(time.Microsecond),
		Status:    model.AttemptStatusInProgress,
	}
	if err := s.attempts.Create(ctx, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start: the other request created it.
			existing, fetchErr := s.attempts.GetByExamAndStudent(ctx, examID, student.ID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return resume(existing)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", a.ID).
		Str("exam_id", examID).
		Str("student_id", student.ID).
		Msg("Attempt started")

	s.publish(ctx, ws.MonitorEvent{
		Event:        ws.EventStarted,
		ExamID:       examID,
		AttemptID:    a.ID,
		StudentID:    student.ID,
		StudentName:  student.Name,
		Total:        len(exam.Questions),
		RemainingSec: int64(exam.Duration().Seconds()),
		At:           a.StartedAt,
	})

	return &model.StartAttemptResponse{AttemptID: a.ID, StartedAt: a.StartedAt}, nil
}

func resume(a *model.Attempt) (*model.StartAttemptResponse, error) {
	if a.Status == model.AttemptStatusSubmitted {
		return nil, ErrAttemptSubmitted
	}
	return &model.StartAttemptResponse{AttemptID: a.ID, StartedAt: a.StartedAt.UTC(), Resumed: true}, nil
}

// Autosave accepts a snapshot of an open attempt. The snapshot is cached and
// queued; the autosave worker writes it to PostgreSQL. A snapshot saved
// before the stored one is dropped with ErrStaleSnapshot.
func (s *AttemptService) Autosave(ctx context.Context, attemptID string, student model.User, p model.AutosavePayload) error {
	a, exam, err := s.load(ctx, attemptID, student.ID)
	if err != nil {
		return err
	}
	if a.Status == model.AttemptStatusSubmitted {
		return ErrAttemptSubmitted
	}

	answers, err := collectAnswers(exam, p.Answers)
	if err != nil {
		return err
	}
	p.Answers = model.BuildEntries(exam.Questions, answers)
	if p.SavedAt.IsZero() {
		p.SavedAt = s.now().UTC()
	}

	stored, err := s.bus.StoreSnapshot(ctx, a.ID, p)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if !stored {
		s.log.Debug().
			Str("attempt_id", a.ID).
			Time("saved_at", p.SavedAt).
			Msg("Dropped autosave older than the stored snapshot")
		return ErrStaleSnapshot
	}
	if err := s.bus.EnqueueAutosave(ctx, model.AutosaveJob{
		AttemptID:   a.ID,
		ExamID:      a.ExamID,
		Answers:     p.Answers,
		TabWarnings: p.TabWarnings,
	}); err != nil {
		return fmt.Errorf("queue autosave: %w", err)
	}

	progress := model.ComputeProgress(exam.Questions, answers)
	s.publish(ctx, ws.MonitorEvent{
		Event:        ws.EventAutosaved,
		ExamID:       a.ExamID,
		AttemptID:    a.ID,
		StudentID:    student.ID,
		StudentName:  student.Name,
		Answered:     progress.Answered,
		Total:        progress.Total,
		TabWarnings:  p.TabWarnings,
		RemainingSec: p.RemainingSec,
		At:           s.now().UTC(),
	})
	return nil
}

// Submit finalizes an attempt exactly once. A second submission fails with
// ErrAttemptSubmitted and leaves the stored answers untouched.
func (s *AttemptService) Submit(ctx context.Context, attemptID string, student model.User, p model.SubmitPayload) (*model.SubmitResponse, error) {
	a, exam, err := s.load(ctx, attemptID, student.ID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AttemptStatusSubmitted {
		return nil, ErrAttemptSubmitted
	}

	answers, err := collectAnswers(exam, p.Answers)
	if err != nil {
		return nil, err
	}
	p.Answers = model.BuildEntries(exam.Questions, answers)

	at := s.now().UTC().Truncate(time.Microsecond)
	ok, err := s.attempts.Submit(ctx, a.ID, p, at)
	if err != nil {
		return nil, fmt.Errorf("submit attempt: %w", err)
	}
	if !ok {
		return nil, ErrAttemptSubmitted
	}

	if err := s.bus.EnqueueScore(ctx, model.ScoreJob{AttemptID: a.ID, ExamID: a.ExamID}); err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID).Msg("Failed to queue scoring")
	}

	progress := model.ComputeProgress(exam.Questions, answers)
	s.log.Info().
		Str("attempt_id", a.ID).
		Bool("auto", p.Auto).
		Int("answered", progress.Answered).
		Int("total", progress.Total).
		Msg("Attempt submitted")

	s.publish(ctx, ws.MonitorEvent{
		Event:       ws.EventSubmitted,
		ExamID:      a.ExamID,
		AttemptID:   a.ID,
		StudentID:   student.ID,
		StudentName: student.Name,
		Answered:    progress.Answered,
		Total:       progress.Total,
		TabWarnings: p.TabWarnings,
		Auto:        p.Auto,
		At:          at,
	})

	return &model.SubmitResponse{AttemptID: a.ID, Status: model.AttemptStatusSubmitted, SubmittedAt: at}, nil
}

func (s *AttemptService) load(ctx context.Context, attemptID, studentID string) (*model.Attempt, *model.Exam, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return nil, nil, ErrAttemptNotFound
	}
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.StudentID != studentID {
		return nil, nil, ErrNotAttemptOwner
	}
	exam, err := s.exams.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, nil, err
	}
	return a, exam, nil
}

// collectAnswers checks entries against the exam. Null responses are
// unanswered; a repeated question keeps its last response.
func collectAnswers(exam *model.Exam, entries []model.AnswerEntry) (model.Answers, error) {
	answers := make(model.Answers, len(entries))
	for _, e := range entries {
		q, ok := exam.Question(e.QuestionID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, e.QuestionID)
		}
		if e.Response == nil {
			delete(answers, e.QuestionID)
			continue
		}
		if err := q.ValidateAnswer(*e.Response); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAnswer, err)
		}
		answers[e.QuestionID] = *e.Response
	}
	return answers, nil
}

// publish is best-effort: monitoring must never fail an attempt operation.
func (s *AttemptService) publish(ctx context.Context, ev ws.MonitorEvent) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("exam_id", ev.ExamID).Msg("Failed to publish monitor event")
	}
}
