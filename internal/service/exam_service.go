package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// Domain Errors
var (
	ErrExamNotFound = errors.New("exam not found")
	ErrNoQuestions  = errors.New("exam has no questions")
)

// ExamService serves exam payloads from a Redis cache backed by PostgreSQL.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetExam returns the student-facing exam. A cache miss loads it from
// PostgreSQL and warms the cache.
func (s *ExamService) GetExam(ctx context.Context, examID string) (*model.Exam, error) {
	key := config.CacheKey.ExamPayloadKey(examID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var exam model.Exam
		if err := json.Unmarshal(data, &exam); err == nil {
			return &exam, nil
		}
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Discarding unreadable cached payload")
	case !errors.Is(err, redis.Nil):
		// Redis is a cache here; fall through to the database.
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Exam cache unavailable")
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := s.cache(ctx, exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Failed to cache exam payload")
	}
	return exam, nil
}

// WarmExamCache loads an exam from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, examID string) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}
	return s.cache(ctx, exam)
}

func (s *ExamService) cache(ctx context.Context, exam *model.Exam) error {
	payload, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	s.log.Debug().
		Str("exam_id", exam.ID).
		Int("questions", len(exam.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.examRepo.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		if err := s.WarmExamCache(ctx, id); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", id).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// Create stores a new exam authored by teacherID and caches it.
func (s *ExamService) Create(ctx context.Context, req *model.CreateExamRequest, teacherID, institute string) (string, error) {
	for i, q := range req.Questions {
		if q.Type != model.QuestionTypeMultipleChoice {
			continue
		}
		if len(q.Options) < 2 {
			return "", fmt.Errorf("question %d: a multiple-choice question needs at least two options", i+1)
		}
		if _, ok := q.Options[q.CorrectOption]; !ok {
			return "", fmt.Errorf("question %d: correct option %q is not one of the options", i+1, q.CorrectOption)
		}
	}

	id, err := s.examRepo.Create(ctx, req, teacherID, institute)
	if err != nil {
		return "", err
	}
	if err := s.WarmExamCache(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id).Msg("Failed to warm new exam")
	}
	return id, nil
}
