package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ExamRepository handles exam and question data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves a published exam with its questions in order. Answer keys
// are not loaded.
func (r *ExamRepository) GetByID(ctx context.Context, id string) (*model.Exam, error) {
	e := &model.Exam{}
	var teacherID, teacherName *string
	var institute string
	err := r.pool.QueryRow(ctx,
		`SELECT e.id::text, e.title, e.instructions, e.duration_minutes, e.institute,
		        e.teacher_id::text, u.name
		 FROM exams e
		 LEFT JOIN users u ON u.id = e.teacher_id
		 WHERE e.id = $1 AND e.published`, id,
	).Scan(&e.ID, &e.Title, &e.Instructions, &e.DurationMinutes, &institute, &teacherID, &teacherName)
	if err != nil {
		return nil, err
	}
	if teacherID != nil {
		e.TeacherID = *teacherID
	}
	if teacherName != nil || institute != "" {
		e.Teacher = &model.Teacher{Institute: institute}
		if teacherName != nil {
			e.Teacher.Name = *teacherName
		}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id::text, type, prompt, marks, options
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       model.Question
			qType   model.QuestionType
			options []byte
		)
		if err := rows.Scan(&q.ID, &qType, &q.Prompt, &q.Marks, &options); err != nil {
			return nil, err
		}
		switch qType {
		case model.QuestionTypeMultipleChoice:
			opts, err := model.ParseOptions(options)
			if err != nil {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
			q.Body = model.MultipleChoice{Options: opts}
		case model.QuestionTypeShortAnswer:
			q.Body = model.ShortAnswer{}
		default:
			return nil, fmt.Errorf("question %s: %w %q", q.ID, model.ErrUnknownQuestionType, qType)
		}
		e.Questions = append(e.Questions, q)
	}
	return e, rows.Err()
}

// ListAnswerKeys retrieves the marking data of an exam.
func (r *ExamRepository) ListAnswerKeys(ctx context.Context, examID string) ([]model.AnswerKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, type, marks, correct_option
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []model.AnswerKey
	for rows.Next() {
		var k model.AnswerKey
		if err := rows.Scan(&k.QuestionID, &k.Type, &k.Marks, &k.CorrectOption); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ListPublishedIDs returns the IDs of every published exam.
func (r *ExamRepository) ListPublishedIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text FROM exams WHERE published ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Create inserts an exam and its questions in one transaction and returns
// the new exam ID.
func (r *ExamRepository) Create(ctx context.Context, req *model.CreateExamRequest, teacherID, institute string) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var examID string
	err = tx.QueryRow(ctx,
		`INSERT INTO exams (title, instructions, duration_minutes, teacher_id, institute)
		 VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5)
		 RETURNING id::text`,
		req.Title, req.Instructions, req.DurationMinutes, teacherID, institute,
	).Scan(&examID)
	if err != nil {
		return "", fmt.Errorf("insert exam: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range req.Questions {
		var options []byte
		if q.Type == model.QuestionTypeMultipleChoice {
			options, err = json.Marshal(q.Options)
			if err != nil {
				return "", fmt.Errorf("marshal options: %w", err)
			}
		}
		batch.Queue(
			`INSERT INTO questions (exam_id, order_num, type, prompt, marks, options, correct_option)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			examID, i+1, q.Type, q.Prompt, q.Marks, options, q.CorrectOption,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return "", fmt.Errorf("insert questions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return examID, nil
}
