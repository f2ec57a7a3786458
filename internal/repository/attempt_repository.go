package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// AttemptRepository handles attempt and answer data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id::text, exam_id::text, student_id::text, started_at, status,
	tab_warnings, submitted_at, auto_submit, score`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.Status,
		&a.TabWarnings, &a.SubmittedAt, &a.AutoSubmit, &a.Score)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the attempt for a specific exam-student combination.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID, studentID string) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

// Create inserts a new attempt. It returns pgx.ErrNoRows when the student
// already has an attempt for the exam.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING started_at`,
		a.ID, a.ExamID, a.StudentID, a.StartedAt, model.AttemptStatusInProgress,
	).Scan(&a.StartedAt)
}

const upsertAnswers = `
	INSERT INTO attempt_answers (attempt_id, question_id, response, updated_at)
	SELECT $1, u.question_id, u.response, NOW()
	FROM UNNEST($2::uuid[], $3::text[]) AS u (question_id, response)
	ON CONFLICT (attempt_id, question_id) DO UPDATE
	SET response = EXCLUDED.response, updated_at = NOW()`

func splitEntries(entries []model.AnswerEntry) ([]string, []*string) {
	ids := make([]string, len(entries))
	responses := make([]*string, len(entries))
	for i, e := range entries {
		ids[i] = e.QuestionID
		responses[i] = e.Response
	}
	return ids, responses
}

// SaveSnapshot stores an autosave while the attempt is still in progress.
// It reports false when the attempt was already submitted; the snapshot is
// then discarded so a late autosave never overwrites final answers.
func (r *AttemptRepository) SaveSnapshot(ctx context.Context, attemptID string, entries []model.AnswerEntry, tabWarnings int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE attempts SET tab_warnings = GREATEST(tab_warnings, $2)
		 WHERE id = $1 AND status = $3`,
		attemptID, tabWarnings, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	ids, responses := splitEntries(entries)
	if _, err := tx.Exec(ctx, upsertAnswers, attemptID, ids, responses); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Submit finalizes an attempt with its answers. Only the first call for an
// attempt succeeds; later calls report false and change nothing.
func (r *AttemptRepository) Submit(ctx context.Context, attemptID string, p model.SubmitPayload, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, submitted_at = $3, auto_submit = $4,
		     tab_warnings = GREATEST(tab_warnings, $5)
		 WHERE id = $1 AND status = $6`,
		attemptID, model.AttemptStatusSubmitted, at, p.Auto, p.TabWarnings, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	ids, responses := splitEntries(p.Answers)
	if _, err := tx.Exec(ctx, upsertAnswers, attemptID, ids, responses); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// ListAnswers returns the stored non-null responses of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID string) (model.Answers, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id::text, response FROM attempt_answers
		 WHERE attempt_id = $1 AND response IS NOT NULL`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := model.Answers{}
	for rows.Next() {
		var qid, resp string
		if err := rows.Scan(&qid, &resp); err != nil {
			return nil, err
		}
		answers[qid] = resp
	}
	return answers, rows.Err()
}

// SetScore stores the automatic score of a submitted attempt.
func (r *AttemptRepository) SetScore(ctx context.Context, attemptID string, score float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts SET score = $2 WHERE id = $1 AND status = $3`,
		attemptID, score, model.AttemptStatusSubmitted)
	return err
}

// SetScores updates many submitted attempts in one statement.
func (r *AttemptRepository) SetScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	ids := make([]string, 0, len(scores))
	values := make([]float64, 0, len(scores))
	for id, s := range scores {
		ids = append(ids, id)
		values = append(values, s)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE attempts AS a
		SET score = t.score
		FROM UNNEST($1::uuid[], $2::float8[]) AS t (id, score)
		WHERE a.id = t.id AND a.status = $3`,
		ids, values, model.AttemptStatusSubmitted)
	return err
}
