package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// MonitorRepository provides data access for the live exam monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListProgress returns every attempt of an exam with its persisted answer
// count, oldest first. Answers still queued for the autosave worker are not
// counted yet.
func (r *MonitorRepository) ListProgress(ctx context.Context, examID string) ([]model.AttemptProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id::text, a.student_id::text, u.name, a.status, COUNT(ans.response),
		        a.tab_warnings, a.started_at, a.submitted_at, a.score
		 FROM attempts a
		 JOIN users u ON u.id = a.student_id
		 LEFT JOIN attempt_answers ans ON ans.attempt_id = a.id AND ans.response IS NOT NULL
		 WHERE a.exam_id = $1
		 GROUP BY a.id, u.name
		 ORDER BY a.started_at`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttemptProgress
	for rows.Next() {
		var p model.AttemptProgress
		if err := rows.Scan(&p.AttemptID, &p.StudentID, &p.StudentName, &p.Status, &p.Answered,
			&p.TabWarnings, &p.StartedAt, &p.SubmittedAt, &p.Score); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
