package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/stemsi/exstem-attempt/internal/model"
	_ "modernc.org/sqlite" // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// SQLStore keeps records in an attempt_drafts table. SQLite is the default
// for a single machine; Postgres serves kiosk fleets with a shared local DB.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQL opens the database and ensures the table exists.
func OpenSQL(ctx context.Context, driver Driver, dsn string) (*SQLStore, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "file:drafts.db?_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// One writer; avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping draft db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDrafts); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure draft schema: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

const schemaDrafts = `
CREATE TABLE IF NOT EXISTS attempt_drafts (
  student_id   TEXT NOT NULL,
  exam_id      TEXT NOT NULL,
  attempt_id   TEXT,
  started_at   BIGINT,
  answers      TEXT,
  tab_warnings INTEGER,
  updated_at   BIGINT NOT NULL,
  PRIMARY KEY (student_id, exam_id)
)`

// Load reads the record for key.
func (s *SQLStore) Load(ctx context.Context, key Key) (*Record, error) {
	var (
		attemptID   sql.NullString
		startedAt   sql.NullInt64
		answers     sql.NullString
		tabWarnings sql.NullInt64
		updatedAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT attempt_id, started_at, answers, tab_warnings, updated_at
		 FROM attempt_drafts
		 WHERE student_id = $1 AND exam_id = $2`,
		key.StudentID, key.ExamID,
	).Scan(&attemptID, &startedAt, &answers, &tabWarnings, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	rec := &Record{
		AttemptID:   attemptID.String,
		TabWarnings: int(tabWarnings.Int64),
		UpdatedAt:   time.UnixMilli(updatedAt).UTC(),
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		rec.StartedAt = &t
	}
	if answers.Valid && answers.String != "" {
		var a model.Answers
		if err := json.Unmarshal([]byte(answers.String), &a); err != nil {
			return nil, fmt.Errorf("%w: answers: %v", ErrCorrupt, err)
		}
		rec.Answers = a
	}
	return rec, nil
}

// Merge upserts the row; columns the patch leaves nil keep their value.
func (s *SQLStore) Merge(ctx context.Context, key Key, patch Patch) error {
	var (
		attemptID   sql.NullString
		startedAt   sql.NullInt64
		answers     sql.NullString
		tabWarnings sql.NullInt64
	)
	if patch.AttemptID != nil {
		attemptID = sql.NullString{String: *patch.AttemptID, Valid: true}
	}
	if patch.StartedAt != nil {
		startedAt = sql.NullInt64{Int64: patch.StartedAt.UnixMilli(), Valid: true}
	}
	if patch.Answers != nil {
		raw, err := json.Marshal(patch.Answers)
		if err != nil {
			return fmt.Errorf("encode answers: %w", err)
		}
		answers = sql.NullString{String: string(raw), Valid: true}
	}
	if patch.TabWarnings != nil {
		tabWarnings = sql.NullInt64{Int64: int64(*patch.TabWarnings), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempt_drafts (student_id, exam_id, attempt_id, started_at, answers, tab_warnings, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (student_id, exam_id) DO UPDATE SET
		   attempt_id   = COALESCE(excluded.attempt_id, attempt_drafts.attempt_id),
		   started_at   = COALESCE(excluded.started_at, attempt_drafts.started_at),
		   answers      = COALESCE(excluded.answers, attempt_drafts.answers),
		   tab_warnings = COALESCE(excluded.tab_warnings, attempt_drafts.tab_warnings),
		   updated_at   = excluded.updated_at`,
		key.StudentID, key.ExamID, attemptID, startedAt, answers, tabWarnings, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("merge draft: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *SQLStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM attempt_drafts WHERE student_id = $1 AND exam_id = $2`,
		key.StudentID, key.ExamID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
