// Package draft persists the in-progress state of an exam attempt on the
// student's machine so it survives reloads, crashes and lost connectivity.
//
// One record exists per (student, exam). Writers always merge a Patch into
// the current record; fields a patch leaves nil are never touched.
package draft

import (
	"context"
	"errors"
	"time"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var (
	// ErrNotFound is returned by Load when no record exists for the key.
	ErrNotFound = errors.New("draft not found")
	// ErrCorrupt is returned by Load when a record exists but cannot be decoded.
	ErrCorrupt = errors.New("draft record is corrupt")
)

// Key identifies a draft record.
type Key struct {
	StudentID string
	ExamID    string
}

// String renders the key in the shared cache-key format.
func (k Key) String() string {
	return config.CacheKey.AttemptDraftKey(k.StudentID, k.ExamID)
}

// Record is the durable tuple kept for an attempt.
type Record struct {
	AttemptID   string        `json:"attemptId,omitempty"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	Answers     model.Answers `json:"answers,omitempty"`
	TabWarnings int           `json:"tabWarnings"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// HasAttempt reports whether the record anchors a started attempt.
func (r *Record) HasAttempt() bool {
	return r != nil && r.AttemptID != "" && r.StartedAt != nil && !r.StartedAt.IsZero()
}

// Patch is a partial update. Nil fields are left as they are.
type Patch struct {
	AttemptID   *string
	StartedAt   *time.Time
	Answers     model.Answers
	TabWarnings *int
}

// Apply merges p into r and stamps the update time.
func (p Patch) Apply(r *Record, now time.Time) {
	if p.AttemptID != nil {
		r.AttemptID = *p.AttemptID
	}
	if p.StartedAt != nil {
		t := p.StartedAt.UTC()
		r.StartedAt = &t
	}
	if p.Answers != nil {
		r.Answers = p.Answers.Clone()
	}
	if p.TabWarnings != nil {
		r.TabWarnings = *p.TabWarnings
	}
	r.UpdatedAt = now.UTC()
}

// Store is the local persistent cache for draft records.
type Store interface {
	Load(ctx context.Context, key Key) (*Record, error)
	Merge(ctx context.Context, key Key, patch Patch) error
	Delete(ctx context.Context, key Key) error
	Close() error
}
