package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Health probes the API. Any error means the API is unreachable from here.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var out model.LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", model.LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, &Error{Kind: ErrProtocol, Message: "login response missing token"}
	}
	return &out, nil
}

// FetchExam loads the student-facing exam definition. The exam may arrive
// bare or wrapped as {"exam": {...}}.
func (c *Client) FetchExam(ctx context.Context, examID string) (*model.Exam, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/student/exams/"+url.PathEscape(examID), nil, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		Exam *model.Exam `json:"exam"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &Error{Kind: ErrProtocol, Err: err}
	}
	exam := wrapped.Exam
	if exam == nil {
		exam = new(model.Exam)
		if err := json.Unmarshal(raw, exam); err != nil {
			return nil, &Error{Kind: ErrProtocol, Err: err}
		}
	}
	if exam.ID == "" {
		exam.ID = examID
	}
	return exam, nil
}

// startAttemptWire covers the response shapes seen across API versions.
type startAttemptWire struct {
	AttemptID string     `json:"attemptId"`
	ID        string     `json:"id"`
	StartedAt *time.Time `json:"startedAt"`
	Resumed   bool       `json:"resumed"`
	Attempt   *struct {
		ID        string     `json:"id"`
		AttemptID string     `json:"attemptId"`
		StartedAt *time.Time `json:"startedAt"`
	} `json:"attempt"`
}

// StartAttempt opens (or resumes) the student's attempt. A response without
// an attempt id is a protocol error; one without a start time is anchored to
// the local clock.
func (c *Client) StartAttempt(ctx context.Context, examID string) (*model.StartAttemptResponse, error) {
	var w startAttemptWire
	if err := c.do(ctx, http.MethodPost, "/attempts/start/"+url.PathEscape(examID), nil, &w); err != nil {
		return nil, err
	}

	out := &model.StartAttemptResponse{Resumed: w.Resumed}
	var startedAt *time.Time

	switch {
	case w.AttemptID != "":
		out.AttemptID = w.AttemptID
	case w.ID != "":
		out.AttemptID = w.ID
	case w.Attempt != nil && w.Attempt.ID != "":
		out.AttemptID = w.Attempt.ID
	case w.Attempt != nil:
		out.AttemptID = w.Attempt.AttemptID
	}
	if out.AttemptID == "" {
		return nil, &Error{Kind: ErrProtocol, Message: "attempt start response missing attemptId"}
	}

	switch {
	case w.StartedAt != nil:
		startedAt = w.StartedAt
	case w.Attempt != nil && w.Attempt.StartedAt != nil:
		startedAt = w.Attempt.StartedAt
	}
	if startedAt == nil || startedAt.IsZero() {
		c.log.Warn().Str("attempt_id", out.AttemptID).Msg("start response missing startedAt, using local clock")
		now := c.now()
		startedAt = &now
	}
	out.StartedAt = startedAt.UTC()
	return out, nil
}

// Autosave replicates a snapshot of the attempt.
func (c *Client) Autosave(ctx context.Context, attemptID string, payload model.AutosavePayload) error {
	return c.do(ctx, http.MethodPatch, "/attempts/"+url.PathEscape(attemptID)+"/autosave", payload, nil)
}

// Submit finalizes the attempt.
func (c *Client) Submit(ctx context.Context, attemptID string, payload model.SubmitPayload) (*model.SubmitResponse, error) {
	var out model.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/attempts/submit/"+url.PathEscape(attemptID), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
