package model

import (
	"time"
)

// AttemptStatus enumerates attempt lifecycle states on the server.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// Attempt represents one student's instance of taking an exam.
type Attempt struct {
	ID          string        `json:"id"`
	ExamID      string        `json:"examId"`
	StudentID   string        `json:"studentId"`
	StartedAt   time.Time     `json:"startedAt"`
	Status      AttemptStatus `json:"status"`
	TabWarnings int           `json:"tabWarnings"`
	SubmittedAt *time.Time    `json:"submittedAt,omitempty"`
	AutoSubmit  bool          `json:"autoSubmit"`
	Score       *float64      `json:"score,omitempty"`
}

// StartAttemptResponse is returned by the start endpoint.
type StartAttemptResponse struct {
	AttemptID string    `json:"attemptId"`
	StartedAt time.Time `json:"startedAt"`
	Resumed   bool      `json:"resumed"`
}

// AutosavePayload is a periodic snapshot of the in-progress answers.
type AutosavePayload struct {
	Answers      []AnswerEntry `json:"answers" binding:"dive"`
	RemainingSec int64         `json:"remainingSec" binding:"min=0"`
	TabWarnings  int           `json:"tabWarnings" binding:"min=0"`
	SavedAt      time.Time     `json:"savedAt"`
}

// SubmitPayload carries the final answers of an attempt.
type SubmitPayload struct {
	Answers     []AnswerEntry `json:"answers" binding:"dive"`
	Auto        bool          `json:"auto"`
	TabWarnings int           `json:"tabWarnings" binding:"min=0"`
}

// SubmitResponse acknowledges a final submission.
type SubmitResponse struct {
	AttemptID   string        `json:"attemptId"`
	Status      AttemptStatus `json:"status"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

// AttemptProgress is one row of the teacher's live monitor.
type AttemptProgress struct {
	AttemptID   string        `json:"attemptId"`
	StudentID   string        `json:"studentId"`
	StudentName string        `json:"studentName"`
	Status      AttemptStatus `json:"status"`
	Answered    int           `json:"answered"`
	TabWarnings int           `json:"tabWarnings"`
	StartedAt   time.Time     `json:"startedAt"`
	SubmittedAt *time.Time    `json:"submittedAt,omitempty"`
	Score       *float64      `json:"score,omitempty"`
}
