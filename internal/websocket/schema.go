package websocket

import (
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventStarted   Event = "started"
	EventAutosaved Event = "autosaved"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
	EventSnapshot  Event = "snapshot"
)

// MonitorEvent is published for every attempt change of an exam and
// relayed to teachers watching it.
type MonitorEvent struct {
	Event        Event     `json:"event"`
	ExamID       string    `json:"examId"`
	AttemptID    string    `json:"attemptId"`
	StudentID    string    `json:"studentId"`
	StudentName  string    `json:"studentName,omitempty"`
	Answered     int       `json:"answered"`
	Total        int       `json:"total"`
	TabWarnings  int       `json:"tabWarnings"`
	RemainingSec int64     `json:"remainingSec,omitempty"`
	Auto         bool      `json:"auto,omitempty"`
	At           time.Time `json:"at"`
}

// MonitorSnapshot is the first message of a monitor connection: every
// attempt of the exam as persisted so far.
type MonitorSnapshot struct {
	Event    Event                   `json:"event"`
	ExamID   string                  `json:"examId"`
	Title    string                  `json:"title"`
	Total    int                     `json:"total"`
	Attempts []model.AttemptProgress `json:"attempts"`
	At       time.Time               `json:"at"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
