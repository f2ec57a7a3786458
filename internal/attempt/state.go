package attempt

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-attempt/internal/apiclient"
)

// State is the lifecycle position of an attempt session. Only the session
// loop changes it.
type State int

const (
	StateBootstrapping State = iota
	StateInProgress
	StateSubmissionInFlight
	StateSubmitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateInProgress:
		return "in_progress"
	case StateSubmissionInFlight:
		return "submission_in_flight"
	case StateSubmitted:
		return "submitted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateFailed
}

var (
	ErrBootstrap          = errors.New("could not start the exam")
	ErrMissingAttemptID   = errors.New("attempt start response missing attemptId")
	ErrNotInProgress      = errors.New("attempt is not in progress")
	ErrSubmissionInFlight = errors.New("submission already in progress")
	ErrUnknownQuestion    = errors.New("unknown question")
	ErrInvalidAnswer      = errors.New("invalid answer")
	ErrStopped            = errors.New("attempt session stopped")
)

// UserMessage turns any error produced while taking an exam into text fit
// for the student. The server's own message wins when there is one.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := apiclient.Message(err); msg != "" {
		return msg
	}

	switch {
	case errors.Is(err, ErrSubmissionInFlight):
		return "Your answers are already being submitted. Please wait."
	case errors.Is(err, ErrNotInProgress), errors.Is(err, ErrStopped):
		return "This attempt is no longer open."
	case errors.Is(err, ErrUnknownQuestion):
		return "That question is not part of this exam."
	case errors.Is(err, ErrInvalidAnswer):
		return "That is not one of the available options."
	case errors.Is(err, ErrMissingAttemptID), errors.Is(err, apiclient.ErrProtocol):
		return "The server sent an unexpected response. Please try again later."
	case errors.Is(err, apiclient.ErrNetwork):
		return "You appear to be offline. Check your connection and try again."
	case errors.Is(err, apiclient.ErrNotFound):
		return "This exam does not exist or is no longer available."
	case errors.Is(err, apiclient.ErrUnauthorized):
		return "Your session has expired. Please log in again."
	case errors.Is(err, apiclient.ErrForbidden):
		return "You are not allowed to take this exam."
	case errors.Is(err, apiclient.ErrValidation):
		return "The server rejected the request."
	case errors.Is(err, apiclient.ErrServer):
		return "The server had a problem. Please try again in a moment."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, ErrBootstrap):
		return "Failed to start exam."
	default:
		return "Something went wrong. Please try again."
	}
}
