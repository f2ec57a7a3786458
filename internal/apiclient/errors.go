package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by Client wraps exactly one of these, so
// callers can branch with errors.Is.
var (
	ErrNetwork      = errors.New("network unavailable")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("request rejected")
	ErrUnauthorized = errors.New("not authenticated")
	ErrForbidden    = errors.New("forbidden")
	ErrServer       = errors.New("server error")
	ErrProtocol     = errors.New("unexpected response")
)

// Error is a failed API call. Code and Message come from the response
// envelope when the server sent one.
type Error struct {
	Kind    error
	Status  int
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%v (%d): %s", e.Kind, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%v (%d)", e.Kind, e.Status)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// kindForStatus maps an HTTP status to an error kind.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusBadRequest,
		status == http.StatusConflict,
		status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrServer
	default:
		return ErrProtocol
	}
}

// Message returns the server's human-readable message if err carries one.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}
