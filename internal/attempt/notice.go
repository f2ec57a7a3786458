package attempt

import (
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// NoticeKind classifies what the session wants the student to know.
type NoticeKind int

const (
	NoticeTick NoticeKind = iota
	NoticeLowTime
	NoticeFinalSecond
	NoticeIntegrity
	NoticeOffline
	NoticeOnline
	NoticeSubmitted
	NoticeSubmitFailed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeTick:
		return "tick"
	case NoticeLowTime:
		return "low_time"
	case NoticeFinalSecond:
		return "final_second"
	case NoticeIntegrity:
		return "integrity"
	case NoticeOffline:
		return "offline"
	case NoticeOnline:
		return "online"
	case NoticeSubmitted:
		return "submitted"
	case NoticeSubmitFailed:
		return "submit_failed"
	default:
		return "unknown"
	}
}

// Notice is a non-blocking message from the session loop.
type Notice struct {
	Kind    NoticeKind
	Message string

	Remaining   time.Duration
	Second      int
	Integrity   model.IntegrityKind
	TabWarnings int
	Auto        bool
	Err         error
}

// Notifier receives notices on the session goroutine. It must return quickly.
type Notifier func(Notice)

func integrityMessage(kind model.IntegrityKind) string {
	switch kind {
	case model.IntegrityFullscreenExit:
		return "Fullscreen exited. Please stay on the exam screen."
	case model.IntegrityWindowBlur:
		return "Exam window lost focus. Please stay on the exam screen."
	default:
		return "Tab switch detected. Please stay on the exam screen."
	}
}
