package model

// IntegrityKind names a signal that the student may have left the exam view.
type IntegrityKind string

const (
	IntegrityTabHidden      IntegrityKind = "tab_hidden"
	IntegrityWindowBlur     IntegrityKind = "window_blur"
	IntegrityFullscreenExit IntegrityKind = "fullscreen_exit"
)
