package model

import (
	"time"
)

// Teacher is the optional author metadata shown on the exam screen.
type Teacher struct {
	Name      string `json:"name,omitempty"`
	Institute string `json:"institute,omitempty"`
}

// Exam is the student-facing exam definition. It never carries answer keys.
type Exam struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Instructions    string     `json:"instructions,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	Questions       []Question `json:"questions"`
	Teacher         *Teacher   `json:"teacher,omitempty"`
	// TeacherID is the owning account; only the sandbox API fills it.
	TeacherID string `json:"teacherId,omitempty"`
}

// Duration returns the allotted attempt time.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// Question looks up a question by id.
func (e *Exam) Question(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// IndexOf returns the position of the question with the given id, or -1.
func (e *Exam) IndexOf(id string) int {
	for i, q := range e.Questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// CreateExamRequest is the payload used by the seeder to create an exam.
type CreateExamRequest struct {
	Title           string                  `json:"title" binding:"required,min=3,max=255"`
	Instructions    string                  `json:"instructions" binding:"omitempty,max=4000"`
	DurationMinutes int                     `json:"durationMinutes" binding:"required,min=1,max=480"`
	Questions       []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// CreateQuestionRequest describes one question including its answer key.
type CreateQuestionRequest struct {
	Type          QuestionType      `json:"type" binding:"required,oneof=MCQ SHORT"`
	Prompt        string            `json:"prompt" binding:"required,notblank,max=2000"`
	Marks         int               `json:"marks" binding:"required,min=1"`
	Options       map[string]string `json:"options"`
	CorrectOption string            `json:"correctOption" binding:"omitempty,max=10"`
}
