package model

// AutosaveJob is queued by the API for each accepted autosave and persisted
// by the autosave worker.
type AutosaveJob struct {
	AttemptID   string        `json:"attemptId"`
	ExamID      string        `json:"examId"`
	Answers     []AnswerEntry `json:"answers"`
	TabWarnings int           `json:"tabWarnings"`
}

// ScoreJob asks the scoring worker to grade a submitted attempt.
type ScoreJob struct {
	AttemptID string `json:"attemptId"`
	ExamID    string `json:"examId"`
}
