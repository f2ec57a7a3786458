package model

// AnswerKey is the server-side marking data of one question.
type AnswerKey struct {
	QuestionID    string
	Type          QuestionType
	Marks         int
	CorrectOption string
}

// Grade is the automatic part of a score. Only multiple-choice questions are
// marked; short answers are left for manual grading and reported as pending.
type Grade struct {
	Score         float64 `json:"score"`
	MaxAutoScore  int     `json:"maxAutoScore"`
	PendingManual int     `json:"pendingManual"`
}

// GradeAttempt marks answers against keys.
func GradeAttempt(keys []AnswerKey, answers Answers) Grade {
	var g Grade
	for _, k := range keys {
		switch k.Type {
		case QuestionTypeMultipleChoice:
			g.MaxAutoScore += k.Marks
			if v, ok := answers[k.QuestionID]; ok && v != "" && v == k.CorrectOption {
				g.Score += float64(k.Marks)
			}
		case QuestionTypeShortAnswer:
			g.PendingManual++
		}
	}
	return g
}
