package model

// Answers maps a question id to the student's response: the selected option
// key for multiple choice, free text for short answer. Unanswered questions
// are absent.
type Answers map[string]string

// Clone returns an independent copy.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AnswerEntry is one question's response in an autosave or submit payload.
// Response is null for unanswered questions.
type AnswerEntry struct {
	QuestionID string  `json:"questionId" binding:"required"`
	Response   *string `json:"response"`
}

// BuildEntries produces one entry per question in exam order.
func BuildEntries(questions []Question, answers Answers) []AnswerEntry {
	entries := make([]AnswerEntry, 0, len(questions))
	for _, q := range questions {
		e := AnswerEntry{QuestionID: q.ID}
		if v, ok := answers[q.ID]; ok {
			e.Response = &v
		}
		entries = append(entries, e)
	}
	return entries
}

// Progress counts answered questions.
type Progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// Percent returns the rounded answered percentage.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return (p.Answered*100 + p.Total/2) / p.Total
}

// ComputeProgress applies each question's answered rule to answers.
func ComputeProgress(questions []Question, answers Answers) Progress {
	p := Progress{Total: len(questions)}
	for _, q := range questions {
		if v, ok := answers[q.ID]; ok && q.IsAnswered(v) {
			p.Answered++
		}
	}
	return p
}
