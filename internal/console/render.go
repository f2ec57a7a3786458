package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Render draws the exam screen for the question at index cur.
func Render(w io.Writer, v attempt.View, cur int) {
	if v.Exam == nil {
		fmt.Fprintln(w, "Loading exam...")
		return
	}
	exam := v.Exam

	fmt.Fprintf(w, "\n=== %s ===\n", exam.Title)
	if exam.Teacher != nil && exam.Teacher.Name != "" {
		line := exam.Teacher.Name
		if exam.Teacher.Institute != "" {
			line += " · " + exam.Teacher.Institute
		}
		fmt.Fprintln(w, line)
	}

	status := "online"
	if !v.Online {
		status = "OFFLINE"
	}
	fmt.Fprintf(w, "Time left %s | Answered %d/%d (%d%%) | %s",
		attempt.FormatClock(v.Remaining), v.Progress.Answered, v.Progress.Total, v.Progress.Percent(), status)
	if v.Queued > 0 {
		fmt.Fprintf(w, " | %d autosave(s) pending", v.Queued)
	}
	if v.TabWarnings > 0 {
		fmt.Fprintf(w, " | warnings: %d", v.TabWarnings)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, Navigator(exam.Questions, v.Answers, cur))

	if len(exam.Questions) == 0 {
		fmt.Fprintln(w, "This exam has no questions.")
		return
	}
	q := exam.Questions[cur]
	fmt.Fprintf(w, "\nQ%d. %s  [%d mark(s)]\n", cur+1, q.Prompt, q.Marks)

	value, answered := v.Answers[q.ID]
	model.VisitBody(q.Body,
		func(m model.MultipleChoice) struct{} {
			for _, o := range m.Options {
				mark := " "
				if answered && value == o.Key {
					mark = "x"
				}
				fmt.Fprintf(w, "  [%s] %s) %s\n", mark, o.Key, o.Label)
			}
			return struct{}{}
		},
		func(model.ShortAnswer) struct{} {
			if answered && strings.TrimSpace(value) != "" {
				fmt.Fprintf(w, "  Your answer: %s\n", value)
			} else {
				fmt.Fprintln(w, "  (no answer yet, type: a <your answer>)")
			}
			return struct{}{}
		},
	)
}

// Navigator renders one badge per question: the current question in
// brackets, answered ones with a check mark.
func Navigator(questions []model.Question, answers model.Answers, cur int) string {
	var b strings.Builder
	for i, q := range questions {
		label := fmt.Sprintf("%d", i+1)
		if v, ok := answers[q.ID]; ok && q.IsAnswered(v) {
			label += "✓"
		}
		if i == cur {
			label = "[" + label + "]"
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(label)
	}
	return b.String()
}

// Instructions prints the pre-exam screen.
func Instructions(w io.Writer, exam *model.Exam) {
	fmt.Fprintf(w, "%s\nDuration: %d minutes, %d question(s)\n", exam.Title, exam.DurationMinutes, len(exam.Questions))
	if exam.Instructions != "" {
		fmt.Fprintf(w, "\n%s\n", exam.Instructions)
	}
	fmt.Fprint(w, "\n", helpText)
}
