package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// QuestionType is the wire tag of a question variant.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MCQ"
	QuestionTypeShortAnswer    QuestionType = "SHORT"
)

// ErrUnknownQuestionType is returned when a question carries a type tag outside
// the closed set of variants.
var ErrUnknownQuestionType = errors.New("unknown question type")

// QuestionBody is the closed set of question variants. The marker method is
// unexported so only this package can add cases; use VisitBody to branch.
type QuestionBody interface {
	questionType() QuestionType
}

// Option is a single selectable answer of a multiple-choice question.
type Option struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// MultipleChoice is answered by selecting one option key.
type MultipleChoice struct {
	Options []Option
}

func (MultipleChoice) questionType() QuestionType { return QuestionTypeMultipleChoice }

// HasOption reports whether key is one of the question's option keys.
func (m MultipleChoice) HasOption(key string) bool {
	for _, o := range m.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// ShortAnswer is answered with free text.
type ShortAnswer struct{}

func (ShortAnswer) questionType() QuestionType { return QuestionTypeShortAnswer }

// VisitBody dispatches on the question variant. Both handlers are required,
// so adding a variant breaks every call site at compile time.
func VisitBody[T any](b QuestionBody, mcq func(MultipleChoice) T, short func(ShortAnswer) T) T {
	switch v := b.(type) {
	case MultipleChoice:
		return mcq(v)
	case ShortAnswer:
		return short(v)
	default:
		panic(fmt.Sprintf("model: unhandled question body %T", b))
	}
}

// Question represents a single exam question as seen by the student.
type Question struct {
	ID     string
	Prompt string
	Marks  int
	Body   QuestionBody
}

// Type returns the wire tag of the question's variant.
func (q Question) Type() QuestionType {
	if q.Body == nil {
		return ""
	}
	return q.Body.questionType()
}

// IsAnswered reports whether value counts as a response to q.
// Whitespace-only short answers are treated as unanswered.
func (q Question) IsAnswered(value string) bool {
	return VisitBody(q.Body,
		func(MultipleChoice) bool { return value != "" },
		func(ShortAnswer) bool { return strings.TrimSpace(value) != "" },
	)
}

// ValidateAnswer checks value against the question variant.
func (q Question) ValidateAnswer(value string) error {
	return VisitBody(q.Body,
		func(m MultipleChoice) error {
			if !m.HasOption(value) {
				return fmt.Errorf("option %q is not offered by question %s", value, q.ID)
			}
			return nil
		},
		func(ShortAnswer) error { return nil },
	)
}

type questionWire struct {
	ID      string          `json:"id"`
	Type    QuestionType    `json:"type"`
	Prompt  string          `json:"prompt"`
	Marks   int             `json:"marks"`
	Options json.RawMessage `json:"options,omitempty"`
}

// MarshalJSON encodes the question with options as a key → label object.
func (q Question) MarshalJSON() ([]byte, error) {
	w := questionWire{ID: q.ID, Type: q.Type(), Prompt: q.Prompt, Marks: q.Marks}
	if m, ok := q.Body.(MultipleChoice); ok {
		opts := make(map[string]string, len(m.Options))
		for _, o := range m.Options {
			opts[o.Key] = o.Label
		}
		raw, err := json.Marshal(opts)
		if err != nil {
			return nil, err
		}
		w.Options = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a question. Options may be an object {"A": "..."}
// or an array, in which case keys are assigned "1", "2", ... in order.
func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	q.ID = w.ID
	q.Prompt = w.Prompt
	q.Marks = w.Marks

	switch w.Type {
	case QuestionTypeMultipleChoice:
		opts, err := ParseOptions(w.Options)
		if err != nil {
			return fmt.Errorf("question %s: %w", w.ID, err)
		}
		q.Body = MultipleChoice{Options: opts}
	case QuestionTypeShortAnswer:
		q.Body = ShortAnswer{}
	default:
		return fmt.Errorf("question %s: %w %q", w.ID, ErrUnknownQuestionType, w.Type)
	}
	return nil
}

// ParseOptions decodes an options document in either supported shape.
func ParseOptions(raw json.RawMessage) ([]Option, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var labels []any
		if err := json.Unmarshal(raw, &labels); err != nil {
			return nil, fmt.Errorf("parse options: %w", err)
		}
		opts := make([]Option, 0, len(labels))
		for i, l := range labels {
			opts = append(opts, Option{Key: strconv.Itoa(i + 1), Label: fmt.Sprint(l)})
		}
		return opts, nil
	}

	var byKey map[string]any
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	opts := make([]Option, 0, len(byKey))
	for k, v := range byKey {
		opts = append(opts, Option{Key: k, Label: fmt.Sprint(v)})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Key < opts[j].Key })
	return opts, nil
}
