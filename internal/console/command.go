package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op is a take-screen command.
type Op int

const (
	OpNone Op = iota
	OpNext
	OpPrev
	OpGoto
	OpAnswer
	OpClear
	OpSubmit
	OpFullscreenExit
	OpHidden
	OpShow
	OpHelp
	OpQuit
)

type Command struct {
	Op    Op
	Index int    // OpGoto, 1-based
	Value string // OpAnswer
}

var errEmptyAnswer = errors.New("usage: a <option key or text>")

// ParseCommand reads one input line.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Op: OpShow}, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "n", "next":
		return Command{Op: OpNext}, nil
	case "p", "prev":
		return Command{Op: OpPrev}, nil
	case "g", "goto":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Command{}, fmt.Errorf("usage: g <question number>")
		}
		return Command{Op: OpGoto, Index: n}, nil
	case "a", "answer":
		if rest == "" {
			return Command{}, errEmptyAnswer
		}
		return Command{Op: OpAnswer, Value: rest}, nil
	case "c", "clear":
		return Command{Op: OpClear}, nil
	case "s", "submit":
		return Command{Op: OpSubmit}, nil
	case "fs":
		return Command{Op: OpFullscreenExit}, nil
	case "hide":
		return Command{Op: OpHidden}, nil
	case "r", "show":
		return Command{Op: OpShow}, nil
	case "h", "help", "?":
		return Command{Op: OpHelp}, nil
	case "q", "quit":
		return Command{Op: OpQuit}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q, type h for help", verb)
	}
}

const helpText = `Commands:
  n / p          next / previous question
  g <n>          go to question n
  a <value>      answer: option key for multiple choice, text for short answer
  c              clear the answer of this question
  s              submit the exam
  r              redraw the screen
  fs / hide      report leaving fullscreen / switching away
  q              quit (your draft is kept, the timer keeps running)
`
