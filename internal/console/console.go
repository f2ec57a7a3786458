// Package console is the line-oriented exam screen of the terminal client.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const bell = "\a"

// Session is what the screen drives. *attempt.Session satisfies it.
type Session interface {
	Snapshot() attempt.View
	Done() <-chan struct{}
	SetAnswer(ctx context.Context, questionID, value string) error
	ClearAnswer(ctx context.Context, questionID string) error
	ReportIntegrity(ctx context.Context, kind model.IntegrityKind) error
	Submit(ctx context.Context) error
}

type Console struct {
	mu   sync.Mutex
	out  io.Writer
	in   io.Reader
	bell bool

	sess Session
	cur  int
}

// New creates a screen. Ringing the terminal bell is optional so output
// redirected to a file stays clean.
func New(in io.Reader, out io.Writer, ringBell bool) *Console {
	return &Console{in: in, out: out, bell: ringBell}
}

// Attach binds the screen to a session.
func (c *Console) Attach(s Session) {
	c.mu.Lock()
	c.sess = s
	c.cur = 0
	c.mu.Unlock()
}

// Printf writes a line under the output lock.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Notify is the attempt.Notifier for this screen.
func (c *Console) Notify(n attempt.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch n.Kind {
	case attempt.NoticeTick:
		return
	case attempt.NoticeLowTime:
		c.ring()
		fmt.Fprintf(c.out, "\n! %s\n", n.Message)
	case attempt.NoticeFinalSecond:
		c.ring()
		fmt.Fprintf(c.out, "\r%d... ", n.Second)
	case attempt.NoticeIntegrity:
		fmt.Fprintf(c.out, "\n! %s (warnings: %d)\n", n.Message, n.TabWarnings)
	case attempt.NoticeOffline, attempt.NoticeOnline, attempt.NoticeSubmitted:
		fmt.Fprintf(c.out, "\n%s\n", n.Message)
	case attempt.NoticeSubmitFailed:
		fmt.Fprintf(c.out, "\nSubmission failed: %s\nYour answers are kept. Type s to try again.\n", n.Message)
	}
}

func (c *Console) ring() {
	if c.bell {
		fmt.Fprint(c.out, bell)
	}
}

func (c *Console) render() {
	c.mu.Lock()
	defer c.mu.Unlock()
	Render(c.out, c.sess.Snapshot(), c.cur)
	fmt.Fprint(c.out, "> ")
}

// Run reads commands until the attempt is submitted, the student quits, the
// input ends or ctx is cancelled. It returns true if the attempt finished.
func (c *Console) Run(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.render()
	confirming := false
	// The submission runs beside the input loop so navigation and answers
	// keep working while it is outstanding.
	submitted := make(chan error, 1)
	submitting := false
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-c.sess.Done():
			return c.sess.Snapshot().State == attempt.StateSubmitted, nil
		case err := <-submitted:
			submitting = false
			if c.submitOutcome(err) {
				return true, nil
			}
			c.render()
		case line, ok := <-lines:
			if !ok {
				if submitting {
					lines = nil
					continue
				}
				return false, nil
			}
			if confirming {
				confirming = false
				if strings.EqualFold(strings.TrimSpace(line), "yes") {
					c.Printf("Submitting...\n")
					submitting = true
					go func() { submitted <- c.sess.Submit(ctx) }()
				} else {
					c.Printf("Submission cancelled.\n")
				}
				c.render()
				continue
			}

			cmd, err := ParseCommand(line)
			if err != nil {
				c.Printf("%v\n> ", err)
				continue
			}
			switch cmd.Op {
			case OpQuit:
				if submitting {
					c.Printf("Submission in progress. Please wait.\n")
					break
				}
				c.Printf("Leaving the exam. Your draft is saved; the timer keeps running.\n")
				return false, nil
			case OpSubmit:
				if submitting {
					c.Printf("%s\n", attempt.UserMessage(attempt.ErrSubmissionInFlight))
					break
				}
				v := c.sess.Snapshot()
				c.Printf("You answered %d of %d questions. Submit now? Type yes to confirm: ",
					v.Progress.Answered, v.Progress.Total)
				confirming = true
				continue
			case OpHelp:
				c.Printf("%s", helpText)
			default:
				if err := c.apply(ctx, cmd); err != nil {
					c.Printf("%s\n", attempt.UserMessage(err))
				}
			}
			c.render()
		}
	}
}

// submitOutcome reports a finished Submit call and whether the attempt is done.
func (c *Console) submitOutcome(err error) bool {
	if err == nil {
		return true
	}
	// Service failures are already reported through Notify.
	if errors.Is(err, attempt.ErrSubmissionInFlight) ||
		errors.Is(err, attempt.ErrNotInProgress) ||
		errors.Is(err, attempt.ErrStopped) {
		c.Printf("%s\n", attempt.UserMessage(err))
	}
	return c.sess.Snapshot().State == attempt.StateSubmitted
}

func (c *Console) apply(ctx context.Context, cmd Command) error {
	v := c.sess.Snapshot()
	if v.Exam == nil || len(v.Exam.Questions) == 0 {
		return nil
	}
	n := len(v.Exam.Questions)

	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	q := v.Exam.Questions[cur]

	switch cmd.Op {
	case OpNext:
		cur = min(cur+1, n-1)
	case OpPrev:
		cur = max(cur-1, 0)
	case OpGoto:
		if cmd.Index > n {
			return fmt.Errorf("%w: %d", attempt.ErrUnknownQuestion, cmd.Index)
		}
		cur = cmd.Index - 1
	case OpAnswer:
		value := model.VisitBody(q.Body,
			func(m model.MultipleChoice) string {
				if up := strings.ToUpper(cmd.Value); m.HasOption(up) {
					return up
				}
				return cmd.Value
			},
			func(model.ShortAnswer) string { return cmd.Value },
		)
		if err := c.sess.SetAnswer(ctx, q.ID, value); err != nil {
			return err
		}
	case OpClear:
		return c.sess.ClearAnswer(ctx, q.ID)
	case OpFullscreenExit:
		return c.sess.ReportIntegrity(ctx, model.IntegrityFullscreenExit)
	case OpHidden:
		return c.sess.ReportIntegrity(ctx, model.IntegrityTabHidden)
	}

	c.mu.Lock()
	c.cur = cur
	c.mu.Unlock()
	return nil
}
