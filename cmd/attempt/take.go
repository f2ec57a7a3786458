package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/console"
	"github.com/stemsi/exstem-attempt/internal/draft"
	"github.com/stemsi/exstem-attempt/internal/netwatch"
	"golang.org/x/term"
)

func (a *app) take(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("take", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: attempt take <exam-id>")
	}
	examID := fs.Arg(0)

	sess, err := a.currentSession()
	if err != nil {
		return err
	}
	if !sess.IsStudent() {
		return errors.New("only student accounts can take exams")
	}
	api := a.api.WithToken(sess.Token)

	// ─── Draft Store ───────────────────────────────────────────────────
	store, err := draft.Open(ctx, a.cfg, a.log)
	if err != nil {
		return fmt.Errorf("open draft store: %w", err)
	}
	defer store.Close()

	con := console.New(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))

	s := attempt.New(attempt.Options{
		API:       api,
		Store:     store,
		StudentID: sess.User.ID,
		ExamID:    examID,
		Config:    attempt.ConfigFrom(a.cfg),
		Notify:    con.Notify,
		Logger:    a.log,
	})

	fmt.Println("Loading exam...")
	if err := s.Open(ctx); err != nil {
		return errors.New(attempt.UserMessage(err))
	}
	console.Instructions(os.Stdout, s.Snapshot().Exam)

	// ─── Background Workers ────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	watcher := netwatch.New(api, a.cfg.HealthInterval, s.SetOnline, a.log)
	go watcher.Run(runCtx)
	stopSuspend := watchSuspend(runCtx, s, a.log)
	defer stopSuspend()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(runCtx) }()

	con.Attach(s)
	finished, err := con.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error().Err(err).Msg("Console stopped")
	}

	if !finished {
		cancelRun()
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if s.Snapshot().State == attempt.StateSubmitted {
		return nil
	}
	fmt.Println("Your answers are saved on this machine. Run the same command to resume before time runs out.")
	return nil
}
