package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/apiclient"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/session"
)

// app carries what every subcommand needs.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	sessions *session.FileStore
	api      *apiclient.Client
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	logOut, err := logger.OpenFile(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer logOut.Close()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, logOut)

	a := &app{
		cfg:      cfg,
		log:      log,
		sessions: session.NewFileStore(cfg.SessionFile),
	}
	a.api, err = apiclient.New(apiclient.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.HTTPTimeout,
		Logger:  log,
		OnUnauthorized: func() {
			if err := a.sessions.Clear(); err != nil {
				log.Error().Err(err).Msg("Failed to clear rejected session")
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "login":
		err = a.login(ctx, args)
	case "logout":
		err = a.logout()
	case "whoami":
		err = a.whoami()
	case "take":
		err = a.take(ctx, args)
	case "monitor":
		err = a.monitor(ctx, args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		stop()
		os.Exit(1)
	}
}

// currentSession loads the signed-in account.
func (a *app) currentSession() (*session.Session, error) {
	s, err := a.sessions.Load()
	switch {
	case errors.Is(err, session.ErrNoSession):
		return nil, errors.New("you are not logged in, run: attempt login")
	case errors.Is(err, session.ErrExpired):
		return nil, errors.New("your session has expired, run: attempt login")
	case err != nil:
		return nil, err
	}
	return s, nil
}

func printUsage() {
	fmt.Println("Usage: attempt <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  login [-email addr]     sign in (password is read from the terminal)")
	fmt.Println("  logout                  forget the stored session")
	fmt.Println("  whoami                  show the signed-in account")
	fmt.Println("  take <exam-id>          take or resume an exam")
	fmt.Println("  monitor <exam-id>       follow live attempt events (teachers)")
}
