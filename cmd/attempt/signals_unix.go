//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// watchSuspend counts a resume after the process was stopped (Ctrl+Z, fg)
// as the exam view being hidden.
func watchSuspend(ctx context.Context, s *attempt.Session, log zerolog.Logger) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGCONT)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				if err := s.ReportIntegrity(ctx, model.IntegrityTabHidden); err != nil {
					log.Debug().Err(err).Msg("Integrity event dropped")
				}
			}
		}
	}()
	return func() { signal.Stop(sig) }
}
