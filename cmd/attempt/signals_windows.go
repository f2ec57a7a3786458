//go:build windows

package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// Windows has no job-control signals; use the fs/hide commands instead.
func watchSuspend(context.Context, *attempt.Session, zerolog.Logger) func() {
	return func() {}
}
