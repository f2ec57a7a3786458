// Package netwatch reports connectivity to the exam API by probing its health
// endpoint. Only transitions are reported.
package netwatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Prober checks reachability. apiclient.Client satisfies it.
type Prober interface {
	Health(ctx context.Context) error
}

type Watcher struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	onChange func(online bool)
	log      zerolog.Logger

	online atomic.Bool
}

// New creates a watcher that assumes it starts online. onChange is called
// from the watcher goroutine on every transition.
func New(prober Prober, interval time.Duration, onChange func(online bool), log zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := interval
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	w := &Watcher{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		onChange: onChange,
		log:      log.With().Str("component", "netwatch").Logger(),
	}
	w.online.Store(true)
	return w
}

// Online returns the last observed state.
func (w *Watcher) Online() bool { return w.online.Load() }

// Run probes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.prober.Health(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	online := err == nil
	if w.online.Swap(online) == online {
		return
	}
	if online {
		w.log.Info().Msg("API reachable again")
	} else {
		w.log.Warn().Err(err).Msg("API unreachable")
	}
	if w.onChange != nil {
		w.onChange(online)
	}
}
