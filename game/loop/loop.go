// Package loop drives a callback at a fixed rate until stopped. The server
// uses it for real-time sessions, one loop per session.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs once per period. Returning false stops the loop.
type TickFunc func(ctx context.Context) bool

// Loop calls a TickFunc on a time.Ticker. Ticks never overlap; a slow tick
// delays the next one rather than queueing.
type Loop struct {
	period time.Duration
	fn     TickFunc
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	ticks   int64
	running bool
}

// New creates a loop that fires rate times per second. Rates below 1 are
// treated as 1.
func New(rate int, fn TickFunc, logger zerolog.Logger) *Loop {
	if rate < 1 {
		rate = 1
	}
	return &Loop{
		period: time.Second / time.Duration(rate),
		fn:     fn,
		logger: logger,
	}
}

// Start launches the loop goroutine. Calling Start on a running loop is a
// no-op. The loop ends when ctx is cancelled, Stop is called, or the tick
// function returns false.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(ctx, l.done)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(l.period)
	defer func() {
		ticker.Stop()
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(done)
	}()

	l.logger.Debug().Dur("period", l.period).Msg("loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Int64("ticks", l.Ticks()).Msg("loop stopped")
			return
		case <-ticker.C:
			l.mu.Lock()
			l.ticks++
			l.mu.Unlock()
			if !l.fn(ctx) {
				l.logger.Debug().Int64("ticks", l.Ticks()).Msg("loop ended by tick")
				return
			}
		}
	}
}

// Stop cancels the loop and waits for the current tick to return. It must
// not be called from inside the tick function.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Ticks returns how many times the tick function has been called.
func (l *Loop) Ticks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Period returns the time between ticks.
func (l *Loop) Period() time.Duration {
	return l.period
}
