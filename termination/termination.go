// Package termination turns SIGINT and SIGTERM into context cancellation, so a run
// that is interrupted still unwinds through its deferred cleanups.
package termination

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

var ErrTerminated = errors.New("terminated")

var signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Handle blocks until a termination signal arrives or ctx is done.
func Handle(ctx context.Context) error {
	quit := notify()
	defer signal.Stop(quit)
	return wait(ctx, quit)
}

// WithSignals returns a child of parent that is cancelled when a termination signal
// arrives. The handler is registered before WithSignals returns. stop releases it
// and must be called.
func WithSignals(parent context.Context) (ctx context.Context, stop func()) {
	quit := notify()
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if errors.Is(wait(ctx, quit), ErrTerminated) {
			cancel()
		}
	}()
	return ctx, func() {
		signal.Stop(quit)
		cancel()
		<-done
	}
}

func notify() chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, signals...)
	return quit
}

func wait(ctx context.Context, quit <-chan os.Signal) error {
	select {
	case <-quit:
		return ErrTerminated
	case <-ctx.Done():
		return nil
	}
}
