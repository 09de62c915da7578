// Package valueonly detaches a context from its parent's cancellation while keeping
// its values, so cleanup after an interrupted run is still traced under the run.
package valueonly

import (
	"context"
	"time"
)

// Context wraps another and suppresses its deadline and cancellation.
type Context struct{ context.Context }

func New(ctx context.Context) Context {
	return Context{Context: ctx}
}

func (Context) Deadline() (deadline time.Time, ok bool) { return }
func (Context) Done() <-chan struct{}                   { return nil }
func (Context) Err() error                              { return nil }
