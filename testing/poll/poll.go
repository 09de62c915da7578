// Package poll waits for a condition in tests, such as a child process writing a
// line to its output.
package poll

import (
	"context"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

const interval = 50 * time.Millisecond

type it func() (stop bool, err error)

// AssertIt calls it every 50ms for up to duration and asserts that it stopped
// without an error.
func AssertIt(ctx context.Context, t *testing.T, duration time.Duration, it it) {
	t.Helper()
	err := ForIt(ctx, duration, it)
	assert.NilError(t, err)
}

// ForIt calls it every 50ms until it returns stop, or until duration has passed in
// which case the context error is returned.
func ForIt(ctx context.Context, duration time.Duration, it it) error {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stop, err := it()
		if stop {
			return err
		}
		time.Sleep(interval)
	}
}

// Contains waits for get to return a string containing want.
func Contains(ctx context.Context, t *testing.T, duration time.Duration, get func() string, want string) {
	t.Helper()
	err := ForIt(ctx, duration, func() (bool, error) {
		return strings.Contains(get(), want), nil
	})
	assert.NilError(t, err, "waiting for %q, got %q", want, get())
}
