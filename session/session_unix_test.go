//go:build !windows

package session

import (
	"errors"
	"syscall"
	"testing"

	"gotest.tools/v3/assert"
)

// assertGone checks the client was killed and reaped, not left behind.
func assertGone(t *testing.T, pid int) {
	t.Helper()
	assert.Assert(t, pid > 0)
	err := syscall.Kill(pid, 0)
	assert.Check(t, errors.Is(err, syscall.ESRCH), "process %d still exists: %v", pid, err)
}
