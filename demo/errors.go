package demo

import (
	"errors"

	"github.com/securecomm/harness/o11y"
	"github.com/securecomm/harness/supervisor"
)

// Every run fails with at most one of these, wrapped with detail.
var (
	ErrMissingArtifact = errors.New("missing executable")
	ErrLaunch          = supervisor.ErrLaunch
	ErrUnreachable     = errors.New("server unreachable")
	ErrSessionTimeout  = errors.New("client session timed out")
	ErrSessionFailure  = errors.New("client session failed")
	// ErrInterrupted is a warning so an interrupted run is not traced as an error.
	ErrInterrupted = o11y.NewWarning("run interrupted")
)

// FailureKind names the fatal condition behind err, for status lines and tracing.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	case errors.Is(err, ErrMissingArtifact):
		return "missing-artifact"
	case errors.Is(err, ErrLaunch):
		return "launch"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrSessionTimeout):
		return "session-timeout"
	case errors.Is(err, ErrSessionFailure):
		return "session-failure"
	}
	return "unknown"
}
