// Package session drives an interactive line-oriented client through a fixed script
// and reports how it exited.
//
// The client is given the whole script on its stdin in one go, followed by a quit
// line, and is then waited for under an overall timeout. A client that outlives the
// timeout is killed; Run never blocks much past the timeout however the child behaves.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/securecomm/harness/internal/syncbuffer"
	"github.com/securecomm/harness/o11y"
)

const (
	QuitCommand   = "quit"
	RotateCommand = "rotate"

	// TimeoutExitCode is reported when the client was killed for overrunning its timeout.
	TimeoutExitCode = -1
	// LaunchFailedExitCode is reported when the client could not be started at all.
	LaunchFailedExitCode = -2

	DefaultTimeout  = 30 * time.Second
	DefaultKillWait = 2 * time.Second
)

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
	Pid      int
	// Err is set when the session could not run to a verdict: launch failure,
	// cancellation of the parent context, or a failure to feed stdin.
	Err error
}

func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// BuildInput renders the stdin payload: one line per command and a final quit,
// appended unconditionally.
func BuildInput(lines []string) string {
	sb := strings.Builder{}
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	sb.WriteString(QuitCommand)
	sb.WriteString("\n")
	return sb.String()
}

// Describe renders a numbered listing of the script for progress output.
func Describe(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i, l := range lines {
		if l == RotateCommand {
			l = "[Key Rotation Request]"
		}
		out = append(out, fmt.Sprintf("%d. %s", i+1, l))
	}
	return out
}

type Runner struct {
	// KillWait bounds the wait for the client to be reaped after a kill.
	KillWait time.Duration
	// Env is appended to the harness's own environment.
	Env []string
}

// Run runs path with a zero Runner.
func Run(ctx context.Context, path string, args, lines []string, timeout time.Duration) Result {
	return Runner{}.Run(ctx, path, args, lines, timeout)
}

func (r Runner) Run(ctx context.Context, path string, args, lines []string, timeout time.Duration) (res Result) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	killWait := r.KillWait
	if killWait <= 0 {
		killWait = DefaultKillWait
	}

	ctx, span := o11y.StartSpan(ctx, "session: run")
	span.RecordMetric(o11y.Timing("harness.session", "result"))
	span.AddField("path", path)
	span.AddField("args", args)
	span.AddField("script_lines", len(lines))
	span.AddField("timeout", timeout.String())
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		span.AddField("exit_code", res.ExitCode)
		span.AddField("timed_out", res.TimedOut)
		err := res.Err
		if err == nil && res.TimedOut {
			err = fmt.Errorf("client did not exit within %s", timeout)
		}
		o11y.End(span, &err)
	}()

	stdout := &syncbuffer.SyncBuffer{}
	stderr := &syncbuffer.SyncBuffer{}
	capture := func() {
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
	}

	//#nosec:G204 // running the binary under test is the point
	cmd := exec.Command(path, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := ctx.Err(); err != nil {
		res.ExitCode = LaunchFailedExitCode
		res.Err = err
		return res
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		res.ExitCode = LaunchFailedExitCode
		res.Err = fmt.Errorf("launch %s: %w", path, err)
		return res
	}
	if err := cmd.Start(); err != nil {
		res.ExitCode = LaunchFailedExitCode
		res.Err = fmt.Errorf("launch %s: %w", path, err)
		return res
	}
	res.Pid = cmd.Process.Pid
	span.AddField("pid", res.Pid)

	var waitErr error
	g := errgroup.Group{}
	g.Go(func() error {
		defer stdin.Close()
		_, err := io.WriteString(stdin, BuildInput(lines))
		if isClosedPipe(err) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		waitErr = cmd.Wait()
		return nil
	})
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		capture()
		res.ExitCode = exitCode(cmd, waitErr)
		if err != nil {
			res.Err = fmt.Errorf("write script: %w", err)
		}
		return res
	case <-timer.C:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}

	res.TimedOut = true
	res.ExitCode = TimeoutExitCode
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		span.AddField("kill_error", err)
	}
	reap := time.NewTimer(killWait)
	defer reap.Stop()
	select {
	case <-done:
	case <-reap.C:
		span.AddField("reaped", false)
	}
	capture()
	return res
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// isClosedPipe reports whether err only says the client stopped reading its input,
// which a client that exits early is entitled to do.
func isClosedPipe(err error) bool {
	return err == nil ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
