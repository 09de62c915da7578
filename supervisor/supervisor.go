package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/securecomm/harness/internal/syncbuffer"
	"github.com/securecomm/harness/o11y"
)

const (
	DefaultSettleDelay = 2 * time.Second
	DefaultGracePeriod = 5 * time.Second
	DefaultKillWait    = 2 * time.Second
)

// ErrLaunch matches any error from Start where the OS did not create the process.
var ErrLaunch = errors.New("launch failed")

type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}

type Config struct {
	// SettleDelay is waited after a successful launch. Zero means DefaultSettleDelay,
	// a negative value disables it.
	SettleDelay time.Duration
	// GracePeriod bounds the wait for cooperative termination before a kill.
	GracePeriod time.Duration
	// KillWait bounds the wait for the process to be reaped after a kill.
	KillWait time.Duration
	// StopSignal is the cooperative signal, SIGTERM by default. Platforms that cannot
	// deliver it go straight to kill.
	StopSignal os.Signal
	// Env is appended to the harness's own environment.
	Env []string
	// Echo, if set, also receives the process output as it is written.
	Echo io.Writer
}

type Supervisor struct {
	cfg Config
}

func New(cfg Config) *Supervisor {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = DefaultKillWait
	}
	if cfg.StopSignal == nil {
		cfg.StopSignal = syscall.SIGTERM
	}
	return &Supervisor{cfg: cfg}
}

// Start launches path with args. The caller owns the returned Process and must Stop it.
// If ctx is cancelled during the settle delay the Process is still returned.
func (s *Supervisor) Start(ctx context.Context, path string, args ...string) (p *Process, err error) {
	ctx, span := o11y.StartSpan(ctx, "supervisor: start")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("harness.server_start", "result"))
	span.AddField("path", path)
	span.AddField("args", args)

	//#nosec:G204 // running the binary under test is the point
	cmd := exec.Command(path, args...)
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	p = &Process{
		path:   path,
		args:   args,
		cmd:    cmd,
		cfg:    s.cfg,
		stdout: &syncbuffer.SyncBuffer{},
		stderr: &syncbuffer.SyncBuffer{},
		exited: make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	if s.cfg.Echo != nil {
		cmd.Stdout = io.MultiWriter(p.stdout, s.cfg.Echo)
		cmd.Stderr = io.MultiWriter(p.stderr, s.cfg.Echo)
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}
	span.AddField("pid", cmd.Process.Pid)

	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	if s.cfg.SettleDelay > 0 {
		settle(ctx, s.cfg.SettleDelay, p)
	}
	return p, nil
}

func settle(ctx context.Context, delay time.Duration, p *Process) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		o11y.Log(ctx, "supervisor: settle interrupted", o11y.Field("pid", p.Pid()))
	case <-p.exited:
		// Not a launch failure, the connectivity probe reports it.
		o11y.Log(ctx, "supervisor: exited during settle",
			o11y.Field("pid", p.Pid()),
			o11y.Field("exit", describeExit(p.waitErr)),
		)
	}
}

// Process is the handle for one supervised process.
type Process struct {
	path string
	args []string
	cmd  *exec.Cmd
	cfg  Config

	stdout *syncbuffer.SyncBuffer
	stderr *syncbuffer.SyncBuffer

	// exited is closed once cmd.Wait has returned; waitErr is safe to read after that.
	exited  chan struct{}
	waitErr error

	stopOnce sync.Once
	stopErr  error
	forced   int32
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) Path() string {
	return p.path
}

func (p *Process) Stdout() string {
	return p.stdout.String()
}

func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Exited is closed once the process has exited and been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Forced reports whether Stop had to kill the process.
func (p *Process) Forced() bool {
	return atomic.LoadInt32(&p.forced) == 1
}

// Stop terminates the process: the stop signal, then a kill after the grace period.
// Only the first call does any work, later calls return the same result. A process
// that has already exited is not an error. Stop deliberately ignores cancellation of
// ctx, which is only used for tracing, so that cleanup of an interrupted run completes.
func (p *Process) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(ctx)
	})
	return p.stopErr
}

func (p *Process) stop(ctx context.Context) (err error) {
	_, span := o11y.StartSpan(ctx, "supervisor: stop")
	defer o11y.End(span, &err)
	span.AddField("path", p.Path())
	span.AddField("pid", p.Pid())

	select {
	case <-p.exited:
		span.AddField("already_exited", true)
		span.AddField("exit", describeExit(p.waitErr))
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(p.cfg.StopSignal); err != nil {
		span.AddField("signal_error", err)
	} else {
		grace := time.NewTimer(p.cfg.GracePeriod)
		defer grace.Stop()
		select {
		case <-p.exited:
			span.AddField("exit", describeExit(p.waitErr))
			return nil
		case <-grace.C:
		}
	}

	atomic.StoreInt32(&p.forced, 1)
	span.AddField("forced", true)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		span.AddField("kill_error", err)
	}

	reap := time.NewTimer(p.cfg.KillWait)
	defer reap.Stop()
	select {
	case <-p.exited:
		span.AddField("exit", describeExit(p.waitErr))
		return nil
	case <-reap.C:
		return fmt.Errorf("process %d did not exit %s after kill", p.Pid(), p.cfg.KillWait)
	}
}

func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
