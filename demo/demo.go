// Package demo orchestrates one end-to-end run of the secure client and server:
// check the executables exist, start the server, probe it, drive the client through
// the demo script and stop the server, whatever happened along the way.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/securecomm/harness/o11y"
	"github.com/securecomm/harness/probe"
	"github.com/securecomm/harness/session"
	"github.com/securecomm/harness/supervisor"
	"github.com/securecomm/harness/valueonly"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8080
)

// DefaultScript is the demo conversation, including a key rotation request.
var DefaultScript = []string{
	"Hello, this is a test message!",
	"This message should be encrypted with AES-256-GCM",
	"Testing forward secrecy with key rotation",
	session.RotateCommand,
	"Message after key rotation",
	"Final test message",
}

// Server is a started server that can be stopped. Stop must be idempotent.
type Server interface {
	Stop(ctx context.Context) error
}

type Supervisor interface {
	Start(ctx context.Context, path string, args ...string) (Server, error)
}

type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) probe.Result
}

type ProberFunc func(ctx context.Context, host string, port int, timeout time.Duration) probe.Result

func (f ProberFunc) Probe(ctx context.Context, host string, port int, timeout time.Duration) probe.Result {
	return f(ctx, host, port, timeout)
}

type SessionRunner interface {
	Run(ctx context.Context, path string, args, lines []string, timeout time.Duration) session.Result
}

type ArtifactChecker interface {
	ServerPath() string
	ClientPath() string
	Check() error
}

// ProcessSupervisor adapts s to Supervisor.
func ProcessSupervisor(s *supervisor.Supervisor) Supervisor {
	return processSupervisor{s: s}
}

type processSupervisor struct {
	s *supervisor.Supervisor
}

func (p processSupervisor) Start(ctx context.Context, path string, args ...string) (Server, error) {
	proc, err := p.s.Start(ctx, path, args...)
	if err != nil {
		// a nil *Process in a Server would not compare equal to nil
		return nil, err
	}
	return proc, nil
}

// RetryingProber probes repeatedly every interval until the probe timeout, in place of
// a single attempt.
func RetryingProber(interval time.Duration) Prober {
	return ProberFunc(func(ctx context.Context, host string, port int, timeout time.Duration) probe.Result {
		return probe.WaitReachable(ctx, host, port, timeout, interval)
	})
}

type Config struct {
	Host           string
	Port           int
	ProbeTimeout   time.Duration
	SessionTimeout time.Duration
	Script         []string
}

type Options struct {
	Artifacts  ArtifactChecker
	Supervisor Supervisor
	Prober     Prober
	Session    SessionRunner
	// Preflight, when set, runs first and reports whether the project looks complete.
	// Its answer is informational only.
	Preflight func(ctx context.Context) bool
	Out       io.Writer
}

type Orchestrator struct {
	cfg    Config
	opts   Options
	report *Reporter
}

func New(cfg Config, opts Options) *Orchestrator {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = probe.DefaultTimeout
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = session.DefaultTimeout
	}
	if cfg.Script == nil {
		cfg.Script = DefaultScript
	}

	if opts.Artifacts == nil {
		opts.Artifacts = Artifacts{}
	}
	if opts.Supervisor == nil {
		opts.Supervisor = ProcessSupervisor(supervisor.New(supervisor.Config{}))
	}
	if opts.Prober == nil {
		opts.Prober = ProberFunc(probe.Probe)
	}
	if opts.Session == nil {
		opts.Session = session.Runner{}
	}
	return &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		report: NewReporter(opts.Out),
	}
}

// Outcome is the result of one run.
type Outcome struct {
	// StructureOK is nil unless a preflight ran.
	StructureOK   *bool
	ServerStarted bool
	ProbeOK       bool
	Session       *session.Result
	Success       bool
	// State is the last state entered, always Stopped once Run has returned.
	State State
	// Err is the fatal condition, nil on success.
	Err error
	// StopErr is from stopping the server. It does not affect Success.
	StopErr error
	Path    []State
}

func (o Outcome) ExitCode() int {
	if o.Success {
		return 0
	}
	return 1
}

// CombinedError joins the run and cleanup errors, or returns nil if there are none.
func (o Outcome) CombinedError() error {
	var result *multierror.Error
	if o.Err != nil {
		result = multierror.Append(result, o.Err)
	}
	if o.StopErr != nil {
		result = multierror.Append(result, fmt.Errorf("stop server: %w", o.StopErr))
	}
	return result.ErrorOrNil()
}

// Run performs one attempt and always returns with the server stopped, including
// when ctx is cancelled part way through.
func (o *Orchestrator) Run(ctx context.Context) (out Outcome) {
	ctx, span := o11y.StartSpan(ctx, "demo: run")
	span.RecordMetric(o11y.Timing("harness.run", "result", "failure"))
	span.AddField("port", o.cfg.Port)
	defer func() {
		span.AddField("success", out.Success)
		span.AddField("server_started", out.ServerStarted)
		span.AddField("failure", FailureKind(out.Err))
		err := out.CombinedError()
		o11y.End(span, &err)
	}()

	enter := func(s State) {
		out.State = s
		out.Path = append(out.Path, s)
		o11y.Log(ctx, "demo: state", o11y.Field("state", s.String()))
	}
	fail := func(err error) Outcome {
		out.Err = err
		span.RecordMetric(o11y.Incr("harness.failure", "failure"))
		enter(Failed)
		o.report.failure(err)
		return out
	}

	enter(Idle)
	defer enter(Stopped)
	o.report.banner()

	if o.opts.Preflight != nil {
		ok := o.opts.Preflight(ctx)
		out.StructureOK = &ok
	}
	if err := o.opts.Artifacts.Check(); err != nil {
		if !errors.Is(err, ErrMissingArtifact) {
			err = fmt.Errorf("%w: %v", ErrMissingArtifact, err)
		}
		return fail(err)
	}
	enter(PreflightChecked)

	if err := interrupted(ctx); err != nil {
		return fail(err)
	}
	o.report.step("Starting secure server...")
	enter(ServerStarting)
	srv, err := o.opts.Supervisor.Start(ctx, o.opts.Artifacts.ServerPath(), strconv.Itoa(o.cfg.Port))
	if err != nil {
		if !errors.Is(err, ErrLaunch) {
			err = fmt.Errorf("%w: %v", ErrLaunch, err)
		}
		return fail(err)
	}
	out.ServerStarted = true
	defer func() {
		out.StopErr = srv.Stop(valueonly.New(ctx))
		if out.StopErr != nil {
			o11y.LogError(ctx, "demo: stop server", out.StopErr)
			o.report.printf("WARN  server stop: %v", out.StopErr)
			return
		}
		o.report.ok("Server stopped")
	}()
	o.report.ok("Server started")

	if err := interrupted(ctx); err != nil {
		return fail(err)
	}
	o.report.step("Testing server connection...")
	pr := o.opts.Prober.Probe(ctx, o.cfg.Host, o.cfg.Port, o.cfg.ProbeTimeout)
	if err := interrupted(ctx); err != nil {
		return fail(err)
	}
	if !pr.Reachable {
		return fail(fmt.Errorf("%w: %s within %s", ErrUnreachable, probe.Address(o.cfg.Host, o.cfg.Port), o.cfg.ProbeTimeout))
	}
	out.ProbeOK = true
	enter(ServerReady)
	o.report.ok("Server connection successful")

	o.report.step("Running client tests...")
	o.report.script(session.Describe(o.cfg.Script))
	enter(ClientRunning)
	args := []string{o.cfg.Host, strconv.Itoa(o.cfg.Port)}
	res := o.opts.Session.Run(ctx, o.opts.Artifacts.ClientPath(), args, o.cfg.Script, o.cfg.SessionTimeout)
	out.Session = &res
	o.report.output("client output", res.Stdout)
	if err := interrupted(ctx); err != nil {
		return fail(err)
	}
	switch {
	case res.TimedOut:
		return fail(fmt.Errorf("%w: no exit within %s", ErrSessionTimeout, o.cfg.SessionTimeout))
	case res.ExitCode == session.LaunchFailedExitCode:
		return fail(fmt.Errorf("%w: %v", ErrSessionFailure, res.Err))
	case res.ExitCode != 0:
		o.report.output("client errors", res.Stderr)
		return fail(fmt.Errorf("%w: exit code %d", ErrSessionFailure, res.ExitCode))
	}

	out.Success = true
	enter(Succeeded)
	o.report.ok("Client test completed successfully")
	o.report.step("Demo completed successfully!")
	o.report.summary()
	return out
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return nil
}
