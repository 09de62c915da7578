// Command demo runs the secure communication demo end to end: start the server,
// check it is reachable, drive the client through the demo script and stop the server.
// It exits 0 only if the client session succeeded.
package main

import (
	"context"
	"errors"
	"io"
	"log" //nolint:depguard // non-o11y log is allowed for a top-level fatal
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/securecomm/harness/config/secret"
	"github.com/securecomm/harness/demo"
	"github.com/securecomm/harness/o11y"
	"github.com/securecomm/harness/preflight"
	"github.com/securecomm/harness/supervisor"
	"github.com/securecomm/harness/termination"
)

var version = "dev"

type cli struct {
	Host           string        `env:"DEMO_HOST" default:"127.0.0.1" help:"Address the probe and client connect to."`
	Port           int           `env:"DEMO_PORT" default:"8080" help:"Port the server is told to listen on."`
	BuildDir       string        `env:"DEMO_BUILD_DIR" default:"build" help:"Directory holding the server and client executables."`
	SettleDelay    time.Duration `env:"DEMO_SETTLE_DELAY" default:"2s" help:"Wait after starting the server before probing it. 0 disables."`
	GracePeriod    time.Duration `env:"DEMO_GRACE_PERIOD" default:"5s" help:"Wait for the server to stop before killing it."`
	ProbeTimeout   time.Duration `env:"DEMO_PROBE_TIMEOUT" default:"5s" help:"Time allowed for the server to accept a connection."`
	ProbeRetry     time.Duration `env:"DEMO_PROBE_RETRY" default:"0s" help:"Retry the probe at this interval until the probe timeout. 0 probes once."`
	SessionTimeout time.Duration `env:"DEMO_SESSION_TIMEOUT" default:"30s" help:"Time allowed for the client session to finish."`
	Echo           bool          `env:"DEMO_ECHO" help:"Copy server output to stderr as it is written."`

	Preflight  bool   `env:"DEMO_PREFLIGHT" help:"Report project structure and build tool availability first."`
	ProjectDir string `env:"DEMO_PROJECT_DIR" default:"." help:"Project checkout inspected by --preflight."`

	LogFormat        string        `name:"log-format" env:"O11Y_FORMAT" enum:"text,color,json,none" default:"text" help:"Format used for stderr logging."`
	Statsd           string        `name:"statsd" env:"O11Y_STATSD" help:"Address to send statsd metrics."`
	HoneycombEnabled bool          `name:"honeycomb" env:"O11Y_HONEYCOMB" help:"Send traces to honeycomb."`
	HoneycombDataset string        `name:"honeycomb-dataset" env:"O11Y_HONEYCOMB_DATASET" default:"harness"`
	HoneycombKey     secret.String `name:"honeycomb-key" env:"O11Y_HONEYCOMB_KEY"`
}

func main() {
	code, err := run(context.Background(), os.Args[1:], os.Stdout)
	if err != nil && !interrupted(err) {
		log.Println("demo:", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) (code int, err error) {
	c := cli{}
	parser, err := kong.New(&c,
		kong.Name("demo"),
		kong.Description("Run the secure communication client and server end to end."),
		kong.Writers(stdout, os.Stderr),
	)
	if err != nil {
		return 2, err
	}
	if _, err := parser.Parse(args); err != nil {
		return 2, err
	}

	ctx, o11yCleanup, err := loadO11y(ctx, c)
	if err != nil {
		return 2, err
	}
	defer o11yCleanup(ctx)

	ctx, stop := termination.WithSignals(ctx)
	defer stop()

	ctx, runSpan := o11y.StartSpan(ctx, "main: run")
	defer o11y.End(runSpan, &err)
	o11y.Log(ctx, "starting demo",
		o11y.Field("version", version),
		o11y.Field("port", c.Port),
		o11y.Field("build_dir", c.BuildDir),
	)

	out := demo.New(demoConfig(c), demoOptions(c, stdout)).Run(ctx)
	runSpan.AddField("exit_code", out.ExitCode())
	return out.ExitCode(), out.CombinedError()
}

// interrupted reports whether err only says the run was stopped by a signal, which
// the status output has already said.
func interrupted(err error) bool {
	return errors.Is(err, demo.ErrInterrupted) || errors.Is(err, termination.ErrTerminated)
}

func demoConfig(c cli) demo.Config {
	return demo.Config{
		Host:           c.Host,
		Port:           c.Port,
		ProbeTimeout:   c.ProbeTimeout,
		SessionTimeout: c.SessionTimeout,
	}
}

func demoOptions(c cli, stdout io.Writer) demo.Options {
	settle := c.SettleDelay
	if settle == 0 {
		settle = -1
	}
	sc := supervisor.Config{
		SettleDelay: settle,
		GracePeriod: c.GracePeriod,
	}
	if c.Echo {
		sc.Echo = os.Stderr
	}

	opts := demo.Options{
		Artifacts:  demo.Artifacts{Dir: c.BuildDir},
		Supervisor: demo.ProcessSupervisor(supervisor.New(sc)),
		Out:        stdout,
	}
	if c.ProbeRetry > 0 {
		opts.Prober = demo.RetryingProber(c.ProbeRetry)
	}
	if c.Preflight {
		opts.Preflight = func(ctx context.Context) bool {
			return preflight.Report(ctx, stdout, c.ProjectDir,
				preflight.DefaultProjectFiles, preflight.DefaultTools, preflight.DefaultToolTimeout)
		}
	}
	return opts
}
