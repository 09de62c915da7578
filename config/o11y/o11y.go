// Package o11y wires the harness's observability from configuration.
package o11y

import (
	"context"
	"io"
	"os"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/securecomm/harness/config/secret"
	"github.com/securecomm/harness/o11y"
	"github.com/securecomm/harness/o11y/honeycomb"
)

type Config struct {
	Statsd           string
	HoneycombEnabled bool
	HoneycombDataset string
	HoneycombKey     secret.String
	HoneycombHost    string
	Format           string
	Version          string
	Service          string
	StatsNamespace   string

	// Optional
	Writer                  io.Writer
	Debug                   bool
	StatsdTelemetryDisabled bool
}

// Setup is the primary entrypoint to initialise the o11y system.
// The returned func flushes and closes the provider, it must be called before exit.
func Setup(ctx context.Context, o Config) (context.Context, func(context.Context), error) {
	honeyConfig := honeycomb.Config{
		Host:        o.HoneycombHost,
		Dataset:     o.HoneycombDataset,
		Key:         o.HoneycombKey.Raw(),
		Format:      o.Format,
		SendTraces:  o.HoneycombEnabled,
		Writer:      o.Writer,
		ServiceName: o.Service,
		Debug:       o.Debug,
	}
	if err := honeyConfig.Validate(); err != nil {
		return nil, nil, err
	}

	hostname, _ := os.Hostname()

	if o.Statsd == "" {
		honeyConfig.Metrics = &statsd.NoOpClient{}
	} else {
		statsdOpts := []statsd.Option{
			statsd.WithNamespace(o.StatsNamespace),
			statsd.WithTags([]string{
				"service:" + o.Service,
				"version:" + o.Version,
				"hostname:" + hostname,
			}),
		}
		if o.StatsdTelemetryDisabled {
			statsdOpts = append(statsdOpts, statsd.WithoutTelemetry())
		}

		stats, err := statsd.New(o.Statsd, statsdOpts...)
		if err != nil {
			return nil, nil, err
		}
		honeyConfig.Metrics = stats
	}

	provider := honeycomb.New(honeyConfig)
	provider.AddGlobalField("service", o.Service)
	provider.AddGlobalField("version", o.Version)

	ctx = o11y.WithProvider(ctx, provider)

	return ctx, provider.Close, nil
}
