package main

import (
	"context"

	"github.com/securecomm/harness/config/o11y"
)

func loadO11y(ctx context.Context, c cli) (context.Context, func(context.Context), error) {
	return o11y.Setup(ctx, o11y.Config{
		Statsd:           c.Statsd,
		HoneycombEnabled: c.HoneycombEnabled,
		HoneycombDataset: c.HoneycombDataset,
		HoneycombKey:     c.HoneycombKey,
		Format:           c.LogFormat,
		Version:          version,
		Service:          "secure-comm-demo",
		StatsNamespace:   "securecomm.harness.",
	})
}
