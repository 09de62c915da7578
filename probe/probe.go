// Package probe answers "is something listening on host:port right now?".
//
// A probe never returns an error. Refusals, timeouts and any other network failure
// all collapse to an unreachable Result; the last dial error is kept for reporting only.
package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/securecomm/harness/o11y"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 250 * time.Millisecond
)

type Result struct {
	Reachable bool
	Attempts  int
	Elapsed   time.Duration
	// Err is the last dial error. It is informational; Reachable is the verdict.
	Err error
}

// Address joins host and port the way the dialer expects, bracketing IPv6 hosts.
func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Probe makes a single stream connection attempt bounded by timeout and closes the
// connection straight away.
func Probe(ctx context.Context, host string, port int, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := Address(host, port)

	ctx, span := o11y.StartSpan(ctx, "probe: dial")
	span.RecordMetric(o11y.Timing("harness.probe", "result"))
	span.AddField("address", addr)
	span.AddField("timeout", timeout.String())

	start := time.Now()
	res := dial(ctx, addr, timeout)
	res.Attempts = 1
	res.Elapsed = time.Since(start)

	span.AddField("reachable", res.Reachable)
	o11y.End(span, &res.Err)
	return res
}

func dial(ctx context.Context, addr string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{Err: err}
	}
	_ = conn.Close()
	return Result{Reachable: true}
}

var errUnreachable = errors.New("unreachable")

// WaitReachable retries Probe every interval until the address accepts a connection
// or timeout has elapsed. It returns no later than timeout after it was called,
// plus the cost of closing a socket.
func WaitReachable(ctx context.Context, host string, port int, timeout, interval time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, span := o11y.StartSpan(ctx, "probe: wait-reachable")
	span.AddField("address", Address(host, port))

	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	var last Result
	attempts := 0
	bo := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	_ = backoff.Retry(func() error {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return backoff.Permanent(context.DeadlineExceeded)
		}
		attempts++
		last = Probe(ctx, host, port, remaining)
		if last.Reachable {
			return nil
		}
		if last.Err == nil {
			return errUnreachable
		}
		return last.Err
	}, bo)

	last.Attempts = attempts
	last.Elapsed = time.Since(start)
	if !last.Reachable && last.Err == nil {
		last.Err = ctx.Err()
	}

	span.AddField("attempts", attempts)
	span.AddField("reachable", last.Reachable)
	o11y.End(span, &last.Err)
	return last
}
