package supervisor

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/securecomm/harness/probe"
	"github.com/securecomm/harness/testing/compiler"
	"github.com/securecomm/harness/testing/poll"
	"github.com/securecomm/harness/testing/testcontext"
)

var serverBinary string

func TestMain(m *testing.M) {
	c := compiler.New()
	_, err := c.Compile(context.Background(), compiler.Work{
		Result: &serverBinary,
		Name:   "fakeserver",
		Target: "..",
		Source: "./testing/internal/fakeserver",
	})
	if err != nil {
		c.Cleanup()
		panic(err)
	}
	code := m.Run()
	c.Cleanup()
	os.Exit(code)
}

func TestSupervisor_StartStop(t *testing.T) {
	ctx := testcontext.Background()
	port := freePort(t)

	s := New(Config{SettleDelay: 100 * time.Millisecond})
	p, err := s.Start(ctx, serverBinary, itoa(port))
	assert.Assert(t, err)
	t.Cleanup(func() { _ = p.Stop(ctx) })

	t.Run("records what it launched", func(t *testing.T) {
		assert.Check(t, cmp.Equal(p.Path(), serverBinary))
		assert.Check(t, p.Pid() > 0)
	})

	t.Run("accepts connections", func(t *testing.T) {
		res := probe.WaitReachable(ctx, "127.0.0.1", port, 5*time.Second, 50*time.Millisecond)
		assert.Check(t, res.Reachable, res.Err)
	})

	t.Run("stops gracefully", func(t *testing.T) {
		assert.Check(t, p.Stop(ctx))
		assert.Check(t, !p.Forced())
		assertExited(t, p)
		assert.Check(t, cmp.Contains(p.Stdout(), "Secure server started on port"))
		assert.Check(t, cmp.Contains(p.Stdout(), "fake server: terminated"))
	})

	t.Run("port is released", func(t *testing.T) {
		res := probe.Probe(ctx, "127.0.0.1", port, time.Second)
		assert.Check(t, !res.Reachable)
	})
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	ctx := testcontext.Background()

	s := New(Config{SettleDelay: -1, Env: []string{"FAKESERVER_MODE=silent"}})
	p, err := s.Start(ctx, serverBinary, itoa(freePort(t)))
	assert.Assert(t, err)

	poll.Contains(ctx, t, 5*time.Second, p.Stdout, "mode=silent")

	err1 := p.Stop(ctx)
	err2 := p.Stop(ctx)
	assert.Check(t, err1)
	assert.Check(t, err2)
	assertExited(t, p)

	var nilProcess *Process
	assert.Check(t, nilProcess.Stop(ctx))
}

func TestSupervisor_ForcedStop(t *testing.T) {
	ctx := testcontext.Background()

	s := New(Config{
		SettleDelay: -1,
		GracePeriod: 300 * time.Millisecond,
		Env:         []string{"FAKESERVER_MODE=stubborn"},
	})
	p, err := s.Start(ctx, serverBinary, itoa(freePort(t)))
	assert.Assert(t, err)

	poll.Contains(ctx, t, 5*time.Second, p.Stdout, "ignoring termination signals")

	start := time.Now()
	assert.Check(t, p.Stop(ctx))
	assert.Check(t, p.Forced())
	assert.Check(t, time.Since(start) >= 300*time.Millisecond)
	assertExited(t, p)
}

func TestSupervisor_MissingBinary(t *testing.T) {
	ctx := testcontext.Background()

	s := New(Config{})
	start := time.Now()
	p, err := s.Start(ctx, filepath.Join(t.TempDir(), "no-such-server"), "8080")
	assert.Check(t, p == nil)
	assert.Check(t, errors.Is(err, ErrLaunch))
	assert.Check(t, errors.Is(err, fs.ErrNotExist))
	assert.Check(t, cmp.ErrorContains(err, "no-such-server"))
	assert.Check(t, time.Since(start) < DefaultSettleDelay, "a failed launch must not settle")
}

func TestSupervisor_ExitDuringSettle(t *testing.T) {
	ctx := testcontext.Background()

	s := New(Config{SettleDelay: 5 * time.Second, Env: []string{"FAKESERVER_MODE=crash"}})
	start := time.Now()
	p, err := s.Start(ctx, serverBinary, itoa(freePort(t)))
	assert.Assert(t, err)
	assert.Check(t, time.Since(start) < 5*time.Second, "settle should end when the process exits")

	assertExited(t, p)
	assert.Check(t, cmp.Contains(p.Stderr(), "crashing on purpose"))
	assert.Check(t, p.Stop(ctx))
	assert.Check(t, !p.Forced())
}

func TestSupervisor_SettleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(testcontext.Background())
	cancel()

	s := New(Config{SettleDelay: 5 * time.Second, Env: []string{"FAKESERVER_MODE=silent"}})
	start := time.Now()
	p, err := s.Start(ctx, serverBinary, itoa(freePort(t)))
	assert.Assert(t, err)
	assert.Check(t, time.Since(start) < 5*time.Second)

	// a cancelled context must not prevent cleanup
	assert.Check(t, p.Stop(ctx))
	assertExited(t, p)
}

func assertExited(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d has not exited", p.Pid())
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Assert(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	assert.Assert(t, ln.Close())
	return port
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
