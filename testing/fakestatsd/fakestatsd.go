// Package fakestatsd is a UDP statsd listener for asserting on emitted metrics in tests.
package fakestatsd

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

type FakeStatsd struct {
	conn *net.UDPConn
	done chan struct{}

	mu      sync.RWMutex
	metrics []Metric
}

// Metric is one received datagram line. Value holds the value and type, eg "1|c".
type Metric struct {
	Name  string
	Value string
	Tags  []string
}

func New(t testing.TB) *FakeStatsd {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.Assert(t, err)

	s := &FakeStatsd{
		conn: conn,
		done: make(chan struct{}),
	}
	go s.listen()
	t.Cleanup(func() {
		_ = s.conn.Close()
		<-s.done
	})

	return s
}

func (s *FakeStatsd) Addr() string {
	return s.conn.LocalAddr().String()
}

func (s *FakeStatsd) Metrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := make([]Metric, len(s.metrics))
	copy(metrics, s.metrics)
	return metrics
}

func (s *FakeStatsd) listen() {
	defer close(s.done)
	buf := make([]byte, 65535)
	for {
		n, err := s.conn.Read(buf)
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			if m, ok := parse(line); ok {
				s.record(m)
			}
		}
	}
}

func (s *FakeStatsd) record(m Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, m)
}

// parse handles the dogstatsd line format: name:value|type|@rate|#tag1,tag2
func parse(line string) (Metric, bool) {
	name, rest, ok := strings.Cut(line, ":")
	if !ok || name == "" {
		return Metric{}, false
	}
	m := Metric{Name: name}
	parts := strings.Split(rest, "|")
	var value []string
	for _, p := range parts {
		switch {
		case strings.HasPrefix(p, "#"):
			m.Tags = strings.Split(strings.TrimPrefix(p, "#"), ",")
		case strings.HasPrefix(p, "@"):
		default:
			value = append(value, p)
		}
	}
	m.Value = strings.Join(value, "|")
	return m, true
}
