package honeycomb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/securecomm/harness/o11y"
)

func TestHoneycomb(t *testing.T) {
	gotEvent := false
	check := func(event string) {
		gotEvent = true

		assert.Check(t, cmp.Contains(event, `"version":"dev"`))
		assert.Check(t, cmp.Contains(event, `"name":"supervisor: start"`))
		assert.Check(t, cmp.Contains(event, `"app.path":"build/server"`), "span.AddField is prefixed")
		assert.Check(t, cmp.Contains(event, `"result":"success"`), "span.AddRawField is unprefixed")
		assert.Check(t, cmp.Contains(event, `"app.pid":4242`), "o11y.AddField is prefixed")
	}
	url := honeycombServer(t, check)
	ctx := context.Background()

	h := New(Config{
		Dataset:    "test-dataset",
		Host:       url,
		SendTraces: true,
		Format:     "none",
	})
	h.AddGlobalField("version", "dev")

	ctx = o11y.WithProvider(ctx, h)
	ctx, span := o11y.StartSpan(ctx, "supervisor: start")
	o11y.AddField(ctx, "pid", 4242)
	span.AddField("path", "build/server")
	span.AddRawField("result", "success")
	span.End()
	h.Close(ctx)

	assert.Assert(t, gotEvent, "expected to receive an event")
}

func TestHoneycomb_ValidatesKeys(t *testing.T) {
	h := New(Config{Format: "none"})

	recovery := func(key string) {
		p := recover()
		err, success := p.(error)
		assert.Assert(t, success)
		assert.ErrorContains(t, err, key)
	}

	ctx := o11y.WithProvider(context.Background(), h)
	defer h.Close(ctx)

	func() {
		defer recovery("invalid-global-field")
		h.AddGlobalField("invalid-global-field", "value")
	}()

	ctx, span := o11y.StartSpan(ctx, "test-span")
	func() {
		defer recovery("invalid-another-key")
		o11y.AddField(ctx, "invalid-another-key", "value")
	}()
	func() {
		defer recovery("invalid-span-key")
		span.AddField("invalid-span-key", "value")
	}()
	span.End()
}

func TestHoneycomb_TextOutput(t *testing.T) {
	buf := &syncWriter{}
	h := New(Config{Format: "text", Writer: buf})
	ctx := o11y.WithProvider(context.Background(), h)

	func() (err error) {
		ctx, span := o11y.StartSpan(ctx, "probe: dial")
		defer o11y.End(span, &err)
		span.AddField("address", "127.0.0.1:8080")
		o11y.Log(ctx, "probe: attempt", o11y.Field("attempt", 1))
		return errors.New("connection refused")
	}()
	h.Close(ctx)

	out := buf.String()
	assert.Check(t, cmp.Contains(out, "probe: dial app.address=127.0.0.1:8080 error=connection refused result=error"))
	assert.Check(t, cmp.Contains(out, "probe: attempt app.attempt=1"))
	assert.Check(t, !strings.Contains(out, metricKey))
}

func TestHoneycombMetrics(t *testing.T) {
	ctx := context.Background()

	fakeMetrics := &fakeMetrics{}
	h := New(Config{
		Format:  "none",
		Metrics: fakeMetrics,
	})

	ctx, span := h.StartSpan(ctx, "session: run")
	span.RecordMetric(o11y.Timing("harness.session", "result"))
	span.RecordMetric(o11y.Incr("harness.session.count", "result"))
	span.AddField("elapsed", 1500*time.Millisecond)
	span.RecordMetric(o11y.Metric{Type: o11y.MetricTimer, Name: "harness.session.elapsed", Field: "elapsed"})
	span.AddRawField("result", "success")
	span.End()
	h.Close(ctx)

	assert.Assert(t, cmp.Len(fakeMetrics.calls, 3))
	assert.Check(t, cmp.DeepEqual(fakeMetrics.calls[0], metricCall{
		Metric: "timer",
		Name:   "harness.session",
		Tags:   []string{"result:success"},
		Rate:   1,
		Value:  10,
	}, cmpNonZeroValue))
	assert.Check(t, cmp.DeepEqual(fakeMetrics.calls[1], metricCall{
		Metric:   "count",
		Name:     "harness.session.count",
		Tags:     []string{"result:success"},
		Rate:     1,
		ValueInt: 1,
	}))
	assert.Check(t, cmp.DeepEqual(fakeMetrics.calls[2], metricCall{
		Metric: "timer",
		Name:   "harness.session.elapsed",
		Tags:   []string{},
		Rate:   1,
		Value:  1500,
	}))
	assert.Check(t, fakeMetrics.closed)
}

func TestHoneycombWithError(t *testing.T) {
	gotEvent := false
	check := func(event string) {
		gotEvent = true

		assert.Check(t, cmp.Contains(event, `"name":"demo: run"`))
		assert.Check(t, cmp.Contains(event, `"result":"error"`))
		assert.Check(t, cmp.Contains(event, `"error":"server unreachable"`))
	}
	url := honeycombServer(t, check)
	ctx := context.Background()

	h := New(Config{
		Dataset:    "error-dataset",
		Host:       url,
		SendTraces: true,
		Format:     "none",
	})

	_ = func() (err error) {
		_, span := h.StartSpan(ctx, "demo: run")
		defer o11y.End(span, &err)
		return errors.New("server unreachable")
	}()

	h.Close(ctx)

	assert.Assert(t, gotEvent, "expected to receive an event")
}

func TestConfig_Validate(t *testing.T) {
	c := Config{SendTraces: true}
	assert.Check(t, cmp.ErrorContains(c.Validate(), "honeycomb_key"))

	c = Config{Format: "yaml"}
	assert.Check(t, cmp.ErrorContains(c.Validate(), "unknown log format"))

	c = Config{Format: "colour"}
	assert.Check(t, c.Validate())
}

func honeycombServer(t *testing.T, cb func(string)) string {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reader, err := zstd.NewReader(r.Body)
		if err != nil {
			t.Error("could not create zstd reader", err)
			return
		}
		defer reader.Close()
		defer r.Body.Close()

		b, err := io.ReadAll(reader)
		if err != nil {
			t.Error("could not read request", err)
		}
		cb(string(b))
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

var cmpNonZeroValue = gocmp.Options{gocmp.Comparer(func(a, b float64) bool {
	return a > 0 && b > 0
})}

type metricCall struct {
	Metric   string
	Name     string
	Value    float64
	ValueInt int64
	Tags     []string
	Rate     float64
}

type fakeMetrics struct {
	calls  []metricCall
	closed bool
}

func (f *fakeMetrics) TimeInMilliseconds(name string, value float64, tags []string, rate float64) error {
	f.calls = append(f.calls, metricCall{Metric: "timer", Name: name, Value: value, Tags: tags, Rate: rate})
	return nil
}

func (f *fakeMetrics) Gauge(name string, value float64, tags []string, rate float64) error {
	f.calls = append(f.calls, metricCall{Metric: "gauge", Name: name, Value: value, Tags: tags, Rate: rate})
	return nil
}

func (f *fakeMetrics) Count(name string, value int64, tags []string, rate float64) error {
	f.calls = append(f.calls, metricCall{Metric: "count", Name: name, ValueInt: value, Tags: tags, Rate: rate})
	return nil
}

func (f *fakeMetrics) Close() error {
	f.closed = true
	return nil
}

type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
