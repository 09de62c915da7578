package honeycomb

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/honeycombio/libhoney-go/transmission"
)

// TextSender implements the transmission.Sender interface by marshalling events to
// human-readable lines written to w, with optional colour.
type TextSender struct {
	sync.Mutex

	w      io.Writer
	colour bool

	responses chan transmission.Response
}

func (t *TextSender) Start() error {
	t.responses = make(chan transmission.Response, 100)
	return nil
}

func (t *TextSender) Stop() error { return nil }

func (t *TextSender) Flush() error { return nil }

func (t *TextSender) Add(ev *transmission.Event) {
	m := t.format(ev)

	t.Lock()
	defer t.Unlock()
	_, _ = t.w.Write(m)
	t.SendResponse(transmission.Response{Metadata: ev.Metadata})
}

func (t *TextSender) TxResponses() chan transmission.Response {
	return t.responses
}

func (t *TextSender) SendResponse(r transmission.Response) bool {
	select {
	case t.responses <- r:
	default:
		return true
	}
	return false
}

func (t *TextSender) format(ev *transmission.Event) []byte {
	buf := new(bytes.Buffer)
	_, _ = fmt.Fprintf(buf, "%s %s %.3fms %s",
		ev.Timestamp.Format("15:04:05"),
		t.applyColour(formatTraceID(ev.Data["trace.trace_id"])),
		ev.Data["duration_ms"],
		t.applyColour(fmt.Sprintf("%s", ev.Data["name"])),
	)

	for _, k := range sortedKeys(ev.Data) {
		if t.exclude(k) {
			continue
		}
		label := k
		if (k == "error" || k == "warning") && t.colour {
			label = errorHighlight(k)
		}
		_, _ = fmt.Fprintf(buf, " %s=%v", label, ev.Data[k])
	}
	buf.WriteString("\n")
	return buf.Bytes()
}

func (t *TextSender) exclude(k string) bool {
	switch k {
	case "name", "version", "service", "duration_ms", metricKey:
		return true
	}
	// these are noisy prefixes so exclude them from the output.
	for _, prefix := range []string{"trace", "meta"} {
		if strings.HasPrefix(k, prefix+".") {
			return true
		}
	}
	return false
}

func (t *TextSender) applyColour(value string) string {
	if !t.colour {
		return value
	}
	return applyColour(value)
}

func formatTraceID(raw interface{}) string {
	traceID, ok := raw.(string)
	if !ok || len(traceID) < 5 {
		return "unkwn"
	}
	return traceID[len(traceID)-5:]
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ansi 256 colour codes that read well against a dark terminal
var colours = []uint8{
	9, 10, 11, 12, 13, 14, 33, 39, 45, 51, 69, 75, 81, 87, 99, 105, 111, 117, 123, 141,
	147, 153, 159, 171, 177, 183, 189, 195, 207, 213, 219, 225, 208, 214, 220, 226,
}

// applyColour picks a colour with a deterministic hash, so a trace id or span name
// keeps the same colour across lines and runs.
func applyColour(value string) string {
	i := crc32.ChecksumIEEE([]byte(value)) % uint32(len(colours))
	return fmt.Sprintf("\033[1;38;5;%dm%s\033[0m", colours[i], value)
}

func errorHighlight(s string) string {
	return fmt.Sprintf("\033[1;37;41m%s\033[0m", s)
}
