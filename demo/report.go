package demo

import (
	"fmt"
	"io"
	"strings"
)

// Reporter writes the human-readable progress of a run. A nil Reporter or one
// with no writer discards everything.
type Reporter struct {
	w io.Writer
}

func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (r *Reporter) printf(format string, args ...interface{}) {
	if r == nil || r.w == nil {
		return
	}
	_, _ = fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *Reporter) banner() {
	r.printf("Secure Communication Protocol Demo")
	r.printf("%s", strings.Repeat("=", 50))
}

func (r *Reporter) step(msg string) {
	r.printf("")
	r.printf("%s", msg)
}

func (r *Reporter) ok(format string, args ...interface{}) {
	r.printf("OK   "+format, args...)
}

func (r *Reporter) script(lines []string) {
	r.printf("Test messages:")
	for _, l := range lines {
		r.printf("  %s", l)
	}
}

func (r *Reporter) output(label, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	r.printf("--- %s ---", label)
	r.printf("%s", text)
}

var featureSummary = []string{
	"RSA-2048 key exchange",
	"AES-256-GCM encryption",
	"Perfect Forward Secrecy",
	"Session authentication",
	"Key rotation",
	"Digital signatures",
}

func (r *Reporter) summary() {
	r.step("Demo Summary:")
	for _, f := range featureSummary {
		r.printf("  OK   %s", f)
	}
}

// failure writes the one status line that identifies why the run failed.
func (r *Reporter) failure(err error) {
	switch FailureKind(err) {
	case "interrupted":
		r.printf("INTERRUPTED  demo interrupted, stopping server")
	case "missing-artifact":
		r.printf("FAIL  %v. Please build the project first.", err)
	case "launch":
		r.printf("FAIL  failed to start server: %v", err)
	case "unreachable":
		r.printf("FAIL  cannot connect to server: %v", err)
	case "session-timeout":
		r.printf("FAIL  client test timed out: %v", err)
	case "session-failure":
		r.printf("FAIL  client test failed: %v", err)
	default:
		r.printf("FAIL  %v", err)
	}
}
