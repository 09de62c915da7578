// Package preflight reports whether a source checkout looks complete and which build
// tools are installed. It is informational: nothing it finds stops a demo run.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/securecomm/harness/o11y"
)

const DefaultToolTimeout = 5 * time.Second

// DefaultProjectFiles are the files a complete checkout of the secure comm project has.
var DefaultProjectFiles = []string{
	"CMakeLists.txt",
	"include/common.h",
	"crypto/crypto_utils.h",
	"crypto/crypto_utils.cpp",
	"server/server.cpp",
	"client/client.cpp",
	"README.md",
	"build.bat",
	"build_vs.bat",
}

type Tool struct {
	Name        string
	Description string
}

var DefaultTools = []Tool{
	{Name: "cmake", Description: "CMake build system"},
	{Name: "cl", Description: "Visual Studio C++ compiler"},
	{Name: "g++", Description: "GNU C++ compiler"},
	{Name: "make", Description: "Make build tool"},
}

type FileStatus struct {
	Path    string
	Present bool
}

type FileReport struct {
	Root  string
	Files []FileStatus
}

func (r FileReport) OK() bool {
	for _, f := range r.Files {
		if !f.Present {
			return false
		}
	}
	return true
}

func (r FileReport) Missing() []string {
	var missing []string
	for _, f := range r.Files {
		if !f.Present {
			missing = append(missing, f.Path)
		}
	}
	return missing
}

// CheckFiles looks for each of files, given with forward slashes, under root.
func CheckFiles(root string, files []string) FileReport {
	r := FileReport{Root: root, Files: make([]FileStatus, 0, len(files))}
	for _, f := range files {
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(f)))
		r.Files = append(r.Files, FileStatus{Path: f, Present: err == nil})
	}
	return r
}

type ToolStatus struct {
	Tool
	Available bool
	Version   string
	Err       error
}

// CheckTools runs `<tool> --version` for every tool concurrently. A tool is available
// when that exits zero within timeout. The result is in the order of tools.
func CheckTools(ctx context.Context, tools []Tool, timeout time.Duration) []ToolStatus {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	ctx, span := o11y.StartSpan(ctx, "preflight: check-tools")
	defer span.End()

	statuses := make([]ToolStatus, len(tools))
	g := errgroup.Group{}
	for i, tool := range tools {
		i, tool := i, tool
		g.Go(func() error {
			statuses[i] = checkTool(ctx, tool, timeout)
			return nil
		})
	}
	_ = g.Wait()

	available := 0
	for _, s := range statuses {
		if s.Available {
			available++
		}
	}
	span.AddField("tools", len(tools))
	span.AddField("available", available)
	return statuses
}

func checkTool(ctx context.Context, tool Tool, timeout time.Duration) (s ToolStatus) {
	s.Tool = tool
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//#nosec:G204 // the tool names are fixed by the caller
	out, err := exec.CommandContext(ctx, tool.Name, "--version").Output()
	if err != nil {
		s.Err = err
		return s
	}
	s.Available = true
	s.Version = firstLine(string(out))
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Report checks files under root and tools, writes a summary to w and returns whether
// the project structure is complete.
func Report(ctx context.Context, w io.Writer, root string, files []string, tools []Tool, timeout time.Duration) bool {
	ctx, span := o11y.StartSpan(ctx, "preflight: report")
	defer span.End()

	fr := CheckFiles(root, files)
	span.AddField("structure_ok", fr.OK())
	span.AddField("missing", len(fr.Missing()))

	p := func(format string, args ...interface{}) {
		_, _ = fmt.Fprintf(w, format+"\n", args...)
	}
	p("Project Structure Check:")
	p(strings.Repeat("-", 30))
	for _, f := range fr.Files {
		p("%s %s", mark(f.Present), f.Path)
	}
	p("")

	p("Tool Availability Check:")
	p(strings.Repeat("-", 30))
	var available []string
	for _, s := range CheckTools(ctx, tools, timeout) {
		p("%s %s - %s", mark(s.Available), s.Name, s.Description)
		if s.Available {
			available = append(available, s.Name)
		}
	}
	p("")

	if fr.OK() {
		p("Project structure is complete")
	} else {
		p("Some project files are missing: %s", strings.Join(fr.Missing(), ", "))
	}
	if len(available) > 0 {
		p("Available tools: %s", strings.Join(available, ", "))
	} else {
		p("No build tools found")
	}
	return fr.OK()
}

func mark(ok bool) string {
	if ok {
		return "[ok]     "
	}
	return "[missing]"
}
