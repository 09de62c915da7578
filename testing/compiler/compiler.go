package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type Compiler struct {
	dir string
}

func New() *Compiler {
	tempDir, err := os.MkdirTemp("", "harness-binaries")
	if err != nil {
		panic(err)
	}

	return &Compiler{
		dir: tempDir,
	}
}

func (c *Compiler) Dir() string {
	return c.dir
}

func (c *Compiler) Cleanup() {
	_ = os.RemoveAll(c.dir)
}

type Work struct {
	// Result receives the binary path when set.
	Result *string
	Name   string
	// Target is the directory the build runs in, normally the module root.
	Target string
	// Source is the main package, relative to Target.
	Source      string
	Environment []string
}

// Compile a binary for testing, returning its path.
func (c *Compiler) Compile(ctx context.Context, w Work) (string, error) {
	cwd, err := filepath.Abs(w.Target)
	if err != nil {
		return "", err
	}

	path := BinaryPath(c.dir, w.Name)
	// #nosec - building test fixtures
	cmd := exec.CommandContext(ctx, goPath(), "build",
		"-o", path,
		w.Source,
	)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	cmd.Env = append(cmd.Env, w.Environment...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compile %s: %w", w.Source, err)
	}
	if w.Result != nil {
		*w.Result = path
	}
	return path, nil
}

// CompileAll builds every Work concurrently, returning the first failure.
func (c *Compiler) CompileAll(ctx context.Context, work ...Work) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range work {
		w := w
		g.Go(func() error {
			_, err := c.Compile(ctx, w)
			return err
		})
	}
	return g.Wait()
}

func goPath() string {
	goroot := os.Getenv("GOROOT")
	if goroot == "" {
		return "go"
	}
	return filepath.Join(goroot, "bin", "go")
}

// BinaryPath is where a binary called name lives in dir on this platform.
func BinaryPath(dir, name string) string {
	path := filepath.Join(dir, name)
	if runtime.GOOS == "windows" {
		return path + ".exe"
	}
	return path
}
