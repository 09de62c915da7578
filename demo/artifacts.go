package demo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const DefaultBuildDir = "build"

// Artifacts locates the prebuilt server and client executables.
type Artifacts struct {
	// Dir holds the executables, relative to the working directory unless absolute.
	Dir string
}

func (a Artifacts) ServerPath() string {
	return executable(a.dir(), "server")
}

func (a Artifacts) ClientPath() string {
	return executable(a.dir(), "client")
}

// Check returns an error wrapping ErrMissingArtifact naming every executable that is
// absent or is not a regular file.
func (a Artifacts) Check() error {
	var missing []string
	for _, p := range []string{a.ServerPath(), a.ClientPath()} {
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingArtifact, strings.Join(missing, ", "))
	}
	return nil
}

func (a Artifacts) dir() string {
	if a.Dir == "" {
		return DefaultBuildDir
	}
	return a.Dir
}

func executable(dir, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(dir, name)
}
