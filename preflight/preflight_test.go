package preflight

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/securecomm/harness/testing/testcontext"
)

func TestCheckFiles(t *testing.T) {
	root := t.TempDir()
	assert.NilError(t, os.MkdirAll(filepath.Join(root, "include"), 0o750))
	assert.NilError(t, os.WriteFile(filepath.Join(root, "include", "common.h"), nil, 0o600))
	assert.NilError(t, os.WriteFile(filepath.Join(root, "README.md"), nil, 0o600))

	t.Run("some missing", func(t *testing.T) {
		r := CheckFiles(root, []string{"README.md", "include/common.h", "server/server.cpp"})
		assert.Check(t, !r.OK())
		assert.Check(t, cmp.DeepEqual(r.Missing(), []string{"server/server.cpp"}))
		assert.Check(t, cmp.DeepEqual(r.Files, []FileStatus{
			{Path: "README.md", Present: true},
			{Path: "include/common.h", Present: true},
			{Path: "server/server.cpp", Present: false},
		}))
	})

	t.Run("all present", func(t *testing.T) {
		r := CheckFiles(root, []string{"README.md", "include/common.h"})
		assert.Check(t, r.OK())
		assert.Check(t, cmp.Len(r.Missing(), 0))
	})

	t.Run("default files in empty dir", func(t *testing.T) {
		r := CheckFiles(t.TempDir(), DefaultProjectFiles)
		assert.Check(t, !r.OK())
		assert.Check(t, cmp.Len(r.Missing(), len(DefaultProjectFiles)))
	})
}

func TestCheckTools(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the fake tool")
	}
	ctx := testcontext.Background()

	tool := filepath.Join(t.TempDir(), "faketool")
	assert.NilError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho 'faketool version 1.2.3'\necho 'more detail'\n"), 0o700))
	slow := filepath.Join(t.TempDir(), "slowtool")
	assert.NilError(t, os.WriteFile(slow, []byte("#!/bin/sh\nexec sleep 10\n"), 0o700))

	start := time.Now()
	statuses := CheckTools(ctx, []Tool{
		{Name: tool, Description: "present"},
		{Name: "definitely-not-a-real-tool-xyz", Description: "missing"},
		{Name: slow, Description: "hangs"},
	}, 500*time.Millisecond)

	assert.Check(t, time.Since(start) < 5*time.Second)
	assert.Assert(t, cmp.Len(statuses, 3))

	assert.Check(t, statuses[0].Available, statuses[0].Err)
	assert.Check(t, cmp.Equal(statuses[0].Version, "faketool version 1.2.3"))

	assert.Check(t, cmp.Equal(statuses[1].Name, "definitely-not-a-real-tool-xyz"))
	assert.Check(t, !statuses[1].Available)
	assert.Check(t, statuses[1].Err != nil)

	assert.Check(t, !statuses[2].Available)
}

func TestReport(t *testing.T) {
	ctx := testcontext.Background()
	root := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(root, "README.md"), nil, 0o600))

	w := &bytes.Buffer{}
	ok := Report(ctx, w, root, []string{"README.md", "CMakeLists.txt"}, []Tool{
		{Name: "definitely-not-a-real-tool-xyz", Description: "missing"},
	}, time.Second)

	assert.Check(t, !ok)
	assert.Check(t, cmp.Contains(w.String(), "[ok]      README.md"))
	assert.Check(t, cmp.Contains(w.String(), "[missing] CMakeLists.txt"))
	assert.Check(t, cmp.Contains(w.String(), "Some project files are missing: CMakeLists.txt"))
	assert.Check(t, cmp.Contains(w.String(), "No build tools found"))
}

func TestFirstLine(t *testing.T) {
	assert.Check(t, cmp.Equal(firstLine("cmake version 3.27.4\n\nCMake suite\n"), "cmake version 3.27.4"))
	assert.Check(t, cmp.Equal(firstLine(""), ""))
}
