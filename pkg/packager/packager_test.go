package packager

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pypack/pypack/internal/backend"
	"github.com/pypack/pypack/internal/config"
	"github.com/pypack/pypack/internal/logging"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func prepare(t *testing.T, b *config.Build) *config.Build {
	t.Helper()
	if err := b.Prepare(); err != nil {
		t.Fatal(err)
	}
	return b
}

func stubCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool is a shell script")
	}
	path := filepath.Join(t.TempDir(), "fake-cythonize")
	script := `#!/bin/sh
for last; do :; done
printf 'native' > "${last%.py}.so"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunZipEndToEnd(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":    "import helpers\nimport os\n",
		"helpers.py": "h = 1\n",
	})
	out := t.TempDir()
	b := prepare(t, &config.Build{
		Entry:  filepath.Join(root, "main.py"),
		Output: out,
		Format: "zip",
	})

	res, err := New(logging.Discard()).Run(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("run should succeed: %+v", res.Units)
	}

	// Graph is available for diagnostics.
	if res.Graph.Len() != 2 {
		t.Errorf("expected 2 graph units, got %d", res.Graph.Len())
	}
	entry := res.Graph.Unit(res.Graph.Entry)
	if len(entry.External) != 1 || entry.External[0] != "os" {
		t.Errorf("os should be marked external, got %v", entry.External)
	}

	zr, err := zip.OpenReader(filepath.Join(out, "main.zip"))
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := []string{"deps/helpers.py", "main.py"}
	for _, name := range want {
		found := false
		for _, got := range names {
			if got == name {
				found = true
			}
		}
		if !found {
			t.Errorf("archive missing %s, got %v", name, names)
		}
	}
}

func TestRunNoDepsWithUnreadableDependency(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":   "import broken\n",
		"broken.py": "",
	})
	if err := os.Chmod(filepath.Join(root, "broken.py"), 0o000); err != nil {
		t.Fatal(err)
	}
	if os.Geteuid() == 0 {
		t.Skip("running as root, chmod 0 is not enforced")
	}

	noDeps := false
	b := prepare(t, &config.Build{
		Entry:       filepath.Join(root, "main.py"),
		Output:      t.TempDir(),
		Format:      "zip",
		IncludeDeps: &noDeps,
	})

	res, err := New(logging.Discard()).Run(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("entry build should succeed with --no-deps: %+v", res.Units)
	}

	// The unreadable dependency still shows up in the graph diagnostics.
	broken := res.Graph.Unit(filepath.Join(root, "broken.py"))
	if broken == nil || broken.Err == nil {
		t.Error("broken dependency should carry its scan error in the graph")
	}

	// And as a skipped row in the report, not just a log line.
	var skipped *backend.UnitResult
	for i := range res.Units {
		if res.Units[i].Status == backend.StatusSkipped {
			skipped = &res.Units[i]
		}
	}
	if skipped == nil {
		t.Fatalf("expected a skipped diagnostic row, got %+v", res.Units)
	}
	if filepath.Base(skipped.Unit) != "broken.py" || skipped.Warning == "" {
		t.Errorf("skipped row should name broken.py with its reason, got %+v", skipped)
	}
}

func TestRunCompileWithBannerTrailer(t *testing.T) {
	tool := stubCompiler(t)
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})
	bannerPath := filepath.Join(root, "NOTICE")
	if err := os.WriteFile(bannerPath, []byte("banner-text"), 0o600); err != nil {
		t.Fatal(err)
	}

	b := prepare(t, &config.Build{
		Entry:    filepath.Join(root, "main.py"),
		Output:   t.TempDir(),
		Format:   "so",
		Banner:   bannerPath,
		Backends: config.Backends{Compile: tool},
	})

	res, err := New(logging.Discard()).Run(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("run should succeed: %+v", res.Units)
	}

	bs, err := os.ReadFile(res.Units[0].Artifact)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(bs), "banner-text") {
		t.Error("banner not embedded in artifact")
	}
	if !strings.HasPrefix(string(bs), "native") {
		t.Error("artifact content must be preserved ahead of the banner")
	}
}

func TestRunBannerFailureKeepsArtifactAndSuccess(t *testing.T) {
	tool := stubCompiler(t)
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})

	b := prepare(t, &config.Build{
		Entry:    filepath.Join(root, "main.py"),
		Output:   t.TempDir(),
		Format:   "so",
		Banner:   filepath.Join(root, "no-such-banner"),
		Backends: config.Backends{Compile: tool},
	})

	res, err := New(logging.Discard()).Run(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatal("banner failure must not affect overall success")
	}
	unit := res.Units[0]
	if unit.Status != backend.StatusSucceeded {
		t.Fatalf("unit should succeed, got %v", unit.Status)
	}
	if unit.Warning == "" {
		t.Error("expected a banner warning on the unit result")
	}
	if _, err := os.Stat(unit.Artifact); err != nil {
		t.Errorf("artifact should remain in place: %v", err)
	}
}

func TestRunFatalErrors(t *testing.T) {
	t.Run("missing entry", func(t *testing.T) {
		b := &config.Build{Entry: filepath.Join(t.TempDir(), "absent.py")}
		if err := b.Prepare(); err == nil {
			t.Fatal("expected prepare to fail for a missing entry")
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		root := writeTree(t, map[string]string{"main.py": ""})
		b := &config.Build{Entry: filepath.Join(root, "main.py"), Format: "tarball"}
		err := b.Prepare()
		if err == nil {
			t.Fatal("expected unsupported format error")
		}
		if !IsFatalConfig(err) {
			t.Errorf("unsupported format should classify as fatal config, got %v", err)
		}
	})

	t.Run("backend unavailable", func(t *testing.T) {
		root := writeTree(t, map[string]string{"main.py": ""})
		b := prepare(t, &config.Build{
			Entry:    filepath.Join(root, "main.py"),
			Output:   t.TempDir(),
			Format:   "so",
			Backends: config.Backends{Compile: "pypack-not-installed"},
		})

		_, err := New(logging.Discard()).Run(context.Background(), b)
		if !IsBackendUnavailable(err) {
			t.Fatalf("expected backend unavailable, got %v", err)
		}
	})
}
