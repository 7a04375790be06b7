package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pypack/pypack/internal/config"
	"github.com/pypack/pypack/internal/logging"
	"github.com/pypack/pypack/internal/plan"
	"github.com/pypack/pypack/internal/resolver"
)

// stubCompiler writes a shell script that mimics a compile-to-native tool:
// it produces "<stem>.so" next to the copied source, and fails for sources
// whose name contains "bad".
func stubCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool is a shell script")
	}
	path := filepath.Join(t.TempDir(), "fake-cythonize")
	script := `#!/bin/sh
for last; do :; done
case "$last" in
*bad*)
	echo "compile error: $last" >&2
	exit 1
	;;
esac
echo "compiled $last"
printf 'native' > "${last%.py}.so"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func buildRequest(t *testing.T, root, entry, tool string) *config.Build {
	t.Helper()
	b := &config.Build{
		Entry:    entry,
		Output:   filepath.Join(root, "out"),
		Format:   "so",
		Backends: config.Backends{Compile: tool},
	}
	if err := b.Prepare(); err != nil {
		t.Fatal(err)
	}
	return b
}

func writeSources(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func selectPlan(t *testing.T, b *config.Build) *plan.Plan {
	t.Helper()
	g, err := resolver.New(logging.Discard()).Resolve(context.Background(), b.Entry)
	if err != nil {
		t.Fatal(err)
	}
	p, err := plan.Select(b, g)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInvokerCompilesAllUnits(t *testing.T) {
	tool := stubCompiler(t)
	root := writeSources(t, map[string]string{
		"main.py": "import a\n",
		"a.py":    "",
	})
	b := buildRequest(t, root, filepath.Join(root, "main.py"), tool)

	results, err := NewInvoker(b, logging.Discard()).Run(context.Background(), selectPlan(t, b))
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusSucceeded {
			t.Errorf("unit %s: %v (%v)", r.Unit, r.Status, r.Err)
		}
		if _, err := os.Stat(r.Artifact); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
		if !strings.Contains(r.Output, "compiled") {
			t.Errorf("captured output lost, got %q", r.Output)
		}
	}

	// Results are sorted by unit path regardless of completion order.
	if !strings.HasSuffix(results[0].Unit, "a.py") || !strings.HasSuffix(results[1].Unit, "main.py") {
		t.Errorf("results not sorted by unit path: %q, %q", results[0].Unit, results[1].Unit)
	}

	// Scratch space is cleaned up after a fully successful run.
	entries, err := os.ReadDir(b.Output)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".pypack-") {
			t.Errorf("scratch directory %s left behind", e.Name())
		}
	}
}

func TestInvokerFailureDoesNotAbortSiblings(t *testing.T) {
	tool := stubCompiler(t)
	root := writeSources(t, map[string]string{
		"main.py":    "import bad_dep\n",
		"bad_dep.py": "",
	})
	b := buildRequest(t, root, filepath.Join(root, "main.py"), tool)

	results, err := NewInvoker(b, logging.Discard()).Run(context.Background(), selectPlan(t, b))
	if err != nil {
		t.Fatal(err)
	}

	byBase := map[string]UnitResult{}
	for _, r := range results {
		byBase[filepath.Base(r.Unit)] = r
	}

	if got := byBase["main.py"]; got.Status != StatusSucceeded {
		t.Errorf("main.py should build despite sibling failure: %v (%v)", got.Status, got.Err)
	}
	bad := byBase["bad_dep.py"]
	if bad.Status != StatusFailed {
		t.Fatalf("bad_dep.py should fail, got %v", bad.Status)
	}
	if !strings.Contains(bad.Output, "compile error") {
		t.Errorf("diagnostic output not retained: %q", bad.Output)
	}
	if bad.Artifact != "" {
		t.Errorf("failed unit must not report an artifact")
	}

	// Intermediates stay behind for diagnosis when a unit failed.
	entries, err := os.ReadDir(b.Output)
	if err != nil {
		t.Fatal(err)
	}
	kept := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".pypack-") {
			kept = true
		}
	}
	if !kept {
		t.Error("scratch directory should be preserved after a failure")
	}
}

func TestInvokerMissingToolDetectedUpFront(t *testing.T) {
	root := writeSources(t, map[string]string{"main.py": ""})
	b := buildRequest(t, root, filepath.Join(root, "main.py"), "pypack-no-such-tool")

	_, err := NewInvoker(b, logging.Discard()).Run(context.Background(), selectPlan(t, b))

	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if unavailable.Tool != "pypack-no-such-tool" {
		t.Errorf("error should name the tool, got %q", unavailable.Tool)
	}
}

func TestInvokerCancellation(t *testing.T) {
	tool := stubCompiler(t)
	root := writeSources(t, map[string]string{"main.py": ""})
	b := buildRequest(t, root, filepath.Join(root, "main.py"), tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewInvoker(b, logging.Discard()).Run(ctx, selectPlan(t, b))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// No partial artifact under a final name.
	if _, err := os.Stat(filepath.Join(b.Output, "main.so")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("no artifact expected after cancellation, stat: %v", err)
	}

	// No scratch directory left behind either.
	entries, err := os.ReadDir(b.Output)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".pypack-") {
			t.Errorf("scratch directory %s left behind after cancellation", e.Name())
		}
	}
}
