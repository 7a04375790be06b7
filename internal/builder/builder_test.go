package builder

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pypack/pypack/internal/backend"
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

func readArchive(t *testing.T, path string) (map[string]string, string) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		bs, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		contents[f.Name] = string(bs)
	}
	return contents, zr.Comment
}

func TestBuildRoundTrip(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":         "import helpers\nimport pkg\n",
		"helpers.py":      "def f():\n    return 1\n",
		"pkg/__init__.py": "value = 42\n",
	})
	output := filepath.Join(t.TempDir(), "main.zip")

	res := New().
		WithEntry(filepath.Join(root, "main.py"), root).
		WithUnits([]string{
			filepath.Join(root, "helpers.py"),
			filepath.Join(root, "pkg", "__init__.py"),
		}).
		WithOutput(output).
		Build(context.Background())

	if res.Status != backend.StatusSucceeded {
		t.Fatalf("build failed: %v", res.Err)
	}

	contents, _ := readArchive(t, output)
	exp := map[string]string{
		"main.py":              "import helpers\nimport pkg\n",
		"deps/helpers.py":      "def f():\n    return 1\n",
		"deps/pkg/__init__.py": "value = 42\n",
	}
	if diff := cmp.Diff(exp, contents); diff != "" {
		t.Errorf("extracted archive differs from sources (-want +got):\n%s", diff)
	}
}

func TestBuildEntryOnly(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":    "import helpers\n",
		"helpers.py": "x = 1\n",
	})
	output := filepath.Join(t.TempDir(), "main.zip")

	res := New().
		WithEntry(filepath.Join(root, "main.py"), root).
		WithOutput(output).
		Build(context.Background())

	if res.Status != backend.StatusSucceeded {
		t.Fatalf("build failed: %v", res.Err)
	}

	contents, _ := readArchive(t, output)
	if diff := cmp.Diff(map[string]string{"main.py": "import helpers\n"}, contents); diff != "" {
		t.Errorf("entry-only archive (-want +got):\n%s", diff)
	}
}

func TestBuildExcludedPatterns(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":   "import a\nimport secret\n",
		"a.py":      "",
		"secret.py": "token = 'x'\n",
	})
	output := filepath.Join(t.TempDir(), "main.zip")

	res := New().
		WithEntry(filepath.Join(root, "main.py"), root).
		WithUnits([]string{filepath.Join(root, "a.py"), filepath.Join(root, "secret.py")}).
		WithExcluded([]string{"secret.py"}).
		WithOutput(output).
		Build(context.Background())

	if res.Status != backend.StatusSucceeded {
		t.Fatalf("build failed: %v", res.Err)
	}

	contents, _ := readArchive(t, output)
	if _, ok := contents["deps/secret.py"]; ok {
		t.Error("excluded file must not be archived")
	}
	if _, ok := contents["deps/a.py"]; !ok {
		t.Error("non-excluded dependency missing")
	}
}

func TestBuildBannerComment(t *testing.T) {
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})
	bannerPath := filepath.Join(root, "BANNER")
	if err := os.WriteFile(bannerPath, []byte("built by pypack"), 0o600); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(t.TempDir(), "main.zip")

	res := New().
		WithEntry(filepath.Join(root, "main.py"), root).
		WithBanner(bannerPath).
		WithOutput(output).
		Build(context.Background())

	if res.Status != backend.StatusSucceeded {
		t.Fatalf("build failed: %v", res.Err)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}

	_, comment := readArchive(t, output)
	if comment != "built by pypack" {
		t.Errorf("banner not embedded as archive comment, got %q", comment)
	}
}

func TestBuildBannerFailureIsWarning(t *testing.T) {
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})
	output := filepath.Join(t.TempDir(), "main.zip")

	res := New().
		WithEntry(filepath.Join(root, "main.py"), root).
		WithBanner(filepath.Join(root, "missing-banner")).
		WithOutput(output).
		Build(context.Background())

	// The artifact is produced and the build still succeeds.
	if res.Status != backend.StatusSucceeded {
		t.Fatalf("banner failure must not fail the build: %v", res.Err)
	}
	if res.Warning == "" {
		t.Error("expected a banner warning")
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("artifact should exist despite banner failure: %v", err)
	}
}

func TestBuildOverwritesAtomically(t *testing.T) {
	root := writeTree(t, map[string]string{"main.py": "x = 1\n"})
	outDir := t.TempDir()
	output := filepath.Join(outDir, "main.zip")
	if err := os.WriteFile(output, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	res := New().
		WithEntry(filepath.Join(root, "main.py"), root).
		WithOutput(output).
		Build(context.Background())

	if res.Status != backend.StatusSucceeded {
		t.Fatalf("build failed: %v", res.Err)
	}
	if _, err := zip.OpenReader(output); err != nil {
		t.Fatalf("pre-existing file should be replaced by a complete archive: %v", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("no temp files should remain, found %d entries", len(entries))
	}
}
