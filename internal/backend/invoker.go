package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pypack/pypack/internal/config"
	"github.com/pypack/pypack/internal/logging"
	"github.com/pypack/pypack/internal/plan"
	"github.com/pypack/pypack/internal/pool"
	"github.com/pypack/pypack/internal/progress"
)

// Invoker executes the compile and bundle steps of a plan.
type Invoker struct {
	build *config.Build
	log   *logging.Logger
	bar   *progress.Bar

	// command overrides subprocess construction in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewInvoker(b *config.Build, log *logging.Logger) *Invoker {
	return &Invoker{build: b, log: log, command: exec.CommandContext}
}

func (inv *Invoker) WithProgress(bar *progress.Bar) *Invoker {
	inv.bar = bar
	return inv
}

// WithCommand overrides how subprocesses are constructed. Used in tests.
func (inv *Invoker) WithCommand(fn func(ctx context.Context, name string, args ...string) *exec.Cmd) *Invoker {
	inv.command = fn
	return inv
}

// Run executes every step of the plan, bounded by the configured worker
// count, and returns one result per step sorted by unit path. The error
// return is reserved for fatal conditions: a missing backend tool or
// cancellation. Per-unit failures land in the results.
func (inv *Invoker) Run(ctx context.Context, p *plan.Plan) ([]UnitResult, error) {
	tool, err := inv.lookupTool(p)
	if err != nil {
		return nil, err
	}

	// Scratch space lives under the output directory so that the final
	// rename is atomic on the same filesystem.
	if err := os.MkdirAll(inv.build.Output, 0o755); err != nil {
		return nil, err
	}
	scratch, err := os.MkdirTemp(inv.build.Output, ".pypack-")
	if err != nil {
		return nil, err
	}

	results := make([]UnitResult, len(p.Steps))
	var mu sync.Mutex

	workers := pool.New(ctx, inv.build.Workers)
	for i, step := range p.Steps {
		workers.Go(func(ctx context.Context) error {
			res := inv.runStep(ctx, tool, step, filepath.Join(scratch, fmt.Sprintf("unit-%d", i)))
			mu.Lock()
			results[i] = res
			mu.Unlock()
			inv.bar.Add(1)
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		// Cancellation is not a unit failure; nothing in scratch is worth
		// keeping for diagnosis.
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			inv.log.Warnf("failed to clean up scratch directory %s: %v", scratch, rmErr)
		}
		return nil, err
	}

	// Remove the scratch root unless a failed unit left intermediates
	// behind for diagnosis.
	failed := slices.ContainsFunc(results, func(r UnitResult) bool {
		return r.Status == StatusFailed
	})
	if !failed {
		if err := os.RemoveAll(scratch); err != nil {
			inv.log.Warnf("failed to clean up scratch directory %s: %v", scratch, err)
		}
	} else {
		inv.log.Debugf("keeping intermediates under %s for diagnosis", scratch)
	}

	slices.SortFunc(results, func(a, b UnitResult) int {
		return strings.Compare(a.Unit, b.Unit)
	})
	return results, nil
}

// lookupTool resolves the tool the plan needs before any invocation.
func (inv *Invoker) lookupTool(p *plan.Plan) (string, error) {
	switch p.Format {
	case config.FormatPyd, config.FormatSo:
		return lookTool(inv.build.CompileTool(), "install Cython to build dynamic libraries")
	case config.FormatExe:
		return lookTool(inv.build.BundleTool(), "install PyInstaller to build executables")
	}
	return "", nil // archive assembly runs in-process
}

func (inv *Invoker) runStep(ctx context.Context, tool string, step plan.Step, scratch string) UnitResult {
	res := UnitResult{Unit: step.Unit}

	if err := os.MkdirAll(scratch, 0o755); err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	var produced string
	var output []byte
	var err error
	switch step.Kind {
	case plan.CompileNative:
		produced, output, err = inv.compile(ctx, tool, step, scratch)
	case plan.BundleExecutable:
		produced, output, err = inv.bundle(ctx, tool, step, scratch)
	default:
		res.Status = StatusSkipped
		res.Warning = fmt.Sprintf("no backend for step kind %v", step.Kind)
		return res
	}

	res.Output = string(output)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("unit %s: %w", step.Unit, err)
		inv.log.Warnf("build failed for %s: %v", step.Unit, err)
		return res
	}

	if err := inv.install(produced, step.Output); err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	res.Status = StatusSucceeded
	res.Artifact = step.Output
	inv.log.Debugf("built %s -> %s", step.Unit, step.Output)
	return res
}

// compile invokes the compile-to-native tool on a copy of the unit inside
// the scratch directory and locates the produced dynamic library there.
func (inv *Invoker) compile(ctx context.Context, tool string, step plan.Step, scratch string) (string, []byte, error) {
	if err := copyFile(step.Unit, filepath.Join(scratch, filepath.Base(step.Unit))); err != nil {
		return "", nil, err
	}

	args := []string{"-b", "-3"}
	if step.Optimize {
		args = append(args,
			"-X", "boundscheck=False",
			"-X", "wraparound=False",
		)
	}
	args = append(args, filepath.Base(step.Unit))

	cmd := inv.command(ctx, tool, args...)
	cmd.Dir = scratch
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", output, fmt.Errorf("%s: %w", tool, err)
	}

	produced, err := findArtifact(scratch, []string{".so", ".pyd"})
	if err != nil {
		return "", output, err
	}
	return produced, output, nil
}

// bundle invokes the bundle-to-executable tool on the entry file. Local
// dependency units are passed along so they end up inside the bundle.
func (inv *Invoker) bundle(ctx context.Context, tool string, step plan.Step, scratch string) (string, []byte, error) {
	name := strings.TrimSuffix(filepath.Base(step.Output), filepath.Ext(step.Output))
	dist := filepath.Join(scratch, "dist")

	args := []string{
		"--onefile",
		"--name", name,
		"--distpath", dist,
		"--workpath", filepath.Join(scratch, "work"),
		"--specpath", scratch,
	}
	if step.Optimize {
		args = append(args, "--strip")
	}
	for _, input := range step.Inputs {
		args = append(args, "--paths", filepath.Dir(input))
		args = append(args, "--hidden-import", moduleName(input))
	}
	args = append(args, step.Unit)

	cmd := inv.command(ctx, tool, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", output, fmt.Errorf("%s: %w", tool, err)
	}

	produced := filepath.Join(dist, filepath.Base(step.Output))
	if _, err := os.Stat(produced); err != nil {
		// Tool may name the output differently; take whatever landed in dist.
		produced, err = findArtifact(dist, nil)
		if err != nil {
			return "", output, err
		}
	}
	return produced, output, nil
}

// install moves a produced artifact from scratch space to its final path,
// replacing any previous artifact atomically.
func (inv *Invoker) install(produced, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}
	if err := os.Rename(produced, final); err == nil {
		return nil
	}
	// Cross-device fallback: copy to a sibling temp name, then rename.
	tmp := final + ".tmp"
	if err := copyFile(produced, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// moduleName derives the Python module name of a local source file.
func moduleName(path string) string {
	base := filepath.Base(path)
	if base == "__init__.py" {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// findArtifact returns the first regular file under dir matching one of the
// extensions (any regular file when exts is empty).
func findArtifact(dir string, exts []string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return err
		}
		if len(exts) == 0 || slices.Contains(exts, filepath.Ext(path)) {
			// Skip the copied-in source itself.
			if filepath.Ext(path) != ".py" {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("backend produced no artifact under %s", dir)
	}
	return found, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
