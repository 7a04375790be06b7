// Package plan maps a build request and a resolved dependency graph to the
// concrete backend steps that produce the requested artifacts.
package plan

import (
	"path/filepath"
	"strings"

	"github.com/pypack/pypack/internal/config"
	"github.com/pypack/pypack/internal/resolver"
)

// Kind selects the backend strategy of a step.
type Kind int

const (
	// CompileNative invokes the compile-to-native tool on one source unit.
	CompileNative Kind = iota
	// BundleExecutable invokes the bundle-to-executable tool on the entry,
	// with dependencies passed as additional inputs.
	BundleExecutable
	// AssembleArchive copies sources verbatim into a compressed container,
	// without any external tool.
	AssembleArchive
)

func (k Kind) String() string {
	switch k {
	case CompileNative:
		return "compile"
	case BundleExecutable:
		return "bundle"
	case AssembleArchive:
		return "archive"
	}
	return "unknown"
}

// Step is one backend invocation. Unit is the primary source file; Inputs
// carries additional local units for bundle and archive steps.
type Step struct {
	Kind     Kind
	Unit     string
	Inputs   []string
	Output   string
	Optimize bool
}

// SkippedUnit records a unit that is part of the graph but cannot be built,
// together with the reason. It surfaces in the final report.
type SkippedUnit struct {
	Unit   string
	Reason string
}

// Plan is the ordered list of backend steps for one run.
type Plan struct {
	Format  config.Format
	Steps   []Step
	Skipped []SkippedUnit
}

// Select maps the requested format and flags plus the dependency graph to
// backend steps. The graph is always fully resolved at this point; when
// include-dependencies is off, only the entry unit is acted on and the rest
// of the graph serves diagnostics.
func Select(b *config.Build, g *resolver.Graph) (*Plan, error) {
	p := Plan{Format: b.TargetFormat()}

	includeDeps := b.IncludeDepsOrDefault()

	var deps []*resolver.SourceUnit
	for _, u := range g.Units() {
		if u.Path == g.Entry {
			continue
		}
		if u.Err != nil {
			// Unreadable units stay in the report even when dependencies
			// are not built.
			p.Skipped = append(p.Skipped, SkippedUnit{Unit: u.Path, Reason: u.Err.Error()})
			continue
		}
		if includeDeps {
			deps = append(deps, u)
		}
	}

	switch p.Format {
	case config.FormatPyd, config.FormatSo:
		p.Steps = append(p.Steps, Step{
			Kind:     CompileNative,
			Unit:     g.Entry,
			Output:   unitOutput(b, g, g.Entry),
			Optimize: b.OptimizeOrDefault(),
		})
		for _, u := range deps {
			p.Steps = append(p.Steps, Step{
				Kind:     CompileNative,
				Unit:     u.Path,
				Output:   unitOutput(b, g, u.Path),
				Optimize: b.OptimizeOrDefault(),
			})
		}

	case config.FormatExe:
		// Always a single bundle step; dependencies ride along as inputs
		// and are never compiled independently.
		step := Step{
			Kind:     BundleExecutable,
			Unit:     g.Entry,
			Output:   filepath.Join(b.Output, stem(g.Entry)+p.Format.Ext()),
			Optimize: b.OptimizeOrDefault(),
		}
		for _, u := range deps {
			step.Inputs = append(step.Inputs, u.Path)
		}
		p.Steps = append(p.Steps, step)

	case config.FormatZip:
		step := Step{
			Kind:   AssembleArchive,
			Unit:   g.Entry,
			Output: filepath.Join(b.Output, stem(g.Entry)+p.Format.Ext()),
		}
		for _, u := range deps {
			step.Inputs = append(step.Inputs, u.Path)
		}
		p.Steps = append(p.Steps, step)

	default:
		return nil, &config.UnsupportedFormatError{Value: p.Format.String()}
	}

	return &p, nil
}

// unitOutput mirrors the unit's location relative to the project root under
// the output directory, with the extension swapped for the target format.
func unitOutput(b *config.Build, g *resolver.Graph, unit string) string {
	rel, err := filepath.Rel(g.Root, unit)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(unit)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + b.TargetFormat().Ext()
	return filepath.Join(b.Output, rel)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
