// Package packager is the public entry point: it resolves the dependency
// graph of a Python entry file, selects a build plan for the requested
// format, runs the backend steps and assembles the final artifacts.
package packager

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pypack/pypack/internal/backend"
	"github.com/pypack/pypack/internal/banner"
	"github.com/pypack/pypack/internal/builder"
	"github.com/pypack/pypack/internal/config"
	"github.com/pypack/pypack/internal/logging"
	"github.com/pypack/pypack/internal/plan"
	"github.com/pypack/pypack/internal/progress"
	"github.com/pypack/pypack/internal/report"
	"github.com/pypack/pypack/internal/resolver"
)

// Result is the outcome of one packaging run.
type Result struct {
	Graph   *resolver.Graph      // fully resolved graph, also with --no-deps
	Units   []backend.UnitResult // one per attempted or skipped unit, sorted by path
	Success bool                 // true when no unit's own step failed
}

// Packager runs build requests. The zero value is not usable; construct
// with New.
type Packager struct {
	log      *logging.Logger
	progress io.Writer
}

func New(log *logging.Logger) *Packager {
	return &Packager{log: log}
}

// WithProgress enables a progress bar on w, one tick per backend step.
func (p *Packager) WithProgress(w io.Writer) *Packager {
	p.progress = w
	return p
}

// Run executes one build request end to end. The request must have been
// prepared. Fatal errors (entry unresolvable, unsupported format, backend
// unavailable, cancellation) are returned; per-unit failures are reported
// in the result with Success set to false.
func (p *Packager) Run(ctx context.Context, b *config.Build) (*Result, error) {
	graph, err := resolver.New(p.log).Resolve(ctx, b.Entry)
	if err != nil {
		return nil, err
	}
	p.log.Infof("resolved %d local unit(s) from %s", graph.Len(), b.Entry)

	steps, err := plan.Select(b, graph)
	if err != nil {
		return nil, err
	}

	var results []backend.UnitResult
	switch steps.Format {
	case config.FormatZip:
		res := p.assemble(ctx, b, steps)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, res)
	default:
		var bar *progress.Bar
		if p.progress != nil {
			bar = progress.New(len(steps.Steps), "building", p.progress)
			defer bar.Finish()
		}
		invoker := backend.NewInvoker(b, p.log).WithProgress(bar)
		results, err = invoker.Run(ctx, steps)
		if err != nil {
			return nil, err
		}
		p.injectBanners(b, results)
	}

	for _, s := range steps.Skipped {
		results = append(results, backend.UnitResult{
			Unit:    s.Unit,
			Status:  backend.StatusSkipped,
			Warning: s.Reason,
		})
	}
	slices.SortFunc(results, func(a, b backend.UnitResult) int {
		return strings.Compare(a.Unit, b.Unit)
	})

	return &Result{
		Graph:   graph,
		Units:   results,
		Success: !report.Failed(results),
	}, nil
}

func (p *Packager) assemble(ctx context.Context, b *config.Build, steps *plan.Plan) backend.UnitResult {
	step := steps.Steps[0]
	return builder.New().
		WithEntry(step.Unit, filepath.Dir(step.Unit)).
		WithUnits(step.Inputs).
		WithOutput(step.Output).
		WithBanner(b.Banner).
		WithExcluded(b.Excluded).
		WithLogger(p.log).
		Build(ctx)
}

// injectBanners stamps successfully produced binary artifacts. A failed
// injection downgrades to a warning; the artifact is kept as produced.
func (p *Packager) injectBanners(b *config.Build, results []backend.UnitResult) {
	if b.Banner == "" {
		return
	}

	bs, err := banner.Load(b.Banner)
	if err != nil {
		for i := range results {
			if results[i].Status == backend.StatusSucceeded {
				results[i].Warning = "banner injection failed: " + err.Error()
			}
		}
		p.log.Warnf("banner injection failed: %v", err)
		return
	}

	var injector banner.Injector = banner.Trailer{}
	for i := range results {
		if results[i].Status != backend.StatusSucceeded {
			continue
		}
		if err := injector.Inject(results[i].Artifact, bs); err != nil {
			results[i].Warning = "banner injection failed: " + err.Error()
			p.log.Warnf("banner injection failed for %s: %v", results[i].Artifact, err)
		}
	}
}

// IsFatalConfig reports whether err is a configuration-class fatal error
// (entry unresolvable or unsupported format) as opposed to a backend one.
func IsFatalConfig(err error) bool {
	var entry *resolver.EntryUnresolvableError
	var format *config.UnsupportedFormatError
	return errors.As(err, &entry) || errors.As(err, &format)
}

// IsBackendUnavailable reports whether err means a required external tool
// is not installed.
func IsBackendUnavailable(err error) bool {
	var unavailable *backend.UnavailableError
	return errors.As(err, &unavailable)
}
