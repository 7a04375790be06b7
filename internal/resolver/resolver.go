// Package resolver builds the local dependency graph of a Python entry
// file. Starting at the entry, each unit is scanned once and every imported
// name is either resolved to a local source file or recorded as external.
package resolver

import (
	"context"
	"fmt"
	"path/filepath"

	pkgfs "github.com/pypack/pypack/internal/fs"
	"github.com/pypack/pypack/internal/logging"
	"github.com/pypack/pypack/internal/scanner"
)

// EntryUnresolvableError is fatal: the entry file itself could not be
// scanned, so there is nothing to build.
type EntryUnresolvableError struct {
	Path string
	Err  error
}

func (e *EntryUnresolvableError) Error() string {
	return fmt.Sprintf("entry unresolvable: %s: %v", e.Path, e.Err)
}

func (e *EntryUnresolvableError) Unwrap() error {
	return e.Err
}

// SourceUnit is one local source file participating in the build. Units are
// created when first referenced and scanned at most once per run.
type SourceUnit struct {
	Path     string   // canonical absolute path, unique key
	Imports  []string // raw imported names, first-occurrence order
	External []string // imported names that did not resolve to a local file
	Resolved bool     // scan completed (successfully or not)
	Err      error    // non-nil if the file could not be scanned
}

// Graph is the set of source units plus directed import edges, keyed by
// canonical path. It is built once by Resolve and read-only afterwards.
type Graph struct {
	Entry string // canonical entry path
	Root  string // project root (directory containing the entry)

	units map[string]*SourceUnit
	order []string            // unit paths in discovery order
	edges map[string][]string // importer path -> imported unit paths
}

// Unit returns the unit for the given canonical path, or nil.
func (g *Graph) Unit(path string) *SourceUnit {
	return g.units[path]
}

// Units returns all units in discovery order. The entry is always first.
func (g *Graph) Units() []*SourceUnit {
	units := make([]*SourceUnit, len(g.order))
	for i, p := range g.order {
		units[i] = g.units[p]
	}
	return units
}

// Imports returns the local unit paths imported by the unit at path.
func (g *Graph) Imports(path string) []string {
	return g.edges[path]
}

// Len returns the number of units in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

func (g *Graph) add(path string) *SourceUnit {
	if u, ok := g.units[path]; ok {
		return u
	}
	u := &SourceUnit{Path: path}
	g.units[path] = u
	g.order = append(g.order, path)
	return u
}

type Resolver struct {
	scan func(string) ([]string, error)
	log  *logging.Logger
}

func New(log *logging.Logger) *Resolver {
	return &Resolver{scan: scanner.Scan, log: log}
}

// WithScan overrides the import scan function. Used in tests.
func (r *Resolver) WithScan(scan func(string) ([]string, error)) *Resolver {
	r.scan = scan
	return r
}

// Resolve builds the dependency graph reachable from entry. The project
// root is the directory containing the entry file; imports resolve against
// the importing file's directory first, then the root.
//
// A dependency that cannot be scanned is kept in the graph with its error
// attached; only a failure to scan the entry itself is fatal. Cycles
// terminate because each unit is scanned exactly once.
func (r *Resolver) Resolve(ctx context.Context, entry string) (*Graph, error) {
	abs, err := filepath.Abs(entry)
	if err != nil {
		return nil, &EntryUnresolvableError{Path: entry, Err: err}
	}

	g := &Graph{
		Entry: abs,
		Root:  filepath.Dir(abs),
		units: map[string]*SourceUnit{},
		edges: map[string][]string{},
	}
	g.add(abs)

	queue := []string{abs}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var path string
		path, queue = queue[0], queue[1:]
		unit := g.units[path]
		if unit.Resolved {
			continue
		}
		unit.Resolved = true

		names, err := r.scan(path)
		if err != nil {
			if path == g.Entry {
				return nil, &EntryUnresolvableError{Path: path, Err: err}
			}
			r.log.Warnf("skipping unreadable dependency %s: %v", path, err)
			unit.Err = err
			continue
		}
		unit.Imports = names

		for _, name := range names {
			target, ok := r.resolveLocal(name, filepath.Dir(path), g.Root)
			if !ok {
				// Most imports are standard or third-party modules; they are
				// intentionally excluded from packaging, not errors.
				unit.External = append(unit.External, name)
				continue
			}
			if _, known := g.units[target]; !known {
				g.add(target)
				queue = append(queue, target)
			}
			g.edges[path] = append(g.edges[path], target)
		}

		r.log.Debugf("resolved %s: %d local, %d external",
			path, len(g.edges[path]), len(unit.External))
	}

	return g, nil
}

// resolveLocal maps an imported name to a local source file using a fixed
// search order: the importing file's directory, then the project root; in
// each, "<name>.py" before "<name>/__init__.py".
func (r *Resolver) resolveLocal(name, dir, root string) (string, bool) {
	for _, base := range []string{dir, root} {
		for _, candidate := range []string{
			filepath.Join(base, name+".py"),
			filepath.Join(base, name, "__init__.py"),
		} {
			if pkgfs.RegularFile(candidate) {
				abs, err := filepath.Abs(candidate)
				if err != nil {
					continue
				}
				return abs, true
			}
		}
	}
	return "", false
}
