// Package builder assembles the archive-format artifact: the entry file and
// its included dependencies copied verbatim into a zip container. No
// external tool is involved; this is the fallback path for source-level
// dependency distribution.
package builder

import (
	"archive/zip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pypack/pypack/internal/backend"
	"github.com/pypack/pypack/internal/banner"
	pkgfs "github.com/pypack/pypack/internal/fs"
	"github.com/pypack/pypack/internal/fs/mountfs"
	"github.com/pypack/pypack/internal/logging"
)

// Builder assembles one zip artifact. Configure with the With… methods,
// then call Build once.
type Builder struct {
	entry    string   // entry file path
	root     string   // project root; dependency paths are relative to it
	units    []string // dependency unit paths to include
	output   string   // final artifact path
	banner   string   // optional banner file
	excluded []string // glob patterns filtering dependency files
	log      *logging.Logger
}

func New() *Builder {
	return &Builder{log: logging.Discard()}
}

func (b *Builder) WithEntry(entry, root string) *Builder {
	b.entry = entry
	b.root = root
	return b
}

func (b *Builder) WithUnits(units []string) *Builder {
	b.units = units
	return b
}

func (b *Builder) WithOutput(path string) *Builder {
	b.output = path
	return b
}

func (b *Builder) WithBanner(path string) *Builder {
	b.banner = path
	return b
}

func (b *Builder) WithExcluded(excluded []string) *Builder {
	b.excluded = excluded
	return b
}

func (b *Builder) WithLogger(log *logging.Logger) *Builder {
	b.log = log
	return b
}

// Build writes the archive and returns the per-run result. The entry sits
// at the archive root, dependencies under "deps/", mirroring their location
// relative to the project root. The archive is written to a temporary name
// and renamed into place only when complete.
func (b *Builder) Build(ctx context.Context) backend.UnitResult {
	res := backend.UnitResult{Unit: b.entry}

	fsys, err := b.layout()
	if err != nil {
		res.Status = backend.StatusFailed
		res.Err = err
		return res
	}

	if err := os.MkdirAll(filepath.Dir(b.output), 0o755); err != nil {
		res.Status = backend.StatusFailed
		res.Err = err
		return res
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.output), ".pypack-*.zip")
	if err != nil {
		res.Status = backend.StatusFailed
		res.Err = err
		return res
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if warning, err := b.write(ctx, tmp, fsys); err != nil {
		tmp.Close()
		res.Status = backend.StatusFailed
		res.Err = err
		return res
	} else if warning != "" {
		res.Warning = warning
	}

	if err := tmp.Close(); err != nil {
		res.Status = backend.StatusFailed
		res.Err = err
		return res
	}
	if err := os.Rename(tmp.Name(), b.output); err != nil {
		res.Status = backend.StatusFailed
		res.Err = err
		return res
	}

	res.Status = backend.StatusSucceeded
	res.Artifact = b.output
	b.log.Debugf("assembled archive %s (%d dependency units)", b.output, len(b.units))
	return res
}

// layout composes the archive tree: entry at the root, dependencies
// mirrored under deps/.
func (b *Builder) layout() (fs.FS, error) {
	entryFS, err := pkgfs.NewFilterFS(os.DirFS(filepath.Dir(b.entry)), []string{filepath.Base(b.entry)}, nil)
	if err != nil {
		return nil, err
	}
	mounts := map[string]fs.FS{".": entryFS}

	if len(b.units) > 0 {
		included := make([]string, 0, len(b.units))
		for _, unit := range b.units {
			rel, err := filepath.Rel(b.root, unit)
			if err != nil {
				return nil, err
			}
			included = append(included, filepath.ToSlash(rel))
		}
		depsFS, err := pkgfs.NewFilterFS(os.DirFS(b.root), included, b.excluded)
		if err != nil {
			return nil, err
		}
		ok, err := pkgfs.ContainsFiles(depsFS)
		if err != nil {
			return nil, err
		}
		if ok {
			mounts["deps"] = depsFS
		}
	}

	return mountfs.New(mounts), nil
}

// write streams the composed tree into the zip. fs.WalkDir visits entries
// in lexical order, which keeps the archive deterministic across runs.
func (b *Builder) write(ctx context.Context, w io.Writer, fsys fs.FS) (warning string, err error) {
	zw := zip.NewWriter(w)

	if b.banner != "" {
		bs, err := banner.Load(b.banner)
		if err != nil {
			warning = "banner injection failed: " + err.Error()
			b.log.Warnf("banner injection failed for %s: %v", b.output, err)
		} else if err := zw.SetComment(string(bs)); err != nil {
			warning = "banner injection failed: " + err.Error()
			b.log.Warnf("banner injection failed for %s: %v", b.output, err)
		}
	}

	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := zw.Create(path)
		if err != nil {
			return err
		}
		src, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(f, src)
		return err
	})
	if err != nil {
		zw.Close()
		return warning, err
	}
	return warning, zw.Close()
}
