package fs

import (
	"io/fs"
	"path"

	"github.com/gobwas/glob"
)

// filterFS wraps an fs.FS and hides files based on include/exclude glob
// patterns. Directories always pass; filtering applies to files only, so
// walks can descend everywhere and still see a consistent tree.
type filterFS struct {
	fsys     fs.FS
	included []glob.Glob
	excluded []glob.Glob
}

var (
	_ fs.FS        = (*filterFS)(nil)
	_ fs.ReadDirFS = (*filterFS)(nil)
	_ fs.StatFS    = (*filterFS)(nil)
)

// NewFilterFS returns a filtered view of fsys. A file is visible when it
// matches at least one of the included patterns (or included is empty) and
// none of the excluded patterns. Patterns use '/' separators and are matched
// against the full slash path within fsys.
func NewFilterFS(fsys fs.FS, included, excluded []string) (fs.FS, error) {
	f := filterFS{fsys: fsys}
	for _, pattern := range included {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		f.included = append(f.included, g)
	}
	for _, pattern := range excluded {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		f.excluded = append(f.excluded, g)
	}
	return &f, nil
}

func (f *filterFS) visible(name string) bool {
	if len(f.included) > 0 {
		ok := false
		for _, g := range f.included {
			if g.Match(name) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, g := range f.excluded {
		if g.Match(name) {
			return false
		}
	}
	return true
}

func (f *filterFS) Open(name string) (fs.File, error) {
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if !fi.IsDir() && !f.visible(name) {
		file.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return file, nil
}

func (f *filterFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if e.IsDir() || f.visible(path.Join(name, e.Name())) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (f *filterFS) Stat(name string) (fs.FileInfo, error) {
	fi, err := fs.Stat(f.fsys, name)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() && !f.visible(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fi, nil
}
