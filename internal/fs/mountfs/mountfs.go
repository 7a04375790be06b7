// This is based on testing/fstest, go1.25.2:
// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// Altered to take a map of prefixes to fs.FS instances,
// allowing us to simplify the code a little.

package mountfs

import (
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// A MountFS composes existing fs.FS instances under prefixes. The archive
// assembler uses it to place the entry file at the root and dependencies
// under "deps/" without copying anything up front.
//
// The prefix "." mounts at the root. Parent directories for the prefixes
// are synthesized as needed. The map must not change while the filesystem
// is in use.
type MountFS map[string]fs.FS

func New(m map[string]fs.FS) MountFS {
	return m
}

var (
	_ fs.FS        = MountFS(nil)
	_ fs.ReadDirFS = MountFS(nil)
)

// resolve maps name to a mounted filesystem and the name within it.
// Explicit prefixes win over the root mount, so a mount can't be shadowed
// by a same-named directory in the root filesystem.
func (fsys MountFS) resolve(name string) (fs.FS, string, bool) {
	for prefix, sub := range fsys {
		if prefix == "." {
			continue
		}
		if name == prefix {
			return sub, ".", true
		}
		if strings.HasPrefix(name, prefix+"/") {
			return sub, name[len(prefix)+1:], true
		}
	}
	if sub, ok := fsys["."]; ok {
		if _, err := fs.Stat(sub, name); err == nil {
			return sub, name, true
		}
	}
	return nil, "", false
}

func (fsys MountFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if sub, rest, ok := fsys.resolve(name); ok {
		f, err := sub.Open(rest)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if !fi.IsDir() {
			return f, nil
		}
		// Directories are served from the merged listing so mount
		// prefixes below name show up.
		f.Close()
	} else if _, ok := fsys.synthesized(name); !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	entries, err := fsys.ReadDir(name)
	if err != nil {
		return nil, err
	}
	return &dirFile{info: dirInfo{name: path.Base(name)}, entries: entries}, nil
}

func (fsys MountFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	var entries []fs.DirEntry
	found := false
	seen := map[string]bool{}

	if sub, rest, ok := fsys.resolve(name); ok {
		es, err := fs.ReadDir(sub, rest)
		if err != nil && name != "." {
			return nil, err
		}
		if err == nil {
			found = true
		}
		for _, e := range es {
			entries = append(entries, e)
			seen[e.Name()] = true
		}
	}

	// Add synthesized directories for mount prefixes below name.
	if synth, ok := fsys.synthesized(name); ok {
		found = true
		for _, e := range synth {
			if !seen[e.Name()] {
				entries = append(entries, e)
			}
		}
	}

	if !found {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

// synthesized returns directory entries for mount prefixes directly below
// name, and whether name is on the path to any mount at all.
func (fsys MountFS) synthesized(name string) ([]fs.DirEntry, bool) {
	var entries []fs.DirEntry
	onPath := false
	seen := map[string]bool{}
	for prefix := range fsys {
		if prefix == "." {
			if name == "." {
				onPath = true
			}
			continue
		}
		var below string
		if name == "." {
			below = prefix
		} else if strings.HasPrefix(prefix, name+"/") {
			below = prefix[len(name)+1:]
		} else {
			continue
		}
		onPath = true
		first, _, _ := strings.Cut(below, "/")
		if !seen[first] {
			seen[first] = true
			entries = append(entries, dirEntry{dirInfo{name: first}})
		}
	}
	return entries, onPath
}

// dirInfo is the FileInfo for a synthesized directory.
type dirInfo struct {
	name string
}

func (i dirInfo) Name() string       { return i.name }
func (i dirInfo) Size() int64        { return 0 }
func (i dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0555 }
func (i dirInfo) ModTime() time.Time { return time.Time{} }
func (i dirInfo) IsDir() bool        { return true }
func (i dirInfo) Sys() any           { return nil }

type dirEntry struct {
	info dirInfo
}

func (e dirEntry) Name() string               { return e.info.name }
func (e dirEntry) IsDir() bool                { return true }
func (e dirEntry) Type() fs.FileMode          { return fs.ModeDir }
func (e dirEntry) Info() (fs.FileInfo, error) { return e.info, nil }

type dirFile struct {
	info    dirInfo
	entries []fs.DirEntry
	offset  int
}

func (f *dirFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *dirFile) Close() error               { return nil }

func (f *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: f.info.name, Err: fs.ErrInvalid}
}

func (f *dirFile) ReadDir(count int) ([]fs.DirEntry, error) {
	n := len(f.entries) - f.offset
	if n == 0 && count > 0 {
		return nil, io.EOF
	}
	if count > 0 && n > count {
		n = count
	}
	entries := f.entries[f.offset : f.offset+n]
	f.offset += n
	return entries, nil
}
