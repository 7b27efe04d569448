package vfs

import (
	"io/fs"
	"path"
	"strings"

	"github.com/hack-pad/hackpadfs"
)

// Hackpad adapts a hackpadfs.FS to FS. Absolute names map to io/fs paths
// relative to the root of the wrapped filesystem.
type Hackpad struct {
	base hackpadfs.FS
}

// NewHackpad wraps base.
func NewHackpad(base hackpadfs.FS) *Hackpad {
	return &Hackpad{base: base}
}

// Base returns the wrapped filesystem.
func (h *Hackpad) Base() hackpadfs.FS {
	return h.base
}

// FSPath maps an absolute name to an io/fs path: "/" becomes "." and
// "/data/a.txt" becomes "data/a.txt".
func FSPath(name string) string {
	p := strings.TrimPrefix(Clean(name), "/")
	if p == "" {
		return "."
	}
	return p
}

// MkdirAll creates name and any missing parents.
func (h *Hackpad) MkdirAll(name string, perm fs.FileMode) error {
	return hackpadfs.MkdirAll(h.base, FSPath(name), perm)
}

// WriteFile writes data to name. The parent directory must exist.
func (h *Hackpad) WriteFile(name string, data []byte, perm fs.FileMode) error {
	p := FSPath(name)
	parent, err := hackpadfs.Stat(h.base, path.Dir(p))
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return &fs.PathError{Op: "open", Path: Clean(name), Err: hackpadfs.ErrNotDir}
	}
	return hackpadfs.WriteFullFile(h.base, p, data, perm)
}

// ReadFile returns the contents of name.
func (h *Hackpad) ReadFile(name string) ([]byte, error) {
	data, err := hackpadfs.ReadFile(h.base, FSPath(name))
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Stat returns file information for name.
func (h *Hackpad) Stat(name string) (fs.FileInfo, error) {
	return hackpadfs.Stat(h.base, FSPath(name))
}

// Remove removes a file or an empty directory.
func (h *Hackpad) Remove(name string) error {
	p := FSPath(name)
	info, err := hackpadfs.Stat(h.base, p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		entries, err := hackpadfs.ReadDir(h.base, p)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return &fs.PathError{Op: "remove", Path: Clean(name), Err: hackpadfs.ErrNotEmpty}
		}
	}
	return hackpadfs.Remove(h.base, p)
}

// WalkDir walks the tree rooted at root in lexical order, reporting
// absolute names.
func (h *Hackpad) WalkDir(root string, fn fs.WalkDirFunc) error {
	return fs.WalkDir(openOnly{h.base}, FSPath(root), func(p string, d fs.DirEntry, err error) error {
		return fn(Clean(p), d, err)
	})
}

// openOnly hides every method but Open, so fs.ReadDir falls back to
// ReadDirFile and sorts the entries.
type openOnly struct {
	fs.FS
}
