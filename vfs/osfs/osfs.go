// Package osfs provides a vfs.FS rooted at a host directory.
//
// The filesystem is a hackpadfs/os subtree, so names cannot climb out of
// the root through "..". Writes refuse to pass through symbolic links, and
// files are written to a temporary name and renamed into place.
package osfs

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/hack-pad/hackpadfs"
	hos "github.com/hack-pad/hackpadfs/os"

	"github.com/meigma/bundle/vfs"
)

const tempPrefix = ".bundle-"

var errSymlink = errors.New("path passes through a symbolic link")

// FS is a vfs.FS backed by a host directory.
type FS struct {
	*vfs.Hackpad
	dir string
}

// Open creates dir if needed and returns a filesystem rooted there.
func Open(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("osfs: dir is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	host := hos.NewFS()
	root, err := host.FromOSPath(abs)
	if err != nil {
		return nil, fmt.Errorf("osfs: %w", err)
	}
	if err := hackpadfs.MkdirAll(host, root, 0o750); err != nil {
		return nil, err
	}
	sub, err := host.Sub(root)
	if err != nil {
		return nil, fmt.Errorf("osfs: %w", err)
	}
	return &FS{Hackpad: vfs.NewHackpad(sub), dir: abs}, nil
}

// Dir returns the host directory backing the filesystem.
func (f *FS) Dir() string {
	return f.dir
}

// MkdirAll creates name and any missing parents.
func (f *FS) MkdirAll(name string, perm fs.FileMode) error {
	if err := f.checkLinks("mkdir", vfs.FSPath(name)); err != nil {
		return err
	}
	return f.Hackpad.MkdirAll(name, perm)
}

// WriteFile writes data to a temporary file next to name and renames it
// into place, so readers never observe a partially written file.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	target := vfs.FSPath(name)
	if err := f.checkLinks("open", path.Dir(target)); err != nil {
		return err
	}
	tmp, err := tempName(target)
	if err != nil {
		return err
	}

	if err := f.Hackpad.WriteFile(tmp, data, perm); err != nil {
		_ = hackpadfs.Remove(f.Base(), vfs.FSPath(tmp)) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := hackpadfs.Rename(f.Base(), vfs.FSPath(tmp), target); err != nil {
		_ = hackpadfs.Remove(f.Base(), vfs.FSPath(tmp)) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", vfs.Clean(name), err)
	}
	return nil
}

// WalkDir walks the tree rooted at root, reporting absolute names.
// Temporary files left by interrupted writes are not reported.
func (f *FS) WalkDir(root string, fn fs.WalkDirFunc) error {
	return f.Hackpad.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if d != nil && !d.IsDir() && strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		return fn(name, d, err)
	})
}

// checkLinks fails if any existing element of p is a symbolic link.
// Elements past the first missing one are not checked; MkdirAll creates
// them as plain directories.
func (f *FS) checkLinks(op, p string) error {
	if p == "." {
		return nil
	}
	parts := strings.Split(p, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		info, err := hackpadfs.Lstat(f.Base(), prefix)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return &fs.PathError{Op: op, Path: vfs.Clean(prefix), Err: errSymlink}
		}
	}
	return nil
}

// tempName returns an absolute name for a temporary sibling of target.
func tempName(target string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return vfs.Clean(path.Join(path.Dir(target), tempPrefix+hex.EncodeToString(b[:]))), nil
}
