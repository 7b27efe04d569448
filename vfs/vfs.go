// Package vfs defines the virtual filesystem bundles are extracted into and
// the durable mount is synchronized from.
//
// Names are slash-separated absolute paths such as "/data/a.txt". Every
// implementation cleans names with [Clean] before use, so "data/a.txt" and
// "/data//a.txt" refer to the same file.
package vfs

import (
	"io/fs"
	"path"
	"strings"
)

// FS is a writable virtual filesystem.
//
// Implementations must be safe for concurrent use.
type FS interface {
	// MkdirAll creates a directory and any missing parents.
	// Existing directories are not an error.
	MkdirAll(name string, perm fs.FileMode) error

	// WriteFile writes data to the named file, replacing it if it exists.
	// The parent directory must exist.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// ReadFile returns the contents of the named file.
	ReadFile(name string) ([]byte, error)

	// Stat returns file information for name.
	Stat(name string) (fs.FileInfo, error)

	// Remove removes a file or an empty directory.
	Remove(name string) error

	// WalkDir walks the tree rooted at root in lexical order, calling fn
	// with absolute names. It follows fs.WalkDir semantics for SkipDir
	// and SkipAll.
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// Clean returns the canonical absolute form of name.
func Clean(name string) string {
	return path.Clean("/" + name)
}

// Join joins a mount path and a relative entry name into an absolute name.
func Join(mount, name string) string {
	return Clean(mount + "/" + name)
}

// Rel returns name relative to mount and whether name lies within mount.
// The mount itself is reported as ".".
func Rel(mount, name string) (string, bool) {
	mount = Clean(mount)
	name = Clean(name)
	if name == mount {
		return ".", true
	}
	prefix := mount
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}

// Exists reports whether name exists in fsys.
func Exists(fsys FS, name string) bool {
	_, err := fsys.Stat(name)
	return err == nil
}
