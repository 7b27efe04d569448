// Package memfs provides an in-memory vfs.FS backed by hackpadfs/mem.
package memfs

import (
	"github.com/hack-pad/hackpadfs/mem"

	"github.com/meigma/bundle/vfs"
)

// FS is a concurrency-safe in-memory filesystem. The root "/" always exists.
type FS struct {
	*vfs.Hackpad
}

// New creates an empty filesystem.
func New() *FS {
	base, err := mem.NewFS()
	if err != nil {
		panic("memfs: creating in-memory filesystem: " + err.Error())
	}
	return &FS{Hackpad: vfs.NewHackpad(base)}
}
