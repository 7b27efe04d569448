// Package vfstest provides a conformance suite for vfs.FS implementations.
package vfstest

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/vfs"
)

// Run exercises the vfs.FS contract against filesystems produced by newFS.
// Each subtest gets a fresh filesystem.
func Run(t *testing.T, newFS func(t *testing.T) vfs.FS) {
	t.Helper()

	t.Run("write read", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.MkdirAll("/data", 0o755))
		require.NoError(t, fsys.WriteFile("/data/a.txt", []byte("hi"), 0o644))

		got, err := fsys.ReadFile("/data/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "hi", string(got))

		info, err := fsys.Stat("/data/a.txt")
		require.NoError(t, err)
		assert.False(t, info.IsDir())
		assert.Equal(t, int64(2), info.Size())
	})

	t.Run("overwrite", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.WriteFile("/f", []byte("one"), 0o644))
		require.NoError(t, fsys.WriteFile("/f", []byte("two"), 0o644))
		got, err := fsys.ReadFile("/f")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("empty file", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.WriteFile("/empty", nil, 0o644))
		got, err := fsys.ReadFile("/empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("mkdir idempotent", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.MkdirAll("/a/b/c", 0o755))
		require.NoError(t, fsys.MkdirAll("/a/b/c", 0o755))
		require.NoError(t, fsys.MkdirAll("/a/b", 0o755))
		info, err := fsys.Stat("/a/b/c")
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("write missing parent", func(t *testing.T) {
		fsys := newFS(t)
		err := fsys.WriteFile("/missing/f", []byte("x"), 0o644)
		require.Error(t, err)
	})

	t.Run("mkdir over file", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.WriteFile("/f", []byte("x"), 0o644))
		require.Error(t, fsys.MkdirAll("/f/sub", 0o755))
	})

	t.Run("read missing", func(t *testing.T) {
		fsys := newFS(t)
		_, err := fsys.ReadFile("/nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		assert.False(t, vfs.Exists(fsys, "/nope"))
	})

	t.Run("remove", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.MkdirAll("/d", 0o755))
		require.NoError(t, fsys.WriteFile("/d/f", []byte("x"), 0o644))
		require.Error(t, fsys.Remove("/d"), "non-empty directory")
		require.NoError(t, fsys.Remove("/d/f"))
		require.NoError(t, fsys.Remove("/d"))
		assert.False(t, vfs.Exists(fsys, "/d"))
	})

	t.Run("walk", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.MkdirAll("/m/sub/deep", 0o755))
		require.NoError(t, fsys.WriteFile("/m/b.txt", []byte("b"), 0o644))
		require.NoError(t, fsys.WriteFile("/m/a.txt", []byte("a"), 0o644))
		require.NoError(t, fsys.WriteFile("/m/sub/c.txt", []byte("c"), 0o644))
		require.NoError(t, fsys.WriteFile("/outside.txt", []byte("o"), 0o644))

		var seen []string
		err := fsys.WalkDir("/m", func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			seen = append(seen, name)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/m", "/m/a.txt", "/m/b.txt", "/m/sub", "/m/sub/c.txt", "/m/sub/deep"}, seen)
	})

	t.Run("walk skip dir", func(t *testing.T) {
		fsys := newFS(t)
		require.NoError(t, fsys.MkdirAll("/m/skip", 0o755))
		require.NoError(t, fsys.WriteFile("/m/skip/x", []byte("x"), 0o644))
		require.NoError(t, fsys.WriteFile("/m/z", []byte("z"), 0o644))

		var seen []string
		err := fsys.WalkDir("/m", func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			seen = append(seen, name)
			if d.IsDir() && name == "/m/skip" {
				return fs.SkipDir
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/m", "/m/skip", "/m/z"}, seen)
	})

	t.Run("walk missing root", func(t *testing.T) {
		fsys := newFS(t)
		err := fsys.WalkDir("/absent", func(name string, d fs.DirEntry, err error) error {
			return err
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}
