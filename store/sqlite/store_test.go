package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/internal/storetest"
	"github.com/meigma/bundle/store"
	"github.com/meigma/bundle/store/sqlite"
)

func openTemp(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Store {
		return openTemp(t)
	})
}

func TestStoreMemoryConformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlite.Open(sqlite.MemoryPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("durable")))
	require.NoError(t, s.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	v, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("durable"), v)
}

func TestStoreDeleteAllRecreatesDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openTemp(t)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.DeleteAll(ctx))

	_, err := os.Stat(s.Path())
	require.NoError(t, err, "database file should exist after reopen")

	ok, err := s.Contains(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreClosed(t *testing.T) {
	t.Parallel()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestOpenEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := sqlite.Open("")
	require.Error(t, err)
}
