package disk

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/meigma/bundle/internal/storetest"
	"github.com/meigma/bundle/store"
)

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestStoreShardedLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "/version", []byte("1")))

	sum := blake3.Sum256([]byte("/version"))
	hexHash := hex.EncodeToString(sum[:])
	path := filepath.Join(dir, hexHash[:defaultShardPrefixLen], hexHash)
	_, err = os.Stat(path)
	require.NoError(t, err, "expected record file at %s", path)
}

func TestStoreShardDisable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "flat", []byte("v")))

	sum := blake3.Sum256([]byte("flat"))
	_, err = os.Stat(filepath.Join(dir, hex.EncodeToString(sum[:])))
	require.NoError(t, err)
}

func TestStoreSizeTracking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a", make([]byte, 100)))
	require.NoError(t, s.Put(ctx, "b", make([]byte, 50)))
	assert.Equal(t, int64(150), s.SizeBytes())

	require.NoError(t, s.Put(ctx, "a", make([]byte, 10)))
	assert.Equal(t, int64(60), s.SizeBytes())

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(60), reopened.SizeBytes())

	require.NoError(t, s.DeleteAll(ctx))
	assert.Equal(t, int64(0), s.SizeBytes())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)
}

func TestStoreRemovesAbandonedTempFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "kept", make([]byte, 20)))

	shard := filepath.Join(dir, "ab")
	require.NoError(t, os.MkdirAll(shard, 0o700))
	leftover := filepath.Join(shard, tempPrefix+"123456")
	require.NoError(t, os.WriteFile(leftover, make([]byte, 99), 0o600))

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(20), reopened.SizeBytes())
	_, err = os.Stat(leftover)
	assert.ErrorIs(t, err, os.ErrNotExist)

	v, ok, err := reopened.Get(ctx, "kept")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, v, 20)
}
