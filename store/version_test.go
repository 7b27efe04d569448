package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/store"
	"github.com/meigma/bundle/store/memory"
)

func TestEnsureVersionPurgesOnMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memory.New()
	require.NoError(t, mem.Put(ctx, store.VersionKey, []byte("1")))
	require.NoError(t, mem.Put(ctx, "https://host/a.tar.gz", []byte("stale")))
	require.NoError(t, mem.Put(ctx, "https://host/a.tar.gz.0", []byte("stale")))
	require.NoError(t, mem.Put(ctx, "other", []byte("x")))

	purged, err := store.EnsureVersion(ctx, mem, 2)
	require.NoError(t, err)
	assert.True(t, purged)

	assert.Equal(t, []string{store.VersionKey}, mem.Keys())
	v, ok, err := store.ReadVersion(ctx, mem)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestEnsureVersionFirstRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memory.New()
	purged, err := store.EnsureVersion(ctx, mem, 7)
	require.NoError(t, err)
	assert.True(t, purged)

	raw, ok, err := mem.Get(ctx, store.VersionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "7", string(raw))
}

func TestEnsureVersionMatchKeepsRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memory.New()
	require.NoError(t, mem.Put(ctx, store.VersionKey, []byte("3")))
	require.NoError(t, mem.Put(ctx, "bundle", []byte("cached")))

	purged, err := store.EnsureVersion(ctx, mem, 3)
	require.NoError(t, err)
	assert.False(t, purged)
	assert.Equal(t, []string{store.VersionKey, "bundle"}, mem.Keys())
}

func TestEnsureVersionUnreadableMarker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memory.New()
	require.NoError(t, mem.Put(ctx, store.VersionKey, []byte("not-a-number")))
	require.NoError(t, mem.Put(ctx, "bundle", []byte("cached")))

	purged, err := store.EnsureVersion(ctx, mem, 1)
	require.NoError(t, err)
	assert.True(t, purged)
	assert.Equal(t, []string{store.VersionKey}, mem.Keys())
}
