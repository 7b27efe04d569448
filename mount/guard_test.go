package mount_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/mount"
)

// blockingSyncer blocks its first run until release is closed.
type blockingSyncer struct {
	started chan struct{}
	release chan struct{}

	mu        sync.Mutex
	populates []bool
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingSyncer) Sync(_ context.Context, populate bool) error {
	b.mu.Lock()
	b.populates = append(b.populates, populate)
	first := len(b.populates) == 1
	b.mu.Unlock()
	if first {
		close(b.started)
		<-b.release
	}
	return nil
}

func (b *blockingSyncer) calls() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.populates...)
}

func TestGuardCoalescesRequests(t *testing.T) {
	t.Parallel()

	for _, extra := range []int{1, 2, 3, 10} {
		ctx := context.Background()
		syncer := newBlockingSyncer()
		g := mount.NewGuard(syncer)

		done := make(chan error, 1)
		go func() { done <- g.Sync(ctx, true) }()
		<-syncer.started

		for range extra {
			require.NoError(t, g.Sync(ctx, false))
		}
		assert.True(t, g.InFlight())

		close(syncer.release)
		require.NoError(t, <-done)

		assert.Equal(t, []bool{true, false}, syncer.calls(), "extra=%d", extra)
		assert.Equal(t, 2, g.Runs())
		assert.False(t, g.InFlight())
	}
}

func TestGuardSingleRequestRunsOnce(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	g := mount.NewGuard(mount.SyncFunc(func(context.Context, bool) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, g.Sync(context.Background(), false))
	require.NoError(t, g.Sync(context.Background(), false))
	assert.Equal(t, int32(2), runs.Load())
}

func TestGuardNeverOverlaps(t *testing.T) {
	t.Parallel()

	var active, maxActive, runs atomic.Int32
	g := mount.NewGuard(mount.SyncFunc(func(context.Context, bool) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		active.Add(-1)
		return nil
	}))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Sync(context.Background(), false))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
	assert.LessOrEqual(t, runs.Load(), int32(50))
	assert.False(t, g.InFlight())
}

func TestGuardReportsFailures(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	fail := true
	g := mount.NewGuard(mount.SyncFunc(func(context.Context, bool) error {
		if fail {
			return cause
		}
		return nil
	}))

	err := g.Sync(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrSync)
	assert.ErrorIs(t, err, cause)

	var se *bundletype.SyncError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Populate)

	// The guard is usable again after a failure.
	fail = false
	require.NoError(t, g.Sync(context.Background(), false))
	assert.False(t, g.InFlight())
}
