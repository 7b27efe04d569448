// Package storetest provides a conformance suite for store.Store backends
// and small fakes shared by package tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/store"
)

// Run exercises the store.Store contract against stores produced by newStore.
// Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		v, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("put get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a", []byte("alpha")))
		v, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("alpha"), v)
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a", []byte("first")))
		require.NoError(t, s.Put(ctx, "a", []byte("second")))
		v, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("second"), v)
	})

	t.Run("empty value", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "empty", nil))
		v, ok, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Empty(t, v)
	})

	t.Run("contains", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.Contains(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, "k", []byte("v")))
		ok, err = s.Contains(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("url keys", func(t *testing.T) {
		s := newStore(t)
		key := "https://example.com/data/bundle.tar.gz"
		require.NoError(t, s.Put(ctx, key, []byte("x")))
		require.NoError(t, s.Put(ctx, key+".0", []byte("y")))
		v, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("x"), v)
	})

	t.Run("delete all", func(t *testing.T) {
		s := newStore(t)
		for i := range 5 {
			require.NoError(t, s.Put(ctx, fmt.Sprintf("k%d", i), []byte("v")))
		}
		require.NoError(t, s.DeleteAll(ctx))
		for i := range 5 {
			ok, err := s.Contains(ctx, fmt.Sprintf("k%d", i))
			require.NoError(t, err)
			assert.False(t, ok)
		}
		require.NoError(t, s.Put(ctx, "after", []byte("v")))
		ok, err := s.Contains(ctx, "after")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("caller buffer reuse", func(t *testing.T) {
		s := newStore(t)
		buf := []byte("original")
		require.NoError(t, s.Put(ctx, "k", buf))
		copy(buf, "mutated!")
		v, _, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), v)
	})
}

// FailingStore wraps a store.Store and fails Put for selected keys.
type FailingStore struct {
	store.Store

	mu       sync.Mutex
	failPut  map[string]error
	putCount int
}

// NewFailingStore wraps s with no failures configured.
func NewFailingStore(s store.Store) *FailingStore {
	return &FailingStore{Store: s, failPut: make(map[string]error)}
}

// FailPut makes Put of key return err.
func (f *FailingStore) FailPut(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut[key] = err
}

// Put fails for configured keys and otherwise delegates.
func (f *FailingStore) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	err := f.failPut[key]
	f.putCount++
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Put(ctx, key, value)
}

// PutCount returns the number of Put calls observed.
func (f *FailingStore) PutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCount
}

// ErrInjected is a generic failure for fault-injection tests.
var ErrInjected = errors.New("injected failure")
