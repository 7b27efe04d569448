// Package disk provides a store.Store that keeps one file per key.
package disk

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	defaultFilePerm       = 0o600
)

// Store implements store.Store using the local filesystem.
// Keys are hashed to file names and stored in a directory hierarchy with
// optional sharding by hash prefix. The store is safe for concurrent use.
type Store struct {
	dir            string       // root directory for record files
	shardPrefixLen int          // number of hex chars for subdirectory sharding
	dirPerm        os.FileMode  // permissions for created directories
	bytes          atomic.Int64 // current total size of record files
	mu             sync.RWMutex // held exclusively by DeleteAll
}

// Option configures a disk store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for store directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// New creates a disk-backed store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	size, err := scan(dir)
	if err != nil {
		return nil, err
	}
	s.bytes.Store(size)
	return s, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key)) //nolint:gosec // path is derived from a key hash, not user input
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Put stores value under key, replacing any previous value.
// The value is written to a temporary file and renamed into place, so a
// crash never leaves a truncated record.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	var previous int64
	if info, statErr := os.Stat(path); statErr == nil {
		previous = info.Size()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	s.bytes.Add(int64(len(value)) - previous)
	return nil
}

// Contains reports whether key is present.
func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// DeleteAll removes the store directory and recreates it empty.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, s.dirPerm); err != nil {
		return err
	}
	s.bytes.Store(0)
	return nil
}

// SizeBytes returns the current size of all record files in bytes.
func (s *Store) SizeBytes() int64 {
	return s.bytes.Load()
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	sum := blake3.Sum256([]byte(key))
	hexHash := hex.EncodeToString(sum[:])
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, hexHash)
	}
	prefixLen := min(s.shardPrefixLen, len(hexHash))
	return filepath.Join(s.dir, hexHash[:prefixLen], hexHash)
}
