package bundle

import (
	"errors"
	"log/slog"

	"github.com/meigma/bundle/store"
	"github.com/meigma/bundle/vfs"
)

// Option configures a Session.
type Option func(*Session) error

// DefaultVersion is the cache format version used when none is configured.
const DefaultVersion = 1

// WithStore sets the bundle cache. Defaults to an in-memory store, which
// caches only for the life of the process.
func WithStore(s store.Store) Option {
	return func(sess *Session) error {
		if s == nil {
			return errors.New("store is nil")
		}
		sess.store = s
		return nil
	}
}

// WithFetcher sets the getter used for manifests and chunks. Defaults to an
// http.Fetcher with default settings.
func WithFetcher(g Getter) Option {
	return func(sess *Session) error {
		if g == nil {
			return errors.New("fetcher is nil")
		}
		sess.getter = g
		return nil
	}
}

// WithFS sets the virtual filesystem bundles are extracted into. Defaults to
// an in-memory filesystem.
func WithFS(fsys vfs.FS) Option {
	return func(sess *Session) error {
		if fsys == nil {
			return errors.New("filesystem is nil")
		}
		sess.fsys = fsys
		return nil
	}
}

// WithVersion sets the expected cache format version. A store recorded
// with any other version is purged by Open.
func WithVersion(v int) Option {
	return func(sess *Session) error {
		if v < 0 {
			return errors.New("version must be >= 0")
		}
		sess.version = v
		return nil
	}
}

// WithChunkSize sets the storage sub-record size. This is independent of the
// download chunks named by a manifest.
func WithChunkSize(n int64) Option {
	return func(sess *Session) error {
		if n <= 0 {
			return errors.New("chunk size must be > 0")
		}
		sess.chunkSize = n
		return nil
	}
}

// WithMaxBundleSize limits the decompressed size of one bundle.
// Set to 0 to disable the limit.
func WithMaxBundleSize(n int64) Option {
	return func(sess *Session) error {
		if n < 0 {
			return errors.New("max bundle size must be >= 0")
		}
		sess.maxBundleSize = n
		return nil
	}
}

// WithDurableMount synchronizes mountPath with s through a coalescing sync
// guard. Start populates the mount from s; Sync flushes it back.
//
// s should be a different store from the bundle cache, since a cache
// version purge deletes every record of the cache store.
func WithDurableMount(mountPath string, s store.Store) Option {
	return func(sess *Session) error {
		if s == nil {
			return errors.New("durable store is nil")
		}
		if mountPath == "" {
			return errors.New("durable mount path is empty")
		}
		sess.durableMount = vfs.Clean(mountPath)
		sess.durableStore = s
		return nil
	}
}

// WithLogger sets the logger for session operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(sess *Session) error {
		sess.logger = logger
		return nil
	}
}

// WithProgress sets a callback that receives progress updates.
// The callback is invoked for each chunk downloaded, each entry extracted,
// and each stage transition.
func WithProgress(fn ProgressFunc) Option {
	return func(sess *Session) error {
		sess.progress = fn
		return nil
	}
}
