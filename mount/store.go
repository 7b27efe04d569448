package mount

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/fxamacker/cbor/v2"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/store"
	"github.com/meigma/bundle/vfs"
)

// IndexKey is the store key of the mount snapshot index.
const IndexKey = "/mount/index"

const (
	indexVersion = 1
	blobPrefix   = "/mount/blob/"
)

// Index is the snapshot of a mount recorded by the last flush.
type Index struct {
	Version int          `cbor:"1,keyasint"`
	Entries []IndexEntry `cbor:"2,keyasint"`
}

// IndexEntry describes one file or directory relative to the mount.
type IndexEntry struct {
	Path   string        `cbor:"1,keyasint"`
	Dir    bool          `cbor:"2,keyasint,omitempty"`
	Mode   uint32        `cbor:"3,keyasint"`
	Size   int64         `cbor:"4,keyasint,omitempty"`
	Digest digest.Digest `cbor:"5,keyasint,omitempty"`
}

var indexEncMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("mount: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}()

// BlobKey returns the store key holding file contents with digest d.
func BlobKey(d digest.Digest) string {
	return blobPrefix + d.String()
}

// StoreSyncer copies a vfs subtree to and from a store.Store.
//
// File contents are stored by digest through a store.Chunked, so unchanged
// files are not rewritten and large files are split. The index is written
// after every file it references. Contents of files deleted from the mount
// stay in the store; only the index stops referencing them.
//
// A StoreSyncer is not safe for concurrent Sync calls. Run it behind a
// Guard.
type StoreSyncer struct {
	fsys    vfs.FS
	chunked *store.Chunked
	mount   string
	logger  *slog.Logger
}

// StoreSyncerOption configures a StoreSyncer.
type StoreSyncerOption func(*storeSyncerConfig)

type storeSyncerConfig struct {
	chunkSize int64
	logger    *slog.Logger
}

// WithChunkSize sets the sub-record size for file contents.
func WithChunkSize(n int64) StoreSyncerOption {
	return func(c *storeSyncerConfig) {
		c.chunkSize = n
	}
}

// WithLogger sets the logger for sync diagnostics.
func WithLogger(logger *slog.Logger) StoreSyncerOption {
	return func(c *storeSyncerConfig) {
		c.logger = logger
	}
}

// NewStoreSyncer creates a syncer persisting mountPath of fsys into s.
func NewStoreSyncer(fsys vfs.FS, s store.Store, mountPath string, opts ...StoreSyncerOption) (*StoreSyncer, error) {
	if fsys == nil {
		return nil, errors.New("mount: filesystem is nil")
	}
	var cfg storeSyncerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	chunked, err := store.NewChunked(s, cfg.chunkSize, store.WithChunkedLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return &StoreSyncer{
		fsys:    fsys,
		chunked: chunked,
		mount:   vfs.Clean(mountPath),
		logger:  cfg.logger,
	}, nil
}

// Mount returns the synchronized mount path.
func (s *StoreSyncer) Mount() string {
	return s.mount
}

// Sync populates the mount from the store or flushes it to the store.
func (s *StoreSyncer) Sync(ctx context.Context, populate bool) error {
	var err error
	if populate {
		err = s.populate(ctx)
	} else {
		err = s.flush(ctx)
	}
	if err != nil {
		return &bundletype.SyncError{Mount: s.mount, Populate: populate, Err: err}
	}
	return nil
}

// ReadIndex returns the last flushed snapshot.
// Returns false if the mount was never flushed.
func (s *StoreSyncer) ReadIndex(ctx context.Context) (*Index, bool, error) {
	data, ok, err := s.chunked.Store().Get(ctx, IndexKey)
	if err != nil {
		return nil, false, store.Wrap("get", IndexKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	var idx Index
	if err := cbor.Unmarshal(data, &idx); err != nil {
		return nil, false, fmt.Errorf("%w: decode mount index: %v", bundletype.ErrCorruptRecord, err)
	}
	if idx.Version != indexVersion {
		return nil, false, fmt.Errorf("%w: mount index version %d", bundletype.ErrCorruptRecord, idx.Version)
	}
	return &idx, true, nil
}

func (s *StoreSyncer) populate(ctx context.Context) error {
	if err := s.fsys.MkdirAll(s.mount, 0o755); err != nil {
		return err
	}
	idx, ok, err := s.ReadIndex(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug("durable mount has no snapshot", "mount", s.mount)
		return nil
	}

	var files int
	for _, e := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := vfs.Join(s.mount, e.Path)
		if _, within := vfs.Rel(s.mount, name); !within {
			return fmt.Errorf("%w: entry %q outside mount", bundletype.ErrCorruptRecord, e.Path)
		}
		perm := fs.FileMode(e.Mode).Perm()
		if e.Dir {
			if err := s.fsys.MkdirAll(name, perm|0o700); err != nil {
				return err
			}
			continue
		}
		data, found, err := s.chunked.ReadLarge(ctx, BlobKey(e.Digest))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: missing contents of %s", bundletype.ErrCorruptRecord, e.Path)
		}
		if err := s.fsys.MkdirAll(path.Dir(name), 0o755); err != nil {
			return err
		}
		if err := s.fsys.WriteFile(name, data, perm); err != nil {
			return err
		}
		files++
	}
	s.logger.Debug("durable mount populated", "mount", s.mount, "files", files)
	return nil
}

func (s *StoreSyncer) flush(ctx context.Context) error {
	if !vfs.Exists(s.fsys, s.mount) {
		s.logger.Debug("durable mount absent, nothing to flush", "mount", s.mount)
		return nil
	}

	idx := Index{Version: indexVersion}
	var written int
	err := s.fsys.WalkDir(s.mount, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := vfs.Rel(s.mount, name)
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := IndexEntry{Path: rel, Mode: uint32(info.Mode().Perm())}
		if d.IsDir() {
			entry.Dir = true
			idx.Entries = append(idx.Entries, entry)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := s.fsys.ReadFile(name)
		if err != nil {
			return err
		}
		entry.Digest = digest.FromBytes(data)
		entry.Size = int64(len(data))
		key := BlobKey(entry.Digest)
		exists, err := s.chunked.Store().Contains(ctx, key)
		if err != nil {
			return store.Wrap("contains", key, err)
		}
		if !exists {
			if err := s.chunked.WriteLarge(ctx, key, data); err != nil {
				return err
			}
			written++
		}
		idx.Entries = append(idx.Entries, entry)
		return nil
	})
	if err != nil {
		return err
	}

	data, err := indexEncMode.Marshal(idx)
	if err != nil {
		return err
	}
	if err := s.chunked.Store().Put(ctx, IndexKey, data); err != nil {
		return store.Wrap("put", IndexKey, err)
	}
	s.logger.Debug("durable mount flushed", "mount", s.mount, "entries", len(idx.Entries), "written", written)
	return nil
}
