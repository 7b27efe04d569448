package bundle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/bundle/archive"
	"github.com/meigma/bundle/download"
	bundlehttp "github.com/meigma/bundle/http"
	"github.com/meigma/bundle/internal/sizing"
	"github.com/meigma/bundle/manifest"
	"github.com/meigma/bundle/mount"
	"github.com/meigma/bundle/store"
	"github.com/meigma/bundle/store/memory"
	"github.com/meigma/bundle/vfs"
	"github.com/meigma/bundle/vfs/memfs"
)

// Getter retrieves a whole resource by URL.
type Getter = manifest.Getter

// DefaultMount is the mount a Bundle is extracted under when none is set.
const DefaultMount = "/data"

// Bundle identifies a bundle and where to extract it.
type Bundle struct {
	// URL locates the bundle. Its manifest is URL + ".manifest" and its
	// chunks live next to it. URL is also the bundle's cache key.
	URL string

	// Mount is the virtual path the archive is extracted under.
	// Defaults to DefaultMount.
	Mount string
}

func (b Bundle) normalize() Bundle {
	if b.Mount == "" {
		b.Mount = DefaultMount
	}
	b.Mount = vfs.Clean(b.Mount)
	return b
}

// key identifies a load of b for deduplication and state tracking.
func (b Bundle) key() string {
	return b.URL + "\x00" + b.Mount
}

// Result describes a completed bundle load.
type Result struct {
	Bundle Bundle

	// State is StateReady for a successful load.
	State State

	// CacheHit reports whether the archive came from the store.
	CacheHit bool

	// Skipped reports whether extraction was skipped because the mount
	// already holds a complete extraction of the same archive.
	Skipped bool

	// Digest identifies the decompressed archive.
	Digest digest.Digest

	// Size is the decompressed archive size in bytes.
	Size int64

	// Entries is the number of archive entries materialized.
	Entries int
}

// Session owns the collaborators of one loading session: the bundle cache,
// the fetcher, the virtual filesystem, and the durable mount's sync guard.
//
// The version check runs once per session, before any bundle is read from or
// written to the store. A Session is safe for concurrent use; concurrent
// loads of the same bundle share one pipeline run.
type Session struct {
	store         store.Store
	chunked       *store.Chunked
	getter        Getter
	fsys          vfs.FS
	version       int
	chunkSize     int64
	maxBundleSize int64
	logger        *slog.Logger
	progress      ProgressFunc

	durableMount string
	durableStore store.Store
	guard        *mount.Guard

	loads singleflight.Group

	openMu sync.Mutex
	opened bool

	mu     sync.Mutex
	states map[string]State
	closed bool
}

// NewSession creates a session with the given options.
// The store is not touched until Open or the first Load.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		version:       DefaultVersion,
		chunkSize:     store.DefaultChunkSize,
		maxBundleSize: archive.DefaultMaxInflatedSize,
		states:        make(map[string]State),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.store == nil {
		s.store = memory.New()
	}
	if s.getter == nil {
		s.getter = bundlehttp.NewFetcher()
	}
	if s.fsys == nil {
		s.fsys = memfs.New()
	}

	chunked, err := store.NewChunked(s.store, s.chunkSize, store.WithChunkedLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.chunked = chunked

	if s.durableStore != nil {
		syncer, err := mount.NewStoreSyncer(s.fsys, s.durableStore, s.durableMount,
			mount.WithChunkSize(s.chunkSize), mount.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.guard = mount.NewGuard(syncer, mount.WithGuardLogger(s.logger))
	}
	return s, nil
}

// FS returns the session's virtual filesystem.
func (s *Session) FS() vfs.FS {
	return s.fsys
}

// Store returns the bundle cache.
func (s *Session) Store() store.Store {
	return s.store
}

// Open runs the version check. It purges the bundle cache if the recorded
// format version differs from the expected one. Open runs at most once
// successfully per session; Load and Start call it implicitly.
func (s *Session) Open(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.opened {
		return nil
	}

	s.logger.Debug("checking cache version", "expected", s.version)
	purged, err := store.EnsureVersion(ctx, s.store, s.version)
	if err != nil {
		s.logger.Error("cache version check failed", "error", err)
		return &LoadError{State: StateVersionCheck, Err: err}
	}
	if purged {
		s.logger.Warn("cache purged", "version", s.version)
	}
	s.opened = true
	return nil
}

// Start runs a whole session: the version check, the durable mount
// population, and then each bundle's load in order. It stops at the first
// failure and returns the results of the bundles loaded so far.
func (s *Session) Start(ctx context.Context, bundles ...Bundle) ([]*Result, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	if s.guard != nil {
		s.emit(ProgressEvent{Stage: StageSyncing, Path: s.durableMount})
		if err := s.guard.Sync(ctx, true); err != nil {
			return nil, err
		}
	}

	results := make([]*Result, 0, len(bundles))
	for _, b := range bundles {
		res, err := s.Load(ctx, b)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	s.logger.Info("session ready", "bundles", len(results))
	return results, nil
}

// Sync flushes the durable mount to its store. Requests made while a sync
// is running are coalesced into one follow-up. Without a durable mount Sync
// does nothing.
func (s *Session) Sync(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.guard == nil {
		return nil
	}
	s.emit(ProgressEvent{Stage: StageSyncing, Path: s.durableMount})
	return s.guard.Sync(ctx, false)
}

// Load runs the bundle load state machine for b.
//
// The archive is read from the cache if present; otherwise the manifest and
// chunks are downloaded, decompressed, and written back to the cache. The
// archive is then extracted under b.Mount. Errors are returned as
// *LoadError and leave the bundle in StateFailed; nothing is retried.
//
// Concurrent calls for the same bundle share one run and its Result, which
// callers must not modify. The shared run uses the first caller's context.
func (s *Session) Load(ctx context.Context, b Bundle) (*Result, error) {
	if b.URL == "" {
		return nil, errors.New("bundle URL is empty")
	}
	b = b.normalize()
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	v, err, shared := s.loads.Do(b.key(), func() (any, error) {
		return s.load(ctx, b)
	})
	if shared {
		s.logger.Debug("joined in-flight load", "url", b.URL)
	}
	if err != nil {
		return nil, err
	}
	res, _ := v.(*Result) //nolint:errcheck // type assertion always succeeds when err is nil
	return res, nil
}

// State returns the last state reached by a load of b. Loads of one URL
// into different mounts are tracked separately.
func (s *Session) State(b Bundle) State {
	b = b.normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[b.key()]
}

// Close marks the session closed. It does not flush the durable mount;
// call Sync first. Closing the store and filesystem is up to the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) emit(ev ProgressEvent) {
	s.progress.Emit(ev)
}

// loader tracks one run of the state machine.
type loader struct {
	s      *Session
	bundle Bundle
	state  State
	logger *slog.Logger
}

func (s *Session) load(ctx context.Context, b Bundle) (*Result, error) {
	l := &loader{s: s, bundle: b, logger: s.logger.With("url", b.URL)}
	res, err := l.run(ctx)
	if err != nil {
		failedIn := l.state
		l.enter(StateFailed)
		l.logger.Error("bundle load failed", "state", failedIn.String(), "error", err)
		return nil, &LoadError{URL: b.URL, State: failedIn, Err: err}
	}
	l.enter(StateReady)
	res.State = StateReady
	l.logger.Info("bundle ready",
		"mount", b.Mount,
		"cache_hit", res.CacheHit,
		"skipped", res.Skipped,
		"bytes", res.Size,
		"entries", res.Entries)
	return res, nil
}

func (l *loader) enter(state State) {
	l.state = state
	l.s.mu.Lock()
	l.s.states[l.bundle.key()] = state
	l.s.mu.Unlock()
	l.logger.Debug("bundle state", "state", state.String())
}

// progress stamps events with the bundle URL before forwarding them.
func (l *loader) progress(ev ProgressEvent) {
	ev.URL = l.bundle.URL
	l.s.emit(ev)
}

func (l *loader) run(ctx context.Context) (*Result, error) {
	res := &Result{Bundle: l.bundle}

	l.enter(StateCacheLookup)
	raw, d, hit, err := l.lookup(ctx, res)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return res, nil
	}

	if hit {
		l.enter(StateCacheHit)
		res.CacheHit = true
	} else {
		raw, err = l.fetch(ctx)
		if err != nil {
			return nil, err
		}
		d = digest.FromBytes(raw)

		l.enter(StateCacheWriteback)
		l.progress(ProgressEvent{Stage: StageCaching, BytesTotal: sizing.ToUint64(len(raw))})
		if err := l.s.chunked.WriteLarge(ctx, l.bundle.URL, raw); err != nil {
			return nil, err
		}
	}
	res.Digest = d
	res.Size = int64(len(raw))

	l.enter(StateExtract)
	entries, err := archive.Extract(raw, archive.WithExtractLogger(l.logger))
	if err != nil {
		return nil, err
	}
	err = archive.Materialize(ctx, l.s.fsys, entries, l.bundle.Mount,
		archive.WithMarker(d),
		archive.WithLogger(l.logger),
		archive.WithProgress(l.progress))
	if err != nil {
		return nil, err
	}
	res.Entries = len(entries)
	return res, nil
}

// lookup reads the cached archive. A mount already holding a complete
// extraction of the cached archive short-circuits without reading it. A
// corrupt record counts as a miss and is overwritten by the fetch.
func (l *loader) lookup(ctx context.Context, res *Result) ([]byte, digest.Digest, bool, error) {
	rec, ok, err := l.s.chunked.Stat(ctx, l.bundle.URL)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			l.logger.Warn("ignoring corrupt cache record", "error", err)
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	if !ok {
		l.logger.Debug("cache miss")
		return nil, "", false, nil
	}

	if marker, found := archive.ReadMarker(l.s.fsys, l.bundle.Mount); found && rec.Digest != "" && marker == rec.Digest {
		l.enter(StateCacheHit)
		res.CacheHit = true
		res.Skipped = true
		res.Digest = rec.Digest
		res.Size = rec.Size
		l.logger.Debug("mount already extracted", "digest", rec.Digest.String())
		return nil, rec.Digest, true, nil
	}

	l.progress(ProgressEvent{Stage: StageLoadingCache, BytesTotal: sizing.ToUint64(rec.Size)})
	raw, ok, err := l.s.chunked.ReadLarge(ctx, l.bundle.URL)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			l.logger.Warn("ignoring corrupt cache record", "error", err)
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	if !ok {
		return nil, "", false, nil
	}
	d := rec.Digest
	if d == "" {
		d = digest.FromBytes(raw)
	}
	return raw, d, true, nil
}

// fetch downloads, assembles, and decompresses the bundle.
func (l *loader) fetch(ctx context.Context) ([]byte, error) {
	l.enter(StateManifest)
	l.progress(ProgressEvent{Stage: StageFetchingManifest, Path: manifest.URL(l.bundle.URL)})
	m, err := manifest.Fetch(ctx, l.s.getter, l.bundle.URL)
	if err != nil {
		return nil, err
	}
	base, err := manifest.BaseURL(l.bundle.URL)
	if err != nil {
		return nil, &ManifestError{URL: l.bundle.URL, Err: err}
	}

	l.enter(StateDownload)
	dl := download.New(l.s.getter,
		download.WithLogger(l.logger),
		download.WithProgress(l.progress))
	compressed, err := dl.Download(ctx, base, m)
	if err != nil {
		return nil, err
	}

	l.enter(StateDecompress)
	l.progress(ProgressEvent{Stage: StageDecompressing, BytesTotal: sizing.ToUint64(len(compressed))})
	raw, err := archive.Inflate(compressed, archive.WithMaxInflatedSize(l.s.maxBundleSize))
	if err != nil {
		return nil, err
	}
	return raw, nil
}
