// Package mount keeps a durable virtual filesystem mount in step with
// persistent storage.
//
// A [Guard] serializes sync requests: at most one sync runs at a time and
// any number of requests that arrive while it runs collapse into exactly
// one follow-up. A [StoreSyncer] performs the actual copy between a vfs
// subtree and a store.Store.
package mount

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/meigma/bundle/internal/bundletype"
)

// Syncer synchronizes a durable mount.
//
// With populate set, durable state is copied into the mount. Otherwise the
// mount is flushed to durable storage.
type Syncer interface {
	Sync(ctx context.Context, populate bool) error
}

// SyncFunc adapts a function to the Syncer interface.
type SyncFunc func(ctx context.Context, populate bool) error

// Sync calls f.
func (f SyncFunc) Sync(ctx context.Context, populate bool) error {
	return f(ctx, populate)
}

// Guard coalesces sync requests against one Syncer.
type Guard struct {
	syncer Syncer
	logger *slog.Logger

	mu       sync.Mutex
	inFlight bool
	pending  bool
	runs     int
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger for sync lifecycle messages.
func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard creates a Guard that runs s.
func NewGuard(s Syncer, opts ...GuardOption) *Guard {
	g := &Guard{syncer: s}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g
}

// Sync requests a sync.
//
// If no sync is running, Sync runs one in the calling goroutine and then
// keeps running follow-ups, as flushes, for as long as new requests arrived
// during the previous run. If a sync is already running, Sync marks a
// follow-up as pending and returns nil immediately; the populate flag of a
// coalesced request is not honored.
//
// The returned error joins the failures of every run this call executed.
func (g *Guard) Sync(ctx context.Context, populate bool) error {
	g.mu.Lock()
	if g.inFlight {
		g.pending = true
		g.mu.Unlock()
		g.logger.Debug("sync coalesced")
		return nil
	}
	g.inFlight = true
	g.mu.Unlock()

	var errs []error
	for {
		g.logger.Debug("sync started", "populate", populate)
		if err := g.syncer.Sync(ctx, populate); err != nil {
			g.logger.Warn("sync failed", "populate", populate, "error", err)
			errs = append(errs, wrapSync(populate, err))
		}

		g.mu.Lock()
		g.runs++
		if !g.pending {
			g.inFlight = false
			g.mu.Unlock()
			return errors.Join(errs...)
		}
		g.pending = false
		g.mu.Unlock()
		populate = false
	}
}

// InFlight reports whether a sync is running.
func (g *Guard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Runs returns the number of syncs executed so far.
func (g *Guard) Runs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs
}

func wrapSync(populate bool, err error) error {
	var se *bundletype.SyncError
	if errors.As(err, &se) {
		return err
	}
	return &bundletype.SyncError{Populate: populate, Err: err}
}
