// Package download assembles a bundle from the chunks listed in its manifest.
//
// Chunks are fetched strictly one after another in manifest order and copied
// into a single buffer preallocated to the manifest's total size. Sequential
// fetching bounds in-flight memory to one chunk and keeps progress reports
// monotonic; total latency grows with the number of chunks.
package download

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
	"github.com/meigma/bundle/manifest"
)

// Getter retrieves a whole resource by URL.
type Getter = manifest.Getter

// Downloader fetches and assembles bundle chunks.
type Downloader struct {
	getter   Getter
	progress bundletype.ProgressFunc
	logger   *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithProgress sets a callback invoked after each chunk completes.
func WithProgress(fn bundletype.ProgressFunc) Option {
	return func(d *Downloader) {
		d.progress = fn
	}
}

// WithLogger sets the logger for per-chunk diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// New creates a Downloader that fetches chunks with g.
func New(g Getter, opts ...Option) *Downloader {
	d := &Downloader{getter: g}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	return d
}

// Download fetches every chunk of m, resolved against baseURL, and returns
// the assembled bundle.
//
// The first failed fetch aborts the download with a *bundletype.DownloadError
// naming the chunk; nothing is returned for a partial bundle. Chunk lengths
// that do not add up to m.TotalSize yield bundletype.ErrSizeMismatch.
func (d *Downloader) Download(ctx context.Context, baseURL string, m *manifest.Manifest) ([]byte, error) {
	n, err := sizing.ToInt(m.TotalSize, bundletype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	total := len(m.Chunks)

	var offset int64
	for i, name := range m.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, &bundletype.DownloadError{Chunk: name, Err: err}
		}
		data, err := d.getter.Get(ctx, manifest.ChunkURL(baseURL, name))
		if err != nil {
			return nil, &bundletype.DownloadError{Chunk: name, Err: err}
		}
		if int64(len(data)) > m.TotalSize-offset {
			return nil, &bundletype.DownloadError{
				Chunk: name,
				Err:   fmt.Errorf("%w: chunk overruns declared size %d", bundletype.ErrSizeMismatch, m.TotalSize),
			}
		}
		copy(buf[offset:], data)
		offset += int64(len(data))

		d.logger.Debug("chunk downloaded", "chunk", name, "index", i, "bytes", len(data))
		d.progress.Emit(bundletype.ProgressEvent{
			Stage:       bundletype.StageDownloading,
			Path:        name,
			BytesDone:   sizing.ToUint64(offset),
			BytesTotal:  sizing.ToUint64(m.TotalSize),
			ChunksDone:  i + 1,
			ChunksTotal: total,
		})
	}

	if offset != m.TotalSize {
		return nil, fmt.Errorf("%w: assembled %d bytes, manifest declares %d", bundletype.ErrSizeMismatch, offset, m.TotalSize)
	}
	return buf, nil
}
