// Package bundletype defines shared types used across the bundle package and
// its subpackages. This avoids circular imports between bundle, store,
// download, and archive.
package bundletype

import (
	"errors"
	"fmt"
)

// Sentinel errors for bundle operations.
var (
	// ErrManifest is returned when a chunk manifest is malformed.
	ErrManifest = errors.New("bundle: malformed manifest")

	// ErrDownload is returned when a chunk or manifest fetch fails.
	ErrDownload = errors.New("bundle: download failed")

	// ErrStore is returned when a store transaction fails.
	ErrStore = errors.New("bundle: store operation failed")

	// ErrDecompress is returned when the compressed stream is malformed.
	ErrDecompress = errors.New("bundle: decompression failed")

	// ErrExtract is returned when an archive entry is malformed or cannot be
	// written to the virtual filesystem.
	ErrExtract = errors.New("bundle: extraction failed")

	// ErrSync is returned when a durable mount sync fails.
	ErrSync = errors.New("bundle: sync failed")

	// ErrSizeMismatch is returned when fetched chunks do not add up to the
	// size declared by the manifest.
	ErrSizeMismatch = errors.New("bundle: size mismatch")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("bundle: size overflow")

	// ErrCorruptRecord is returned when a chunked cache record does not
	// reassemble into the value it describes.
	ErrCorruptRecord = errors.New("bundle: corrupt cache record")
)

// StoreError reports a failed store operation on a single key.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrStore for every StoreError so callers can match the
// category without knowing the cause.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

// DownloadError reports a failed fetch of one named chunk.
type DownloadError struct {
	Chunk string
	Err   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download chunk %q: %v", e.Chunk, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool { return target == ErrDownload }

// ManifestError reports a manifest that could not be fetched or parsed.
type ManifestError struct {
	URL string
	Err error
}

func (e *ManifestError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("manifest: %v", e.Err)
	}
	return fmt.Sprintf("manifest %s: %v", e.URL, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

func (e *ManifestError) Is(target error) bool { return target == ErrManifest }

// ExtractError reports an archive entry that could not be materialized.
type ExtractError struct {
	Path string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %q: %v", e.Path, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

func (e *ExtractError) Is(target error) bool { return target == ErrExtract }

// SyncError reports a failed durable mount synchronization.
type SyncError struct {
	Mount    string
	Populate bool
	Err      error
}

func (e *SyncError) Error() string {
	dir := "flush"
	if e.Populate {
		dir = "populate"
	}
	return fmt.Sprintf("sync %s %s: %v", dir, e.Mount, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) Is(target error) bool { return target == ErrSync }
