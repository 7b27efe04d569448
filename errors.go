package bundle

import (
	"errors"
	"fmt"

	"github.com/meigma/bundle/internal/bundletype"
)

// Errors re-exported from bundletype.
var (
	// ErrManifest is returned when a chunk manifest is malformed.
	ErrManifest = bundletype.ErrManifest

	// ErrDownload is returned when a manifest or chunk fetch fails.
	ErrDownload = bundletype.ErrDownload

	// ErrStore is returned when a store transaction fails.
	ErrStore = bundletype.ErrStore

	// ErrDecompress is returned when the compressed bundle is malformed.
	ErrDecompress = bundletype.ErrDecompress

	// ErrExtract is returned when an archive entry is malformed or cannot be written.
	ErrExtract = bundletype.ErrExtract

	// ErrSync is returned when a durable mount sync fails.
	ErrSync = bundletype.ErrSync

	// ErrSizeMismatch is returned when chunk lengths disagree with the manifest total.
	ErrSizeMismatch = bundletype.ErrSizeMismatch

	// ErrSizeOverflow is returned when a size value overflows or exceeds a limit.
	ErrSizeOverflow = bundletype.ErrSizeOverflow

	// ErrCorruptRecord is returned when a cache record does not reassemble.
	ErrCorruptRecord = bundletype.ErrCorruptRecord
)

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("bundle: session closed")

// Error types re-exported from bundletype.
type (
	// StoreError carries the key of a failed store operation.
	StoreError = bundletype.StoreError

	// DownloadError carries the name of the chunk that failed to download.
	DownloadError = bundletype.DownloadError

	// ManifestError carries the URL of a malformed or unreachable manifest.
	ManifestError = bundletype.ManifestError

	// ExtractError carries the path of the entry that failed to materialize.
	ExtractError = bundletype.ExtractError

	// SyncError carries the mount and direction of a failed sync.
	SyncError = bundletype.SyncError
)

// LoadError reports a bundle load that ended in the Failed state.
//
// State is the state the load was in when it failed. Err carries one of the
// categorized errors above.
type LoadError struct {
	URL   string
	State State
	Err   error
}

func (e *LoadError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("bundle: %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("bundle %s: %s: %v", e.URL, e.State, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
