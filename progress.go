package bundle

import "github.com/meigma/bundle/internal/bundletype"

// Re-export progress types from bundletype.
type (
	// ProgressEvent represents a progress update during a bundle load or sync.
	ProgressEvent = bundletype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = bundletype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = bundletype.ProgressFunc
)

// Re-export progress stage constants.
const (
	// StageFetchingManifest indicates the manifest is being fetched.
	StageFetchingManifest = bundletype.StageFetchingManifest

	// StageDownloading indicates chunks are being downloaded.
	StageDownloading = bundletype.StageDownloading

	// StageDecompressing indicates the assembled bundle is being inflated.
	StageDecompressing = bundletype.StageDecompressing

	// StageCaching indicates the archive is being written to the store.
	StageCaching = bundletype.StageCaching

	// StageLoadingCache indicates the archive is being read from the store.
	StageLoadingCache = bundletype.StageLoadingCache

	// StageExtracting indicates archive entries are being materialized.
	StageExtracting = bundletype.StageExtracting

	// StageSyncing indicates the durable mount is being synchronized.
	StageSyncing = bundletype.StageSyncing
)
