package bundletype

// ProgressEvent represents a progress update during a bundle load.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// URL is the bundle being loaded.
	URL string

	// Path is the chunk or archive entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of bytes completed in the current stage.
	BytesDone uint64

	// BytesTotal is the total bytes for the current stage.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// ChunksDone is the number of download chunks completed.
	ChunksDone int

	// ChunksTotal is the number of download chunks listed in the manifest.
	ChunksTotal int

	// FilesDone is the number of archive entries materialized.
	FilesDone int
}

// ProgressStage identifies the current phase of a bundle load.
type ProgressStage uint8

// Progress stages, in the order a cold load passes through them.
const (
	// StageFetchingManifest indicates the manifest is being fetched.
	StageFetchingManifest ProgressStage = iota

	// StageDownloading indicates chunks are being downloaded.
	StageDownloading

	// StageDecompressing indicates the assembled bundle is being inflated.
	StageDecompressing

	// StageCaching indicates the archive is being written to the store.
	StageCaching

	// StageLoadingCache indicates the archive is being read from the store.
	StageLoadingCache

	// StageExtracting indicates archive entries are being materialized.
	StageExtracting

	// StageSyncing indicates the durable mount is being synchronized.
	StageSyncing
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageFetchingManifest:
		return "fetching manifest"
	case StageDownloading:
		return "downloading"
	case StageDecompressing:
		return "decompressing"
	case StageCaching:
		return "caching"
	case StageLoadingCache:
		return "loading cache"
	case StageExtracting:
		return "extracting"
	case StageSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

// Emit calls fn with ev if fn is non-nil.
func (fn ProgressFunc) Emit(ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}
