package bundle

// State is a step of the bundle load state machine.
//
// A cold load passes through VersionCheck, CacheLookup, Manifest, Download,
// Decompress, CacheWriteback, Extract, and Ready. A warm load goes from
// CacheLookup through CacheHit straight to Extract. Any error moves the
// load to Failed. Ready and Failed are terminal.
type State uint8

const (
	StateIdle State = iota
	StateVersionCheck
	StateCacheLookup
	StateCacheHit
	StateManifest
	StateDownload
	StateDecompress
	StateCacheWriteback
	StateExtract
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVersionCheck:
		return "version check"
	case StateCacheLookup:
		return "cache lookup"
	case StateCacheHit:
		return "cache hit"
	case StateManifest:
		return "manifest"
	case StateDownload:
		return "download"
	case StateDecompress:
		return "decompress"
	case StateCacheWriteback:
		return "cache writeback"
	case StateExtract:
		return "extract"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a load.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}
