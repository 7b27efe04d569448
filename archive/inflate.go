// Package archive turns an assembled bundle into files in a virtual
// filesystem: [Inflate] undoes the gzip layer, [Extract] parses the tar
// stream into entries, and [Materialize] writes them under a mount path.
//
// Decompression and parsing operate on whole in-memory buffers and run to
// completion once started.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
)

// DefaultMaxInflatedSize is the default limit on decompressed output (4GB).
const DefaultMaxInflatedSize int64 = 4 << 30

type inflateConfig struct {
	maxSize int64
}

// InflateOption configures Inflate.
type InflateOption func(*inflateConfig)

// WithMaxInflatedSize limits the decompressed size.
// Set to 0 to disable the limit.
func WithMaxInflatedSize(n int64) InflateOption {
	return func(c *inflateConfig) {
		c.maxSize = n
	}
}

// Inflate decompresses a gzip stream held entirely in memory.
//
// A malformed stream yields an error matching ErrDecompress. Output larger
// than the configured limit additionally matches ErrSizeOverflow.
func Inflate(compressed []byte, opts ...InflateOption) ([]byte, error) {
	cfg := inflateConfig{maxSize: DefaultMaxInflatedSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bundletype.ErrDecompress, err)
	}
	defer zr.Close()

	data, err := sizing.ReadAllWithLimit(zr, cfg.maxSize, bundletype.ErrSizeOverflow)
	if err != nil {
		if errors.Is(err, bundletype.ErrSizeOverflow) {
			return nil, fmt.Errorf("%w: output exceeds %d bytes: %w", bundletype.ErrDecompress, cfg.maxSize, err)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated stream", bundletype.ErrDecompress)
		}
		return nil, fmt.Errorf("%w: %v", bundletype.ErrDecompress, err)
	}
	return data, nil
}
