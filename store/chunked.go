package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
)

// DefaultChunkSize is the sub-record size used when none is configured.
// Values larger than this are split across several records.
const DefaultChunkSize int64 = 20_000_000

// Record is the index record stored under a chunked value's key.
// Sub-records live under ChunkKey(key, i) for i in [0, Chunks).
type Record struct {
	// Size is the length of the reassembled value in bytes.
	Size int64 `cbor:"1,keyasint"`

	// Chunks is the number of sub-records.
	Chunks int64 `cbor:"2,keyasint"`

	// Digest is the digest of the reassembled value.
	Digest digest.Digest `cbor:"3,keyasint,omitempty"`
}

// ChunkKey returns the key of sub-record i of key.
func ChunkKey(key string, i int64) string {
	return key + "." + strconv.FormatInt(i, 10)
}

var recordEncMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}()

// Chunked layers transparent large-value splitting on top of a Store.
type Chunked struct {
	store     Store
	chunkSize int64
	verify    bool
	logger    *slog.Logger
}

// ChunkedOption configures a Chunked store.
type ChunkedOption func(*Chunked)

// WithChunkedLogger sets the logger used for chunk bookkeeping.
func WithChunkedLogger(logger *slog.Logger) ChunkedOption {
	return func(c *Chunked) {
		c.logger = logger
	}
}

// WithVerify controls whether ReadLarge checks the reassembled value
// against the record digest. Enabled by default.
func WithVerify(verify bool) ChunkedOption {
	return func(c *Chunked) {
		c.verify = verify
	}
}

// NewChunked wraps s, splitting values into sub-records of chunkSize bytes.
// A chunkSize of zero uses DefaultChunkSize.
func NewChunked(s Store, chunkSize int64, opts ...ChunkedOption) (*Chunked, error) {
	if s == nil {
		return nil, errors.New("store is nil")
	}
	if chunkSize < 0 {
		return nil, errors.New("chunk size must be >= 0")
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	c := &Chunked{
		store:     s,
		chunkSize: chunkSize,
		verify:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// ChunkSize returns the configured sub-record size.
func (c *Chunked) ChunkSize() int64 {
	return c.chunkSize
}

// Store returns the underlying store.
func (c *Chunked) Store() Store {
	return c.store
}

// WriteLarge stores value under key as ceil(len(value)/chunkSize)
// sub-records followed by the index record.
//
// Sub-records are written one at a time, each completing before the next is
// issued. The index record is written last so a reader never sees a record
// that claims more sub-records than exist. A failure partway leaves the
// already written sub-records in place; a stale index record from an earlier
// write may then describe them, which ReadLarge detects through the digest.
func (c *Chunked) WriteLarge(ctx context.Context, key string, value []byte) error {
	size := int64(len(value))
	rec := Record{
		Size:   size,
		Chunks: sizing.CeilDiv(size, c.chunkSize),
		Digest: digest.FromBytes(value),
	}

	for i := range rec.Chunks {
		if err := ctx.Err(); err != nil {
			return Wrap("put", ChunkKey(key, i), err)
		}
		start := i * c.chunkSize
		end := min(start+c.chunkSize, size)
		chunkKey := ChunkKey(key, i)
		if err := c.store.Put(ctx, chunkKey, value[start:end]); err != nil {
			return Wrap("put", chunkKey, err)
		}
		c.logger.Debug("wrote sub-record", "key", chunkKey, "bytes", end-start)
	}

	data, err := recordEncMode.Marshal(rec)
	if err != nil {
		return Wrap("put", key, err)
	}
	if err := c.store.Put(ctx, key, data); err != nil {
		return Wrap("put", key, err)
	}
	c.logger.Debug("wrote record", "key", key, "size", rec.Size, "chunks", rec.Chunks)
	return nil
}

// Stat returns the index record for key.
// Returns false if no record exists.
func (c *Chunked) Stat(ctx context.Context, key string) (Record, bool, error) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return Record{}, false, Wrap("get", key, err)
	}
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return Record{}, false, Wrap("get", key, fmt.Errorf("%w: decode record: %v", bundletype.ErrCorruptRecord, err))
	}
	if rec.Size < 0 || rec.Chunks < 0 || (rec.Size > 0) != (rec.Chunks > 0) {
		return Record{}, false, Wrap("get", key, fmt.Errorf("%w: invalid record size=%d chunks=%d", bundletype.ErrCorruptRecord, rec.Size, rec.Chunks))
	}
	return rec, true, nil
}

// ReadLarge reassembles the value stored under key by WriteLarge.
// Returns nil, false, nil if no record exists.
//
// Sub-records are read in ascending order and copied at the running sum of
// the lengths read so far, so the final short sub-record lands correctly and
// records written with a different chunk size still reassemble.
func (c *Chunked) ReadLarge(ctx context.Context, key string) ([]byte, bool, error) {
	rec, ok, err := c.Stat(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	n, err := sizing.ToInt(rec.Size, bundletype.ErrSizeOverflow)
	if err != nil {
		return nil, false, Wrap("get", key, err)
	}
	out := make([]byte, n)
	var offset int64
	for i := range rec.Chunks {
		chunkKey := ChunkKey(key, i)
		part, found, err := c.store.Get(ctx, chunkKey)
		if err != nil {
			return nil, false, Wrap("get", chunkKey, err)
		}
		if !found {
			return nil, false, Wrap("get", chunkKey, fmt.Errorf("%w: missing sub-record %d of %d", bundletype.ErrCorruptRecord, i, rec.Chunks))
		}
		if int64(len(part)) > rec.Size-offset {
			return nil, false, Wrap("get", chunkKey, fmt.Errorf("%w: sub-record overruns size %d", bundletype.ErrCorruptRecord, rec.Size))
		}
		copy(out[offset:], part)
		offset += int64(len(part))
	}
	if offset != rec.Size {
		return nil, false, Wrap("get", key, fmt.Errorf("%w: reassembled %d bytes, want %d", bundletype.ErrCorruptRecord, offset, rec.Size))
	}
	if c.verify && rec.Digest != "" {
		if err := rec.Digest.Validate(); err != nil {
			return nil, false, Wrap("get", key, fmt.Errorf("%w: %v", bundletype.ErrCorruptRecord, err))
		}
		if got := rec.Digest.Algorithm().FromBytes(out); got != rec.Digest {
			return nil, false, Wrap("get", key, fmt.Errorf("%w: digest %s, want %s", bundletype.ErrCorruptRecord, got, rec.Digest))
		}
	}
	return out, true, nil
}
