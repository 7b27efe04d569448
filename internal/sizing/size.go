// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import (
	"io"
	"math"
)

// ToInt converts an int64 to int, returning overflowErr if it doesn't fit
// or is negative.
func ToInt(size int64, overflowErr error) (int, error) {
	if size < 0 || size > int64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToUint64 converts a non-negative int or int64 to uint64, clamping
// negatives to zero.
func ToUint64[T int | int64](n T) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// CeilDiv returns ceil(n/d) for n >= 0 and d > 0.
func CeilDiv(n, d int64) int64 {
	if n == 0 {
		return 0
	}
	return (n-1)/d + 1
}

// ReadAllWithLimit reads up to maxSize bytes from r.
// Returns overflowErr if more than maxSize bytes are available.
// A maxSize of zero or less disables the limit.
func ReadAllWithLimit(r io.Reader, maxSize int64, overflowErr error) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	if maxSize > math.MaxInt64-1 {
		return nil, overflowErr
	}
	lr := &io.LimitedReader{R: r, N: maxSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, overflowErr
	}
	return data, nil
}
