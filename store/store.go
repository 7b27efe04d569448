// Package store provides the persistent key/value layer used to cache
// bundles between sessions.
//
// A [Store] is a single flat namespace of string keys. Every call is its own
// transaction: there is no atomicity across calls, so multi-record values
// written by [Chunked.WriteLarge] are ordered such that a reader never
// observes an index record before all of its sub-records exist.
//
// Backends live in subpackages: store/sqlite (the default durable backend),
// store/disk (one file per key), and store/memory (tests and ephemeral
// sessions).
package store

import (
	"context"
	"errors"

	"github.com/meigma/bundle/internal/bundletype"
)

// Store is a persistent key/value namespace.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key.
	// Returns nil, false, nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Contains reports whether key is present.
	Contains(ctx context.Context, key string) (bool, error)

	// DeleteAll removes every record. Backends with an underlying database
	// file close it, delete it, and reopen it empty.
	DeleteAll(ctx context.Context) error
}

// Error is the error type returned for failed store operations.
type Error = bundletype.StoreError

// Wrap annotates err with the operation and key unless it already carries
// store context. Returns nil if err is nil.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}
