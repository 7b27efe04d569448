package store

import (
	"context"
	"strconv"
	"strings"
)

// VersionKey is the reserved key holding the store's format version.
const VersionKey = "/version"

// ReadVersion returns the format version recorded in s.
// Returns false if no version is recorded or the marker is unreadable.
func ReadVersion(ctx context.Context, s Store) (int, bool, error) {
	data, ok, err := s.Get(ctx, VersionKey)
	if err != nil {
		return 0, false, Wrap("get", VersionKey, err)
	}
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// EnsureVersion makes s valid for the expected format version.
//
// If the recorded version is absent, unreadable, or different from expected,
// every record is deleted and expected is written under VersionKey. It
// reports whether a purge happened. Callers must let EnsureVersion return
// before issuing any other read or write against s.
func EnsureVersion(ctx context.Context, s Store, expected int) (bool, error) {
	current, ok, err := ReadVersion(ctx, s)
	if err != nil {
		return false, err
	}
	if ok && current == expected {
		return false, nil
	}
	if err := s.DeleteAll(ctx); err != nil {
		return false, Wrap("delete all", "", err)
	}
	if err := s.Put(ctx, VersionKey, []byte(strconv.Itoa(expected))); err != nil {
		return true, Wrap("put", VersionKey, err)
	}
	return true, nil
}
