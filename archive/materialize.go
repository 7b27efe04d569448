package archive

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
	"github.com/meigma/bundle/vfs"
)

// MarkerName is the file written at the root of a mount once every entry of
// a bundle has been materialized. It holds the digest of the archive.
const MarkerName = ".extracted"

const (
	defaultDirPerm  fs.FileMode = 0o755
	defaultFilePerm fs.FileMode = 0o644
)

var errOutsideMount = errors.New("path outside mount")

type materializeConfig struct {
	logger   *slog.Logger
	progress bundletype.ProgressFunc
	marker   digest.Digest
}

// MaterializeOption configures Materialize.
type MaterializeOption func(*materializeConfig)

// WithLogger sets the logger used during materialization.
func WithLogger(logger *slog.Logger) MaterializeOption {
	return func(c *materializeConfig) {
		c.logger = logger
	}
}

// WithProgress sets a callback invoked after each entry is written.
func WithProgress(fn bundletype.ProgressFunc) MaterializeOption {
	return func(c *materializeConfig) {
		c.progress = fn
	}
}

// WithMarker records d in the mount's completion marker.
//
// The marker is removed before the first entry is written and rewritten
// only after the last, so a mount left half-populated by a failure has no
// marker.
func WithMarker(d digest.Digest) MaterializeOption {
	return func(c *materializeConfig) {
		c.marker = d
	}
}

// Materialize writes entries under mount in order.
//
// Directories are created idempotently and parent directories of files are
// created as needed. Materialization is not transactional: entries written
// before a failure remain in place. Failures are reported as ExtractError.
func Materialize(ctx context.Context, fsys vfs.FS, entries []Entry, mount string, opts ...MaterializeOption) error {
	cfg := materializeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	mount = vfs.Clean(mount)
	if err := fsys.MkdirAll(mount, defaultDirPerm); err != nil {
		return &bundletype.ExtractError{Path: mount, Err: err}
	}
	if cfg.marker != "" {
		if err := RemoveMarker(fsys, mount); err != nil {
			return err
		}
	}

	var total uint64
	for i := range entries {
		total += sizing.ToUint64(len(entries[i].Data))
	}

	var done uint64
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := &entries[i]
		out, err := outPath(mount, e.Path)
		if err != nil {
			return err
		}
		if err := writeEntry(fsys, out, e); err != nil {
			return &bundletype.ExtractError{Path: out, Err: err}
		}
		done += sizing.ToUint64(len(e.Data))
		cfg.progress.Emit(bundletype.ProgressEvent{
			Stage:      bundletype.StageExtracting,
			Path:       out,
			BytesDone:  done,
			BytesTotal: total,
			FilesDone:  i + 1,
		})
	}

	if cfg.marker != "" {
		if err := WriteMarker(fsys, mount, cfg.marker); err != nil {
			return err
		}
	}
	cfg.logger.Debug("materialized entries", "mount", mount, "entries", len(entries), "bytes", done)
	return nil
}

func outPath(mount, name string) (string, error) {
	out := vfs.Join(mount, name)
	rel, ok := vfs.Rel(mount, out)
	if !ok || rel == "." {
		return "", &bundletype.ExtractError{Path: name, Err: errOutsideMount}
	}
	return out, nil
}

func writeEntry(fsys vfs.FS, out string, e *Entry) error {
	if e.IsDir {
		return fsys.MkdirAll(out, permOr(e.Mode, defaultDirPerm))
	}
	if err := fsys.MkdirAll(path.Dir(out), defaultDirPerm); err != nil {
		return err
	}
	return fsys.WriteFile(out, e.Data, permOr(e.Mode, defaultFilePerm))
}

func permOr(mode, fallback fs.FileMode) fs.FileMode {
	if mode.Perm() == 0 {
		return fallback
	}
	return mode.Perm()
}

// ReadMarker returns the digest recorded in mount's completion marker.
// Returns false if the marker is missing or unreadable.
func ReadMarker(fsys vfs.FS, mount string) (digest.Digest, bool) {
	data, err := fsys.ReadFile(vfs.Join(mount, MarkerName))
	if err != nil {
		return "", false
	}
	d := digest.Digest(strings.TrimSpace(string(data)))
	if d.Validate() != nil {
		return "", false
	}
	return d, true
}

// WriteMarker records d as the completed extraction of mount.
func WriteMarker(fsys vfs.FS, mount string, d digest.Digest) error {
	name := vfs.Join(mount, MarkerName)
	if err := fsys.WriteFile(name, []byte(d.String()+"\n"), defaultFilePerm); err != nil {
		return &bundletype.ExtractError{Path: name, Err: err}
	}
	return nil
}

// RemoveMarker deletes mount's completion marker if present.
func RemoveMarker(fsys vfs.FS, mount string) error {
	name := vfs.Join(mount, MarkerName)
	if err := fsys.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &bundletype.ExtractError{Path: name, Err: err}
	}
	return nil
}
