package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/vbatts/tar-split/archive/tar"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
)

var errEscapesRoot = errors.New("path escapes archive root")

// Entry is one materializable archive member.
type Entry struct {
	// Path is the slash-separated name relative to the mount, with any
	// leading "/" or "./" removed.
	Path string

	// IsDir reports whether the entry is a directory.
	IsDir bool

	// Data holds the file contents. Nil for directories.
	Data []byte

	// Mode holds the permission bits recorded in the archive.
	Mode fs.FileMode
}

type extractConfig struct {
	logger *slog.Logger
}

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

// WithExtractLogger sets the logger used to report skipped entries.
func WithExtractLogger(logger *slog.Logger) ExtractOption {
	return func(c *extractConfig) {
		c.logger = logger
	}
}

// Extract parses a tar stream into entries in archive order.
//
// Only regular files and directories are returned. Other entry types such
// as symlinks and devices are skipped. Names that escape the archive root
// through ".." fail with an ExtractError.
func Extract(data []byte, opts ...ExtractOption) ([]Entry, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	tr := tar.NewReader(bytes.NewReader(data))
	var entries []Entry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, &bundletype.ExtractError{Path: entryName(hdr), Err: err}
		}

		name, err := cleanName(hdr.Name)
		if err != nil {
			return nil, &bundletype.ExtractError{Path: hdr.Name, Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if name == "." {
				continue
			}
			entries = append(entries, Entry{Path: name, IsDir: true, Mode: hdr.FileInfo().Mode().Perm()})
		case tar.TypeReg, '\x00':
			if name == "." {
				return nil, &bundletype.ExtractError{Path: hdr.Name, Err: errors.New("file entry has no name")}
			}
			size, err := sizing.ToInt(hdr.Size, bundletype.ErrSizeOverflow)
			if err != nil {
				return nil, &bundletype.ExtractError{Path: hdr.Name, Err: err}
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(tr, buf); err != nil {
				return nil, &bundletype.ExtractError{Path: hdr.Name, Err: fmt.Errorf("read contents: %w", err)}
			}
			entries = append(entries, Entry{Path: name, Data: buf, Mode: hdr.FileInfo().Mode().Perm()})
		default:
			cfg.logger.Debug("skipping archive entry", "path", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

// cleanName strips leading separators and "./" and rejects names that
// climb out of the archive root.
func cleanName(name string) (string, error) {
	name = strings.TrimLeft(name, "/")
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errEscapesRoot
	}
	return clean, nil
}

func entryName(hdr *tar.Header) string {
	if hdr == nil {
		return ""
	}
	return hdr.Name
}
