// Package manifest fetches and parses bundle chunk manifests.
//
// A manifest is a plain text document published next to a bundle at
// "<bundle-url>.manifest". The first line is the bundle's total size in
// bytes as a decimal integer; each following non-empty line names one
// download chunk, relative to the bundle's directory, in fetch order:
//
//	104857600
//	data.tar.gz.000
//	data.tar.gz.001
package manifest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/meigma/bundle/internal/bundletype"
)

// Suffix is appended to a bundle URL to locate its manifest.
const Suffix = ".manifest"

// Manifest describes how a bundle is split into download chunks.
type Manifest struct {
	// TotalSize is the size of the assembled bundle in bytes. The chunk
	// lengths must add up to exactly this value.
	TotalSize int64

	// Chunks names each download chunk in fetch order.
	Chunks []string
}

// Getter retrieves a whole resource by URL.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// URL returns the manifest location for bundleURL.
func URL(bundleURL string) string {
	return bundleURL + Suffix
}

// BaseURL returns the directory chunk names are resolved against:
// bundleURL with its last path element, query, and fragment removed.
func BaseURL(bundleURL string) (string, error) {
	u, err := url.Parse(bundleURL)
	if err != nil {
		return "", err
	}
	dir := path.Dir(u.Path)
	if dir == "/" || dir == "." {
		dir = ""
	}
	u.Path = dir
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// ChunkURL resolves a chunk name against baseURL.
func ChunkURL(baseURL, name string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + name
}

// Parse parses a manifest document.
//
// The trailing empty element produced by a final newline is dropped, as are
// blank lines between chunk names. Carriage returns are ignored.
func Parse(data []byte) (*Manifest, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, &bundletype.ManifestError{Err: errors.New("empty document")}
	}

	first := strings.TrimSpace(lines[0])
	total, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return nil, &bundletype.ManifestError{Err: fmt.Errorf("total size %q: not a decimal integer", first)}
	}
	if total < 0 {
		return nil, &bundletype.ManifestError{Err: fmt.Errorf("total size %d: negative", total)}
	}

	m := &Manifest{TotalSize: total, Chunks: make([]string, 0, len(lines)-1)}
	for _, line := range lines[1:] {
		name := strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(name) == "" {
			continue
		}
		m.Chunks = append(m.Chunks, name)
	}
	if m.TotalSize > 0 && len(m.Chunks) == 0 {
		return nil, &bundletype.ManifestError{Err: fmt.Errorf("total size %d with no chunks", m.TotalSize)}
	}
	return m, nil
}

// Fetch retrieves and parses the manifest of bundleURL.
// A failed request is reported as a *bundletype.DownloadError naming the
// manifest URL; a malformed document as a *bundletype.ManifestError.
func Fetch(ctx context.Context, g Getter, bundleURL string) (*Manifest, error) {
	u := URL(bundleURL)
	data, err := g.Get(ctx, u)
	if err != nil {
		return nil, &bundletype.DownloadError{Chunk: u, Err: err}
	}
	m, err := Parse(data)
	if err != nil {
		var me *bundletype.ManifestError
		if errors.As(err, &me) {
			me.URL = u
		}
		return nil, err
	}
	return m, nil
}
