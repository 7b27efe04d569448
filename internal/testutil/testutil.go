// Package testutil provides fixtures shared by package tests: gzip+tar
// bundle construction and an HTTP server publishing bundles as manifests
// plus chunk files.
package testutil

import (
	"bytes"
	"fmt"
	"io/fs"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/vbatts/tar-split/archive/tar"
)

// TarEntry describes one member of a test archive. Names ending in "/" are
// directories.
type TarEntry struct {
	Name     string
	Data     string
	Mode     fs.FileMode
	Typeflag byte
	Linkname string
}

// BuildTar writes entries into an uncompressed tar stream.
func BuildTar(tb testing.TB, entries []TarEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     int64(e.Mode.Perm()),
			Typeflag: e.Typeflag,
			Linkname: e.Linkname,
		}
		switch {
		case hdr.Typeflag != 0:
		case strings.HasSuffix(e.Name, "/"):
			hdr.Typeflag = tar.TypeDir
		default:
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
			if hdr.Typeflag == tar.TypeDir {
				hdr.Mode = 0o755
			}
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.Data))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatalf("write tar header %s: %v", e.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write([]byte(e.Data)); err != nil {
				tb.Fatalf("write tar data %s: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		tb.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

// Gzip compresses data.
func Gzip(tb testing.TB, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		tb.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// BuildTarGz returns a gzip-compressed tar stream holding entries.
func BuildTarGz(tb testing.TB, entries []TarEntry) []byte {
	tb.Helper()
	return Gzip(tb, BuildTar(tb, entries))
}

// Split cuts data into n nearly equal pieces. Some pieces may be empty
// when n exceeds len(data).
func Split(data []byte, n int) [][]byte {
	if n <= 0 {
		return nil
	}
	parts := make([][]byte, n)
	size := (len(data) + n - 1) / n
	for i := range n {
		start := min(i*size, len(data))
		end := min(start+size, len(data))
		parts[i] = data[start:end]
	}
	return parts
}

// Manifest renders the manifest document for the given chunk names and
// total size.
func Manifest(total int, names []string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(total))
	b.WriteByte('\n')
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.String()
}

// BundleServer publishes bundles over HTTP as "<path>.manifest" plus chunk
// files next to it, and counts requests per path.
type BundleServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests map[string]int
	failing  map[string]int
}

// NewBundleServer starts an empty server. It is closed when the test ends.
func NewBundleServer(tb testing.TB) *BundleServer {
	tb.Helper()

	s := &BundleServer{
		files:    make(map[string][]byte),
		requests: make(map[string]int),
		failing:  make(map[string]int),
	}
	s.Server = httptest.NewServer(nethttp.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

func (s *BundleServer) serve(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.mu.Lock()
	s.requests[r.URL.Path]++
	data, ok := s.files[r.URL.Path]
	status := s.failing[r.URL.Path]
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		nethttp.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

// Publish splits compressed into chunks pieces, serves them with a manifest
// under urlPath, and returns the bundle URL.
func (s *BundleServer) Publish(urlPath string, compressed []byte, chunks int) string {
	parts := Split(compressed, chunks)
	dir := urlPath[:strings.LastIndex(urlPath, "/")+1]
	base := urlPath[len(dir):]

	names := make([]string, len(parts))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, part := range parts {
		names[i] = fmt.Sprintf("%s.%03d", base, i)
		s.files[dir+names[i]] = part
	}
	s.files[urlPath+".manifest"] = []byte(Manifest(len(compressed), names))
	return s.URL + urlPath
}

// Put serves data at urlPath.
func (s *BundleServer) Put(urlPath string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[urlPath] = data
}

// Fail makes requests for urlPath answer with status.
func (s *BundleServer) Fail(urlPath string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[urlPath] = status
}

// Requests returns the number of requests observed for urlPath.
func (s *BundleServer) Requests(urlPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[urlPath]
}

// TotalRequests returns the number of requests observed for all paths.
func (s *BundleServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.requests {
		n += c
	}
	return n
}
