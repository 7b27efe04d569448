package download_test

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/download"
	bundlehttp "github.com/meigma/bundle/http"
	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/manifest"
)

// chunkServer serves fixed chunk bodies and records request order.
type chunkServer struct {
	mu     sync.Mutex
	chunks map[string][]byte
	order  []string
}

func (s *chunkServer) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.mu.Lock()
	s.order = append(s.order, r.URL.Path)
	data, ok := s.chunks[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		nethttp.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (s *chunkServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func TestDownloadSequentialAssembly(t *testing.T) {
	t.Parallel()

	a := bytes.Repeat([]byte{'a'}, 10)
	b := bytes.Repeat([]byte{'b'}, 5)
	cs := &chunkServer{chunks: map[string][]byte{"/v1/a": a, "/v1/b": b}}
	server := httptest.NewServer(cs)
	t.Cleanup(server.Close)

	var events []bundletype.ProgressEvent
	d := download.New(bundlehttp.NewFetcher(), download.WithProgress(func(ev bundletype.ProgressEvent) {
		events = append(events, ev)
	}))

	m := &manifest.Manifest{TotalSize: 15, Chunks: []string{"a", "b"}}
	got, err := d.Download(context.Background(), server.URL+"/v1", m)
	require.NoError(t, err)
	require.Len(t, got, 15)
	assert.Equal(t, a, got[:10])
	assert.Equal(t, b, got[10:])
	assert.Equal(t, []string{"/v1/a", "/v1/b"}, cs.requests())

	require.Len(t, events, 2)
	assert.Equal(t, bundletype.StageDownloading, events[0].Stage)
	assert.Equal(t, "a", events[0].Path)
	assert.Equal(t, 1, events[0].ChunksDone)
	assert.Equal(t, 2, events[0].ChunksTotal)
	assert.Equal(t, uint64(10), events[0].BytesDone)
	assert.Equal(t, uint64(15), events[0].BytesTotal)
	assert.Equal(t, 2, events[1].ChunksDone)
	assert.Equal(t, uint64(15), events[1].BytesDone)
}

func TestDownloadChunkFailureAborts(t *testing.T) {
	t.Parallel()

	cs := &chunkServer{chunks: map[string][]byte{"/a": []byte("12345"), "/c": []byte("xx")}}
	server := httptest.NewServer(cs)
	t.Cleanup(server.Close)

	d := download.New(bundlehttp.NewFetcher())
	m := &manifest.Manifest{TotalSize: 12, Chunks: []string{"a", "b", "c"}}
	got, err := d.Download(context.Background(), server.URL, m)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, bundletype.ErrDownload)

	var de *bundletype.DownloadError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "b", de.Chunk)

	// Nothing after the failing chunk is requested.
	assert.Equal(t, []string{"/a", "/b"}, cs.requests())
}

func TestDownloadSizeMismatch(t *testing.T) {
	t.Parallel()

	cs := &chunkServer{chunks: map[string][]byte{"/a": []byte("1234"), "/b": []byte("56")}}
	server := httptest.NewServer(cs)
	t.Cleanup(server.Close)
	d := download.New(bundlehttp.NewFetcher())

	short := &manifest.Manifest{TotalSize: 10, Chunks: []string{"a", "b"}}
	_, err := d.Download(context.Background(), server.URL, short)
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrSizeMismatch)

	long := &manifest.Manifest{TotalSize: 5, Chunks: []string{"a", "b"}}
	_, err = d.Download(context.Background(), server.URL, long)
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrSizeMismatch)
	var de *bundletype.DownloadError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "b", de.Chunk)
}

func TestDownloadEmptyManifest(t *testing.T) {
	t.Parallel()

	d := download.New(bundlehttp.NewFetcher())
	got, err := d.Download(context.Background(), "http://unused.invalid", &manifest.Manifest{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDownloadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := download.New(bundlehttp.NewFetcher())
	_, err := d.Download(ctx, "http://unused.invalid", &manifest.Manifest{TotalSize: 1, Chunks: []string{"a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
