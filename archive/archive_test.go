package archive_test

import (
	"context"
	"errors"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbatts/tar-split/archive/tar"

	"github.com/meigma/bundle/archive"
	"github.com/meigma/bundle/download"
	bundlehttp "github.com/meigma/bundle/http"
	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/testutil"
	"github.com/meigma/bundle/manifest"
	"github.com/meigma/bundle/vfs"
	"github.com/meigma/bundle/vfs/memfs"
)

func TestInflate(t *testing.T) {
	t.Parallel()

	raw := []byte("raw archive stream")
	got, err := archive.Inflate(testutil.Gzip(t, raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestInflateMalformed(t *testing.T) {
	t.Parallel()

	_, err := archive.Inflate([]byte("definitely not gzip"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrDecompress)

	compressed := testutil.Gzip(t, []byte("some longer payload that will be truncated"))
	_, err = archive.Inflate(compressed[:len(compressed)-6])
	assert.ErrorIs(t, err, bundletype.ErrDecompress)
}

func TestInflateMaxSize(t *testing.T) {
	t.Parallel()

	compressed := testutil.Gzip(t, make([]byte, 1024))
	_, err := archive.Inflate(compressed, archive.WithMaxInflatedSize(100))
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrDecompress)
	assert.ErrorIs(t, err, bundletype.ErrSizeOverflow)

	got, err := archive.Inflate(compressed, archive.WithMaxInflatedSize(0))
	require.NoError(t, err)
	assert.Len(t, got, 1024)
}

func TestExtract(t *testing.T) {
	t.Parallel()

	data := testutil.BuildTar(t, []testutil.TarEntry{
		{Name: "./"},
		{Name: "/a.txt", Data: "hi"},
		{Name: "./sub/"},
		{Name: "sub/b.bin", Data: "bytes", Mode: 0o600},
		{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "a.txt"},
		{Name: "empty.txt"},
	})

	entries, err := archive.Extract(data)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, archive.Entry{Path: "a.txt", Data: []byte("hi"), Mode: 0o644}, entries[0])
	assert.Equal(t, "sub", entries[1].Path)
	assert.True(t, entries[1].IsDir)
	assert.Nil(t, entries[1].Data)
	assert.Equal(t, "sub/b.bin", entries[2].Path)
	assert.Equal(t, []byte("bytes"), entries[2].Data)
	assert.Equal(t, 0o600, int(entries[2].Mode))
	assert.Equal(t, "empty.txt", entries[3].Path)
	assert.Empty(t, entries[3].Data)
}

func TestExtractRejectsEscape(t *testing.T) {
	t.Parallel()

	data := testutil.BuildTar(t, []testutil.TarEntry{
		{Name: "ok.txt", Data: "x"},
		{Name: "../evil.txt", Data: "x"},
	})
	_, err := archive.Extract(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrExtract)

	var ee *bundletype.ExtractError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "../evil.txt", ee.Path)
}

func TestExtractMalformed(t *testing.T) {
	t.Parallel()

	data := testutil.BuildTar(t, []testutil.TarEntry{{Name: "a.txt", Data: "hello world"}})
	_, err := archive.Extract(data[:600])
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrExtract)
}

func TestExtractEmpty(t *testing.T) {
	t.Parallel()

	entries, err := archive.Extract(testutil.BuildTar(t, nil))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMaterialize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("/data/sub", 0o755))

	entries := []archive.Entry{
		{Path: "sub", IsDir: true},
		{Path: "deep/nested/file.txt", Data: []byte("abc")},
		{Path: "top.txt", Data: []byte("hello")},
	}
	var events []bundletype.ProgressEvent
	err := archive.Materialize(ctx, fsys, entries, "/data",
		archive.WithProgress(func(ev bundletype.ProgressEvent) { events = append(events, ev) }))
	require.NoError(t, err)

	got, err := fsys.ReadFile("/data/deep/nested/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got, err = fsys.ReadFile("/data/top.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, bundletype.StageExtracting, last.Stage)
	assert.Equal(t, 3, last.FilesDone)
	assert.Equal(t, uint64(8), last.BytesDone)
	assert.Equal(t, uint64(8), last.BytesTotal)
	assert.Equal(t, "/data/top.txt", last.Path)

	assert.False(t, vfs.Exists(fsys, "/data/"+archive.MarkerName))
}

func TestMaterializeMarker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fsys := memfs.New()
	d := digest.FromString("bundle")
	entries := []archive.Entry{{Path: "a.txt", Data: []byte("hi")}}
	require.NoError(t, archive.Materialize(ctx, fsys, entries, "/data", archive.WithMarker(d)))

	got, ok := archive.ReadMarker(fsys, "/data")
	require.True(t, ok)
	assert.Equal(t, d, got)

	// A failing run leaves no marker behind.
	require.NoError(t, fsys.WriteFile("/data/blocker", []byte("file"), 0o644))
	bad := []archive.Entry{{Path: "blocker/child.txt", Data: []byte("x")}}
	err := archive.Materialize(ctx, fsys, bad, "/data", archive.WithMarker(digest.FromString("other")))
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrExtract)
	_, ok = archive.ReadMarker(fsys, "/data")
	assert.False(t, ok)
}

func TestMaterializeRejectsOutsideMount(t *testing.T) {
	t.Parallel()

	fsys := memfs.New()
	err := archive.Materialize(context.Background(), fsys, []archive.Entry{{Path: "../etc/passwd", Data: []byte("x")}}, "/data")
	require.Error(t, err)
	assert.ErrorIs(t, err, bundletype.ErrExtract)
	assert.False(t, vfs.Exists(fsys, "/etc/passwd"))
}

func TestMaterializeCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fsys := memfs.New()
	err := archive.Materialize(ctx, fsys, []archive.Entry{{Path: "a", Data: []byte("x")}}, "/data")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, vfs.Exists(fsys, "/data/a"))
}

func TestDownloadInflateExtract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	compressed := testutil.BuildTarGz(t, []testutil.TarEntry{
		{Name: "a.txt", Data: "hi"},
		{Name: "sub/"},
	})
	server := testutil.NewBundleServer(t)
	bundleURL := server.Publish("/bundles/data.tar.gz", compressed, 2)

	fetcher := bundlehttp.NewFetcher()
	m, err := manifest.Fetch(ctx, fetcher, bundleURL)
	require.NoError(t, err)
	require.Len(t, m.Chunks, 2)

	base, err := manifest.BaseURL(bundleURL)
	require.NoError(t, err)
	assembled, err := download.New(fetcher).Download(ctx, base, m)
	require.NoError(t, err)

	raw, err := archive.Inflate(assembled)
	require.NoError(t, err)
	entries, err := archive.Extract(raw)
	require.NoError(t, err)

	fsys := memfs.New()
	require.NoError(t, archive.Materialize(ctx, fsys, entries, "/data"))

	got, err := fsys.ReadFile("/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
	info, err := fsys.Stat("/data/sub")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
