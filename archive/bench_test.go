package archive_test

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/meigma/bundle/archive"
	"github.com/meigma/bundle/internal/testutil"
	"github.com/meigma/bundle/vfs/memfs"
)

var (
	benchSinkBytes   []byte
	benchSinkEntries []archive.Entry
)

type benchPattern string

const (
	benchPatternCompressible benchPattern = "compressible"
	benchPatternRandom       benchPattern = "random"

	benchDirCount = 16
)

func makeBenchEntries(fileCount, fileSize int, pattern benchPattern) []testutil.TarEntry {
	rng := rand.New(rand.NewSource(int64(fileCount*fileSize + 1)))
	entries := make([]testutil.TarEntry, 0, fileCount+benchDirCount)
	for d := range benchDirCount {
		entries = append(entries, testutil.TarEntry{Name: fmt.Sprintf("dir%02d/", d)})
	}
	for i := range fileCount {
		var data string
		switch pattern {
		case benchPatternRandom:
			buf := make([]byte, fileSize)
			rng.Read(buf)
			data = string(buf)
		default:
			data = strings.Repeat(fmt.Sprintf("line %d of the level data\n", i), fileSize/24+1)[:fileSize]
		}
		entries = append(entries, testutil.TarEntry{
			Name: fmt.Sprintf("dir%02d/file%04d.bin", i%benchDirCount, i),
			Data: data,
		})
	}
	return entries
}

func BenchmarkInflate(b *testing.B) {
	cases := []struct {
		name      string
		fileCount int
		fileSize  int
		pattern   benchPattern
	}{
		{name: "files=128/size=16k/compressible", fileCount: 128, fileSize: 16 << 10, pattern: benchPatternCompressible},
		{name: "files=128/size=16k/random", fileCount: 128, fileSize: 16 << 10, pattern: benchPatternRandom},
		{name: "files=16/size=1m/compressible", fileCount: 16, fileSize: 1 << 20, pattern: benchPatternCompressible},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			compressed := testutil.BuildTarGz(b, makeBenchEntries(tc.fileCount, tc.fileSize, tc.pattern))

			b.SetBytes(int64(tc.fileCount * tc.fileSize))
			b.ReportAllocs()
			b.ResetTimer()
			for b.Loop() {
				raw, err := archive.Inflate(compressed)
				if err != nil {
					b.Fatal(err)
				}
				benchSinkBytes = raw
			}
		})
	}
}

func BenchmarkExtract(b *testing.B) {
	raw := testutil.BuildTar(b, makeBenchEntries(512, 4<<10, benchPatternCompressible))

	b.SetBytes(int64(len(raw)))
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		entries, err := archive.Extract(raw)
		if err != nil {
			b.Fatal(err)
		}
		benchSinkEntries = entries
	}
}

func BenchmarkMaterialize(b *testing.B) {
	entries, err := archive.Extract(testutil.BuildTar(b, makeBenchEntries(512, 4<<10, benchPatternCompressible)))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.SetBytes(512 * 4 << 10)
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if err := archive.Materialize(ctx, memfs.New(), entries, "/data"); err != nil {
			b.Fatal(err)
		}
	}
}
