// bundlefetch loads one or more bundles into a host directory through the
// bundle cache, then flushes the durable mount if one is configured.
//
// Configuration comes from an optional YAML file (--config) with flags
// overriding individual values:
//
//	bundlefetch --url https://cdn.example.com/v3/core.tar.gz --data-dir ./fs
//	bundlefetch --config bundlefetch.yaml --log-level debug
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meigma/bundle"
	"github.com/meigma/bundle/config"
	bundlehttp "github.com/meigma/bundle/http"
	"github.com/meigma/bundle/store"
	"github.com/meigma/bundle/store/disk"
	"github.com/meigma/bundle/store/memory"
	"github.com/meigma/bundle/store/sqlite"
	"github.com/meigma/bundle/vfs/osfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath    string
	urls          []string
	mount         string
	dataDir       string
	backend       string
	storePath     string
	chunkSize     int64
	formatVersion int
	durableMount  string
	durablePath   string
	userAgent     string
	maxBundleSize int64
	logLevel      string
}

func parseFlags(args []string, stderr io.Writer) (*flags, *pflag.FlagSet, error) {
	var f flags
	fs := pflag.NewFlagSet("bundlefetch", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a YAML configuration file")
	fs.StringArrayVarP(&f.urls, "url", "u", nil, "bundle URL to load (repeatable); replaces the configured bundles")
	fs.StringVar(&f.mount, "mount", bundle.DefaultMount, "virtual mount for bundles given with --url")
	fs.StringVar(&f.dataDir, "data-dir", "", "host directory backing the virtual filesystem")
	fs.StringVar(&f.backend, "store-backend", "", "cache backend: sqlite, disk, or memory")
	fs.StringVar(&f.storePath, "store-path", "", "cache database file or directory")
	fs.Int64Var(&f.chunkSize, "chunk-size", 0, "cache sub-record size in bytes")
	fs.IntVar(&f.formatVersion, "format-version", 0, "expected cache format version")
	fs.StringVar(&f.durableMount, "durable-mount", "", "virtual path persisted across sessions")
	fs.StringVar(&f.durablePath, "durable-path", "", "SQLite database holding the durable mount")
	fs.StringVar(&f.userAgent, "user-agent", "", "User-Agent header for downloads")
	fs.Int64Var(&f.maxBundleSize, "max-bundle-size", config.DefaultMaxBundleSize, "maximum decompressed bundle size in bytes (0 for no limit)")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return &f, fs, nil
}

// loadConfig reads the configuration file, if any, and applies flags that
// were set explicitly.
func loadConfig(f *flags, fs *pflag.FlagSet) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.Load(f.configPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if fs.Changed("url") {
		cfg.Bundles = cfg.Bundles[:0]
		for _, u := range f.urls {
			cfg.Bundles = append(cfg.Bundles, config.BundleConfig{URL: u, Mount: f.mount})
		}
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if fs.Changed("store-backend") {
		cfg.Store.Backend = config.Backend(f.backend)
	}
	if fs.Changed("store-path") {
		cfg.Store.Path = f.storePath
	}
	if fs.Changed("chunk-size") {
		cfg.Store.ChunkSize = f.chunkSize
	}
	if fs.Changed("format-version") {
		cfg.FormatVersion = f.formatVersion
	}
	if fs.Changed("durable-mount") {
		cfg.Durable.Mount = f.durableMount
	}
	if fs.Changed("durable-path") {
		cfg.Durable.Path = f.durablePath
	}
	if fs.Changed("user-agent") {
		cfg.HTTP.UserAgent = f.userAgent
	}
	if fs.Changed("max-bundle-size") {
		cfg.MaxBundleSize = f.maxBundleSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	level, err := parseLevel(f.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(f, fs)
	if err != nil {
		return err
	}

	cache, closeCache, err := openStore(cfg.Store.Backend, cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	fsys, err := osfs.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}

	opts := []bundle.Option{
		bundle.WithStore(cache),
		bundle.WithFS(fsys),
		bundle.WithFetcher(newFetcher(cfg)),
		bundle.WithVersion(cfg.FormatVersion),
		bundle.WithChunkSize(cfg.Store.ChunkSize),
		bundle.WithMaxBundleSize(cfg.MaxBundleSize),
		bundle.WithLogger(logger),
		bundle.WithProgress(progressLogger(logger)),
	}
	if cfg.Durable.Mount != "" {
		durable, closeDurable, err := openStore(config.BackendSQLite, cfg.Durable.Path, logger)
		if err != nil {
			return fmt.Errorf("open durable store: %w", err)
		}
		defer closeDurable()
		opts = append(opts, bundle.WithDurableMount(cfg.Durable.Mount, durable))
	}

	sess, err := bundle.NewSession(opts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	bundles := make([]bundle.Bundle, len(cfg.Bundles))
	for i, b := range cfg.Bundles {
		bundles[i] = bundle.Bundle{URL: b.URL, Mount: b.Mount}
	}
	results, err := sess.Start(ctx, bundles...)
	if err != nil {
		return err
	}
	if err := sess.Sync(ctx); err != nil {
		return err
	}

	for _, res := range results {
		source := "network"
		if res.CacheHit {
			source = "cache"
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%d bytes\t%s\n", res.Bundle.Mount, source, res.Digest, res.Size, res.Bundle.URL)
	}
	return nil
}

func openStore(backend config.Backend, path string, logger *slog.Logger) (store.Store, func(), error) {
	switch backend {
	case config.BackendMemory:
		return memory.New(), func() {}, nil
	case config.BackendDisk:
		s, err := disk.New(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, nil, err
		}
		s, err := sqlite.Open(path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("closing store", "path", path, "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func newFetcher(cfg *config.Config) *bundlehttp.Fetcher {
	headers := make(nethttp.Header, len(cfg.HTTP.Headers))
	for k, v := range cfg.HTTP.Headers {
		headers.Set(k, v)
	}
	opts := []bundlehttp.Option{
		bundlehttp.WithClient(&nethttp.Client{Timeout: cfg.HTTP.Timeout}),
		bundlehttp.WithHeaders(headers),
		bundlehttp.WithMaxBytes(cfg.HTTP.MaxBytes),
	}
	if cfg.HTTP.UserAgent != "" {
		opts = append(opts, bundlehttp.WithUserAgent(cfg.HTTP.UserAgent))
	}
	return bundlehttp.NewFetcher(opts...)
}

// progressLogger reports chunk and stage progress. Per-entry extraction
// events are logged at debug level only.
func progressLogger(logger *slog.Logger) bundle.ProgressFunc {
	return func(ev bundle.ProgressEvent) {
		attrs := []any{"stage", ev.Stage.String(), "url", ev.URL}
		switch ev.Stage {
		case bundle.StageDownloading:
			logger.Info("progress", append(attrs,
				"chunk", fmt.Sprintf("%d/%d", ev.ChunksDone, ev.ChunksTotal),
				"bytes", fmt.Sprintf("%d/%d", ev.BytesDone, ev.BytesTotal))...)
		case bundle.StageExtracting:
			logger.Debug("progress", append(attrs, "path", ev.Path, "files", ev.FilesDone)...)
		default:
			if ev.Path != "" {
				attrs = append(attrs, "path", ev.Path)
			}
			logger.Info("progress", attrs...)
		}
	}
}
