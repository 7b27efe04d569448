// Package config loads the bundlefetch configuration file.
//
// The file is YAML. Values missing from the file keep the defaults from
// [Default]; ${HOME} and other ${VAR} references in paths are expanded after
// loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/bundle/archive"
)

// Backend selects the store implementation.
type Backend string

const (
	// BackendSQLite stores records in a single SQLite database file.
	BackendSQLite Backend = "sqlite"
	// BackendDisk stores one file per record under a directory.
	BackendDisk Backend = "disk"
	// BackendMemory keeps records in memory for the life of the process.
	BackendMemory Backend = "memory"
)

// DefaultChunkSize is the default storage sub-record size in bytes.
const DefaultChunkSize int64 = 20_000_000

// DefaultMaxBundleSize is the default limit on a decompressed bundle.
const DefaultMaxBundleSize = archive.DefaultMaxInflatedSize

// Config is the bundlefetch configuration.
type Config struct {
	// FormatVersion is the expected cache format version. A store written
	// with a different version is purged on open.
	FormatVersion int `yaml:"format_version"`

	// DataDir is the host directory backing the virtual filesystem.
	DataDir string `yaml:"data_dir"`

	// MaxBundleSize limits the decompressed size of one bundle in bytes.
	// Zero disables the limit.
	MaxBundleSize int64 `yaml:"max_bundle_size"`

	// Store configures the bundle cache.
	Store StoreConfig `yaml:"store"`

	// HTTP configures manifest and chunk downloads.
	HTTP HTTPConfig `yaml:"http"`

	// Durable configures the durable user-data mount.
	Durable DurableConfig `yaml:"durable"`

	// Bundles lists the bundles to load, in order.
	Bundles []BundleConfig `yaml:"bundles"`
}

// StoreConfig configures the bundle cache store.
type StoreConfig struct {
	// Backend is one of sqlite, disk, or memory.
	// Default: sqlite
	Backend Backend `yaml:"backend"`

	// Path is the database file (sqlite) or directory (disk).
	// Default: ${HOME}/.cache/bundlefetch/cache.db
	Path string `yaml:"path"`

	// ChunkSize is the storage sub-record size in bytes.
	// Default: 20000000
	ChunkSize int64 `yaml:"chunk_size"`
}

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`

	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxBytes limits the size of one response body.
	// Default: 1GB
	MaxBytes int64 `yaml:"max_bytes"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`
}

// DurableConfig configures the durable mount.
type DurableConfig struct {
	// Mount is the virtual path synchronized with durable storage.
	// Empty disables the durable mount.
	Mount string `yaml:"mount"`

	// Path is the SQLite database holding the durable mount.
	// Default: ${HOME}/.local/share/bundlefetch/durable.db
	Path string `yaml:"path"`
}

// BundleConfig names one bundle and where it is extracted.
type BundleConfig struct {
	// URL is the bundle URL. The manifest is fetched from URL + ".manifest".
	URL string `yaml:"url"`

	// Mount is the virtual path the bundle is extracted under.
	// Default: /data
	Mount string `yaml:"mount"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		FormatVersion: 1,
		DataDir:       filepath.Join("${HOME}", ".cache", "bundlefetch", "fs"),
		MaxBundleSize: DefaultMaxBundleSize,
		Store: StoreConfig{
			Backend:   BackendSQLite,
			Path:      filepath.Join("${HOME}", ".cache", "bundlefetch", "cache.db"),
			ChunkSize: DefaultChunkSize,
		},
		HTTP: HTTPConfig{
			UserAgent: "bundlefetch",
			MaxBytes:  1 << 30,
		},
		Durable: DurableConfig{
			Path: filepath.Join("${HOME}", ".local", "share", "bundlefetch", "durable.db"),
		},
	}
}

// Load reads the configuration file at path over the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.applyBundleDefaults()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyBundleDefaults() {
	for i := range c.Bundles {
		if c.Bundles[i].Mount == "" {
			c.Bundles[i].Mount = "/data"
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	c.DataDir = expandVars(c.DataDir)
	c.Store.Path = expandVars(c.Store.Path)
	c.Durable.Path = expandVars(c.Durable.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if parts[1] == "HOME" {
			if home, err := os.UserHomeDir(); err == nil {
				return home
			}
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.FormatVersion < 0 {
		errs = append(errs, fmt.Errorf("format_version must be >= 0, got %d", c.FormatVersion))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.MaxBundleSize < 0 {
		errs = append(errs, errors.New("max_bundle_size must be >= 0"))
	}

	switch c.Store.Backend {
	case BackendSQLite, BackendDisk:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for backend %s", c.Store.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid store.backend: %q", c.Store.Backend))
	}
	if c.Store.ChunkSize <= 0 {
		errs = append(errs, errors.New("store.chunk_size must be > 0"))
	}

	if c.HTTP.MaxBytes < 0 {
		errs = append(errs, errors.New("http.max_bytes must be >= 0"))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("http.timeout must be >= 0"))
	}

	if c.Durable.Mount != "" {
		if !strings.HasPrefix(c.Durable.Mount, "/") {
			errs = append(errs, fmt.Errorf("durable.mount must be absolute: %q", c.Durable.Mount))
		}
		if c.Durable.Path == "" {
			errs = append(errs, errors.New("durable.path is required when durable.mount is set"))
		}
	}

	if len(c.Bundles) == 0 {
		errs = append(errs, errors.New("at least one bundle is required"))
	}
	for i, b := range c.Bundles {
		u, err := url.Parse(b.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("bundles[%d].url must be an http(s) URL: %q", i, b.URL))
		}
		if !strings.HasPrefix(b.Mount, "/") {
			errs = append(errs, fmt.Errorf("bundles[%d].mount must be absolute: %q", i, b.Mount))
		}
		if c.Durable.Mount != "" && overlaps(b.Mount, c.Durable.Mount) {
			errs = append(errs, fmt.Errorf("bundles[%d].mount %q overlaps durable.mount %q", i, b.Mount, c.Durable.Mount))
		}
	}

	return errors.Join(errs...)
}

func overlaps(a, b string) bool {
	a = strings.TrimSuffix(a, "/") + "/"
	b = strings.TrimSuffix(b, "/") + "/"
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}
