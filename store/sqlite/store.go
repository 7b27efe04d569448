// Package sqlite provides a store.Store backed by a single SQLite table.
//
// Every record lives in one table keyed by string. Each call takes its own
// connection from a pool and runs as its own statement, matching the
// one-transaction-per-call contract of store.Store.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// MemoryPath opens a private in-memory database. The pool size is forced
// to 1 since each in-memory connection is an independent database.
const MemoryPath = ":memory:"

const defaultPoolSize = 4

const schema = `CREATE TABLE IF NOT EXISTS records (
	key   TEXT PRIMARY KEY NOT NULL,
	value BLOB
) WITHOUT ROWID`

// Store implements store.Store on SQLite.
type Store struct {
	path     string
	poolSize int
	logger   *slog.Logger

	mu   sync.RWMutex // held exclusively while the pool is replaced
	pool *sqlitex.Pool
}

// Option configures a Store.
type Option func(*Store)

// WithPoolSize sets the number of pooled connections. Defaults to 4.
func WithPoolSize(n int) Option {
	return func(s *Store) {
		s.poolSize = n
	}
}

// WithLogger sets the logger for pool lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens or creates the database at path.
// The caller must call Close when the store is no longer needed.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	s := &Store{
		path:     path,
		poolSize: defaultPoolSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.poolSize <= 0 || path == MemoryPath {
		s.poolSize = 1
	}

	pool, err := s.open()
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func (s *Store) open() (*sqlitex.Pool, error) {
	pool, err := sqlitex.NewPool(s.path, sqlitex.PoolOptions{
		PoolSize:    s.poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", s.path, err)
	}
	s.logger.Debug("sqlite store opened", "path", s.path, "pool_size", s.poolSize)
	return pool, nil
}

// prepareConnection applies pragmas and creates the records table.
// It runs once per pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteTransient(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: creating schema: %w", err)
	}
	return nil
}

// withConn runs fn on a pooled connection while holding the shared lock.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return errors.New("sqlite: store is closed")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT value FROM records WHERE key = ?`, &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO records (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []any{key, value}})
	})
}

// Contains reports whether key is present.
func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT 1 FROM records WHERE key = ?`, &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	})
	return found, err
}

// DeleteAll closes the pool, deletes the database files, and reopens an
// empty database. In-memory databases are emptied in place.
func (s *Store) DeleteAll(ctx context.Context) error {
	if s.path == MemoryPath {
		return s.withConn(ctx, func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, `DELETE FROM records`, nil)
		})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			return fmt.Errorf("sqlite: closing %s: %w", s.path, err)
		}
		s.pool = nil
	}
	for _, name := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("sqlite: removing %s: %w", name, err)
		}
	}
	pool, err := s.open()
	if err != nil {
		return err
	}
	s.pool = pool
	s.logger.Info("sqlite store recreated", "path", s.path)
	return nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes all pooled connections. Blocks until borrowed connections
// are returned.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil
	}
	err := s.pool.Close()
	s.pool = nil
	if err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", s.path, err)
	}
	return nil
}
