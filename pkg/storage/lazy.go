package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/datacloak/workbench/pkg/pool"
)

// ErrNotInitialized is returned when the lazy pool is used before Init.
// The exact wording is relied on by callers and tests; do not change it.
var ErrNotInitialized = errors.New("SQLite pool not initialized")

// Config holds the pooled-store configuration.
type Config struct {
	// Path is the SQLite database file, or ":memory:".
	Path string
	// MaxConnections bounds the connection pool. Must be at least 1.
	MaxConnections int
	// AcquireTimeout bounds how long a caller waits for a free connection.
	AcquireTimeout time.Duration
}

// LazyPool defers opening the database and building the connection pool
// until Init is called. Every accessor fails with ErrNotInitialized before
// that, so misordered startup surfaces immediately instead of as a nil
// dereference deep in a query.
type LazyPool struct {
	logger *slog.Logger

	mu   sync.RWMutex
	db   *sql.DB
	pool *pool.Pool[*sql.Conn]
}

// NewLazyPool constructs an uninitialized pool wrapper. The logger may be
// nil, in which case slog.Default() is used.
func NewLazyPool(logger *slog.Logger) *LazyPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &LazyPool{logger: logger}
}

// Init opens the database and builds the bounded connection pool. Calling
// Init twice is an error; close the pool first.
func (l *LazyPool) Init(cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pool != nil {
		return errors.New("storage: pool already initialized")
	}

	db, err := Open(cfg.Path)
	if err != nil {
		return err
	}
	// The bounded pool is the single authority on connection count; cap the
	// underlying database/sql pool to match.
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	p, err := pool.New(pool.Config{
		Capacity:       cfg.MaxConnections,
		AcquireTimeout: cfg.AcquireTimeout,
	}, ConnFactory(db), ConnCloser(), l.logger)
	if err != nil {
		db.Close()
		return err
	}

	l.db = db
	l.pool = p
	l.logger.Info("SQLite pool initialized", "path", cfg.Path, "max_connections", cfg.MaxConnections)
	return nil
}

// Acquire borrows an exclusive connection from the pool.
func (l *LazyPool) Acquire(ctx context.Context) (*sql.Conn, error) {
	l.mu.RLock()
	p := l.pool
	l.mu.RUnlock()
	if p == nil {
		return nil, ErrNotInitialized
	}
	return p.Acquire(ctx)
}

// Release returns a borrowed connection.
func (l *LazyPool) Release(conn *sql.Conn) error {
	l.mu.RLock()
	p := l.pool
	l.mu.RUnlock()
	if p == nil {
		return ErrNotInitialized
	}
	return p.Release(conn)
}

// Stats reports pool occupancy.
func (l *LazyPool) Stats() (pool.Stats, error) {
	l.mu.RLock()
	p := l.pool
	l.mu.RUnlock()
	if p == nil {
		return pool.Stats{}, ErrNotInitialized
	}
	return p.Stats(), nil
}

// Timeouts reports how many acquires have timed out. Returns zero before
// Init; a counter on an uninitialized pool is not an error worth surfacing.
func (l *LazyPool) Timeouts() uint64 {
	l.mu.RLock()
	p := l.pool
	l.mu.RUnlock()
	if p == nil {
		return 0
	}
	return p.Timeouts()
}

// Close tears down the pool and the database. Safe to call when Init never
// ran, and safe to call twice.
func (l *LazyPool) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pool == nil {
		return nil
	}

	err := l.pool.Close()
	if dbErr := l.db.Close(); err == nil {
		err = dbErr
	}
	l.pool = nil
	l.db = nil
	return err
}
