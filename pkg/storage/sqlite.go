// Package storage owns the embedded SQLite store: opening and tuning the
// database, handing exclusive connection handles to the pool, persisting
// audit events, and the token vault used to keep masked originals
// recoverable.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/datacloak/workbench/pkg/pool"
)

// Open opens (creating if necessary) the SQLite database at path and applies
// the standing pragmas: WAL journaling for concurrent reads, enforced foreign
// keys, and a busy timeout so writers back off instead of failing fast.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("storage: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	return db, nil
}

// ConnFactory adapts db to the pool's lazy construction hook. Each pooled
// resource is a pinned *sql.Conn, so per-handle session state survives
// between uses.
func ConnFactory(db *sql.DB) pool.Factory[*sql.Conn] {
	return func(ctx context.Context) (*sql.Conn, error) {
		return db.Conn(ctx)
	}
}

// ConnCloser returns the teardown hook for pooled connections.
func ConnCloser() pool.Closer[*sql.Conn] {
	return func(conn *sql.Conn) error {
		return conn.Close()
	}
}
