package storage

import (
	"context"
	"fmt"
	"time"
)

// AuditEvent is one persisted record of an engine invocation.
type AuditEvent struct {
	ID         int64     `json:"id"`
	Operation  string    `json:"operation"`
	Target     string    `json:"target"`
	Findings   int       `json:"findings"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditStore persists engine audit events through pooled connections. Every
// method borrows a connection for exactly the duration of one statement.
type AuditStore struct {
	pool *LazyPool
}

// NewAuditStore wires an audit store onto an initialized (or
// soon-to-be-initialized) pool.
func NewAuditStore(p *LazyPool) *AuditStore {
	return &AuditStore{pool: p}
}

// EnsureSchema creates the audit table if it does not exist.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)

	_, err = conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			operation   TEXT    NOT NULL,
			target      TEXT    NOT NULL DEFAULT '',
			findings    INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT    NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("storage: create audit schema: %w", err)
	}
	return nil
}

// Record inserts one audit event.
func (s *AuditStore) Record(ctx context.Context, event AuditEvent) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO audit_events (operation, target, findings, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.Operation, event.Target, event.Findings, event.DurationMs,
		createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: record audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(conn)

	rows, err := conn.QueryContext(ctx,
		`SELECT id, operation, target, findings, duration_ms, created_at
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var event AuditEvent
		var createdAt string
		if err := rows.Scan(&event.ID, &event.Operation, &event.Target,
			&event.Findings, &event.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			event.CreatedAt = ts
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
