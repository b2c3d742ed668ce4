// Package audit implements a local, durable retry queue for audit events
// that failed to ZADD to the state store (spec §7 category 2: "audit write
// failure is logged but does not abort the rewrite"). It is purely a
// reliability side-channel — never consulted by DLP or OTT decisions — so
// an audit event surviving a process restart doesn't silently vanish.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_spool (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	score REAL NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_spool_pending ON audit_spool(delivered, id);
`

// Spool wraps a local SQLite database storing pending audit events.
type Spool struct {
	db *sql.DB
}

// Open creates (if needed) and opens the spool database at path.
func Open(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening spool db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating schema: %w", err)
	}
	return &Spool{db: db}, nil
}

// Enqueue persists one pending audit record for later redelivery.
func (s *Spool) Enqueue(score float64, payload string) error {
	_, err := s.db.Exec(
		"INSERT INTO audit_spool (score, payload, created_at, delivered) VALUES (?, ?, ?, 0)",
		score, payload, time.Now().Unix(),
	)
	return err
}

// Entry is one pending audit record awaiting redelivery.
type Entry struct {
	ID      int64
	Score   float64
	Payload string
}

// Pending returns up to limit undelivered entries, oldest first.
func (s *Spool) Pending(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT id, score, payload FROM audit_spool WHERE delivered = 0 ORDER BY id ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Score, &e.Payload); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDelivered marks an entry as successfully redelivered.
func (s *Spool) MarkDelivered(id int64) error {
	_, err := s.db.Exec("UPDATE audit_spool SET delivered = 1 WHERE id = ?", id)
	return err
}

// Close releases the underlying database handle.
func (s *Spool) Close() error { return s.db.Close() }

// ZAdder is the state-store surface the relay needs.
type ZAdder interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
}

// Relay periodically retries delivery of spooled audit events to the state
// store, grounded on the teacher's ticker-driven background-loop idiom
// (internal/session/manager.go's Manager.Run).
type Relay struct {
	spool    *Spool
	store    ZAdder
	key      string
	interval time.Duration
	limit    int
}

func NewRelay(spool *Spool, store ZAdder, key string, interval time.Duration, limit int) *Relay {
	if limit <= 0 {
		limit = 50
	}
	return &Relay{spool: spool, store: store, key: key, interval: interval, limit: limit}
}

// Run blocks until ctx is cancelled, periodically draining the spool.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) {
	entries, err := r.spool.Pending(r.limit)
	if err != nil {
		slog.Error("audit relay: listing pending entries failed", "error", err)
		return
	}
	for _, e := range entries {
		if err := r.store.ZAdd(ctx, r.key, e.Score, e.Payload); err != nil {
			slog.Warn("audit relay: redelivery still failing", "id", e.ID, "error", err)
			continue // retry this and later entries on the next tick
		}
		if err := r.spool.MarkDelivered(e.ID); err != nil {
			slog.Error("audit relay: marking entry delivered failed", "id", e.ID, "error", err)
		}
	}
}
