// Package sqlite is the default dedup ledger, a single local database file.
// The driver is pure Go (wasm build of SQLite), so the binary stays
// CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/baechuer/eventgate/internal/domain"
	"github.com/baechuer/eventgate/internal/store"
)

// DefaultPath keeps the ledger under a local data/ directory, created on
// first start.
const DefaultPath = "data/dedup.db"

type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the database file at path. ":memory:" gives a
// process-private ledger, used by tests and throwaway runs.
func New(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	var dsn string
	if path == ":memory:" {
		// A named shared-cache database, otherwise every pooled
		// connection would see its own empty ledger.
		dsn = "file:memdb?mode=memory&cache=shared&_pragma=busy_timeout(5000)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) IsDuplicate(ctx context.Context, topic, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE topic = ? AND event_id = ? LIMIT 1`,
		topic, eventID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProcessed relies on the primary key: ON CONFLICT DO NOTHING makes the
// existence check and the insert one atomic statement, so two racing commits
// for the same identity resolve to exactly one row.
func (s *Store) MarkProcessed(ctx context.Context, ev domain.Event) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO processed_events (topic, event_id, timestamp, source, processed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(topic, event_id) DO NOTHING`,
		ev.Topic, ev.EventID, ev.Timestamp, ev.Source,
		s.now().UTC().Format(store.ProcessedAtLayout),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) ProcessedCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events`).Scan(&n)
	return n, err
}

func (s *Store) CountByTopic(ctx context.Context, topic string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE topic = ?`, topic,
	).Scan(&n)
	return n, err
}

func (s *Store) Topics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT topic FROM processed_events ORDER BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (s *Store) EventsByTopic(ctx context.Context, topic string, limit int) ([]store.ProcessedEvent, error) {
	// LIMIT -1 would mean "no cap" to sqlite; keep non-positive limits empty.
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, timestamp, source, processed_at
FROM processed_events
WHERE topic = ?
ORDER BY processed_at DESC
LIMIT ?`,
		topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ProcessedEvent
	for rows.Next() {
		var pe store.ProcessedEvent
		if err := rows.Scan(&pe.EventID, &pe.Timestamp, &pe.Source, &pe.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

// CleanupOldEvents compares commit stamps as text. ProcessedAtLayout is
// fixed-width UTC, so the lexicographic cutoff matches the chronological
// one.
func (s *Store) CleanupOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan).Format(store.ProcessedAtLayout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }

// Path reports the resolved database location for startup logging.
func (s *Store) Path() string {
	if s.path == ":memory:" {
		return s.path
	}
	if abs, err := filepath.Abs(s.path); err == nil {
		return abs
	}
	return s.path
}
