// Package postgres backs the dedup ledger with PostgreSQL for deployments
// where several service instances share one ledger. It rides database/sql
// on the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/baechuer/eventgate/internal/domain"
	"github.com/baechuer/eventgate/internal/store"
)

// "timestamp" is quoted throughout: unquoted it parses as the start of a
// typed literal.
const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
    topic        TEXT NOT NULL,
    event_id     TEXT NOT NULL,
    "timestamp"  TEXT NOT NULL,
    source       TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (topic, event_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_events_topic
    ON processed_events (topic);

CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at
    ON processed_events (processed_at);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store { return &Store{db: db, now: time.Now} }

// Open connects with the pgx driver. The pool limits match a single
// consumer plus the HTTP read paths.
func Open(url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

func (s *Store) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) IsDuplicate(ctx context.Context, topic, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE topic = $1 AND event_id = $2 LIMIT 1`,
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

// MarkProcessed is the idempotency fence: ON CONFLICT DO NOTHING turns
// "insert if absent" into one atomic statement, and the row count tells
// whether this commit was the first.
func (s *Store) MarkProcessed(ctx context.Context, ev domain.Event) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO processed_events (topic, event_id, "timestamp", source, processed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (topic, event_id) DO NOTHING`,
		ev.Topic, ev.EventID, ev.Timestamp, ev.Source, s.now().UTC(),
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
		`SELECT COUNT(*) FROM processed_events WHERE topic = $1`, topic,
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
	// Negative limits are an error to postgres; keep non-positive limits empty.
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, "timestamp", source, processed_at
FROM processed_events
WHERE topic = $1
ORDER BY processed_at DESC
LIMIT $2`,
		topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ProcessedEvent
	for rows.Next() {
		var pe store.ProcessedEvent
		var processedAt time.Time
		if err := rows.Scan(&pe.EventID, &pe.Timestamp, &pe.Source, &processedAt); err != nil {
			return nil, err
		}
		pe.ProcessedAt = processedAt.UTC().Format(store.ProcessedAtLayout)
		out = append(out, pe)
	}
	return out, rows.Err()
}

func (s *Store) CleanupOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`,
		s.now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }
