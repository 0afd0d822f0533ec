// Package store defines the durable dedup ledger shared by every backend.
// A record in the ledger means the event was committed by the consumer;
// admission and the consumer both consult it, the consumer through the
// atomic MarkProcessed fence.
package store

import (
	"context"
	"time"

	"github.com/baechuer/eventgate/internal/domain"
)

// ProcessedAtLayout is the commit-stamp format. The fraction is fixed-width
// so the stored strings sort chronologically even as plain text, which the
// sqlite backend relies on for ordering and cleanup.
const ProcessedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ProcessedEvent is one committed ledger record for a topic.
type ProcessedEvent struct {
	EventID     string
	Timestamp   string
	Source      string
	ProcessedAt string
}

type Store interface {
	// Init prepares the backend (schema, connectivity probe). Must be
	// called once before any other method.
	Init(ctx context.Context) error

	// IsDuplicate reports whether (topic, eventID) is already committed.
	// It is a plain read; admission uses it for early rejection only.
	IsDuplicate(ctx context.Context, topic, eventID string) (bool, error)

	// MarkProcessed commits the event if and only if its identity is not
	// present yet. It returns false when another commit won the race; the
	// check and the insert are a single atomic step in every backend.
	MarkProcessed(ctx context.Context, ev domain.Event) (bool, error)

	ProcessedCount(ctx context.Context) (int64, error)
	CountByTopic(ctx context.Context, topic string) (int64, error)

	// Topics returns every topic with at least one committed event,
	// sorted ascending.
	Topics(ctx context.Context) ([]string, error)

	// EventsByTopic returns up to limit committed records for the topic,
	// newest commit first.
	EventsByTopic(ctx context.Context, topic string, limit int) ([]ProcessedEvent, error)

	// CleanupOldEvents deletes records committed more than olderThan ago
	// and returns how many were removed.
	CleanupOldEvents(ctx context.Context, olderThan time.Duration) (int64, error)

	Close() error
}
