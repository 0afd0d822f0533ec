// Package service holds the ingestion façade behind the HTTP handlers:
// admission accounting, topic queries, stats and health snapshots, and the
// dedup cleanup janitor.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/eventgate/internal/consumer"
	"github.com/baechuer/eventgate/internal/domain"
	"github.com/baechuer/eventgate/internal/metrics"
	"github.com/baechuer/eventgate/internal/pkg/logger"
	"github.com/baechuer/eventgate/internal/queue"
	"github.com/baechuer/eventgate/internal/store"
)

// queueHighWater marks the fill ratio past which health reports degraded.
const queueHighWater = 0.9

type Service struct {
	queue    *queue.Queue
	store    store.Store
	consumer *consumer.Consumer

	startedAt time.Time
	received  atomic.Int64
	dropped   atomic.Int64
}

func New(q *queue.Queue, st store.Store, c *consumer.Consumer) *Service {
	return &Service{
		queue:     q,
		store:     st,
		consumer:  c,
		startedAt: time.Now(),
	}
}

// PublishResult is the admission outcome for one publish call.
type PublishResult struct {
	Received   int    `json:"received"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Message    string `json:"message"`
}

// Publish admits validated events one by one: identities already committed,
// or already admitted earlier in the same request, are rejected as
// duplicates; the rest are enqueued. A full queue drops the event; the loss
// shows up in received minus accepted minus duplicates.
//
// The store check is an optimization, not a reservation: two concurrent
// publishes can both pass it for the same identity, and the consumer's
// commit fence settles the race. The in-request set exists so a batch
// carrying the same identity twice resolves deterministically here.
func (s *Service) Publish(ctx context.Context, events []domain.Event) (*PublishResult, error) {
	received := len(events)
	s.received.Add(int64(received))
	metrics.RecordReceived(received)

	log := logger.WithCtx(ctx)
	accepted, duplicates := 0, 0
	seen := make(map[domain.Key]struct{}, len(events))
	for _, ev := range events {
		dup := false
		if _, ok := seen[ev.Key()]; ok {
			dup = true
		} else {
			var err error
			dup, err = s.store.IsDuplicate(ctx, ev.Topic, ev.EventID)
			if err != nil {
				return nil, err
			}
		}
		if dup {
			duplicates++
			metrics.RecordDuplicate(metrics.StageAdmission)
			log.Info().
				Str("topic", ev.Topic).
				Str("event_id", ev.EventID).
				Msg("duplicate rejected at publish")
			continue
		}

		if s.queue.Enqueue(ev) {
			seen[ev.Key()] = struct{}{}
			accepted++
			metrics.RecordAccepted()
		} else {
			s.dropped.Add(1)
			metrics.RecordDropped()
			log.Warn().
				Str("topic", ev.Topic).
				Str("event_id", ev.EventID).
				Msg("queue full, event dropped")
		}
	}
	metrics.SetQueueDepth(s.queue.Len())

	log.Info().
		Int("received", received).
		Int("accepted", accepted).
		Int("duplicates", duplicates).
		Msg("publish handled")

	return &PublishResult{
		Received:   received,
		Accepted:   accepted,
		Duplicates: duplicates,
		Message: fmt.Sprintf("Received %d events, accepted %d, rejected %d duplicates",
			received, accepted, duplicates),
	}, nil
}

// TopicEvents is the query result for one topic, newest commit first.
type TopicEvents struct {
	Topic  string         `json:"topic"`
	Count  int            `json:"count"`
	Events []domain.Event `json:"events"`
}

// QueryEvents lists committed events for a topic. Each entry is rebuilt as
// an envelope whose payload carries the commit stamp; the original payload
// is not persisted.
func (s *Service) QueryEvents(ctx context.Context, topic string, limit int) (*TopicEvents, error) {
	records, err := s.store.EventsByTopic(ctx, topic, limit)
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(records))
	for _, rec := range records {
		events = append(events, domain.Event{
			Topic:     topic,
			EventID:   rec.EventID,
			Timestamp: rec.Timestamp,
			Source:    rec.Source,
			Payload:   map[string]any{"processed_at": rec.ProcessedAt},
		})
	}

	return &TopicEvents{
		Topic:  topic,
		Count:  len(events),
		Events: events,
	}, nil
}

// Stats is the service-wide counters snapshot.
type Stats struct {
	Received         int64    `json:"received"`
	UniqueProcessed  int64    `json:"unique_processed"`
	DuplicateDropped int64    `json:"duplicate_dropped"`
	Topics           []string `json:"topics"`
	UptimeSeconds    float64  `json:"uptime_seconds"`
	UptimeHuman      string   `json:"uptime_human"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	uniqueProcessed, err := s.store.ProcessedCount(ctx)
	if err != nil {
		return nil, err
	}
	topics, err := s.store.Topics(ctx)
	if err != nil {
		return nil, err
	}
	if topics == nil {
		topics = []string{}
	}

	uptime := time.Since(s.startedAt)
	return &Stats{
		Received:         s.received.Load(),
		UniqueProcessed:  uniqueProcessed,
		DuplicateDropped: s.consumer.Stats().Duplicates,
		Topics:           topics,
		UptimeSeconds:    uptime.Seconds(),
		UptimeHuman:      humanUptime(uptime),
	}, nil
}

func humanUptime(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}

// Health is the liveness snapshot.
type Health struct {
	Status          string `json:"status"`
	ConsumerRunning bool   `json:"consumer_running"`
	QueueSize       int    `json:"queue_size"`
	Timestamp       string `json:"timestamp"`
}

// Health degrades when the consumer is down or the queue is close to
// spilling; both mean publishes are about to start dropping.
func (s *Service) Health() Health {
	running := s.consumer.Running()
	size := s.queue.Len()

	status := "healthy"
	if !running || float64(size) >= queueHighWater*float64(s.queue.Cap()) {
		status = "degraded"
	}

	return Health{
		Status:          status,
		ConsumerRunning: running,
		QueueSize:       size,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Dropped reports how many events were lost to a full queue since start.
func (s *Service) Dropped() int64 { return s.dropped.Load() }

// StartJanitor runs the periodic dedup cleanup until ctx is cancelled. The
// first sweep happens immediately so restarts do not defer overdue work by
// a full interval.
func (s *Service) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		log := logger.Logger.With().Str("component", "cleanup").Logger()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.cleanupOnce(ctx, log, maxAge)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				s.cleanupOnce(ctx, log, maxAge)
			}
		}
	}()
}

func (s *Service) cleanupOnce(ctx context.Context, log zerolog.Logger, maxAge time.Duration) {
	deleted, err := s.store.CleanupOldEvents(ctx, maxAge)
	if err != nil {
		log.Warn().Err(err).Msg("dedup cleanup failed")
		return
	}
	if deleted > 0 {
		metrics.RecordCleanupDeleted(deleted)
		log.Info().Int64("deleted", deleted).Msg("dedup records cleaned up")
	}
}
