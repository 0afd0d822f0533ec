// Package consumer drains the queue and commits each event through the
// dedup fence before handing it to the sink. Commit-before-deliver makes the
// pipeline at-most-once: a crash can lose an uncommitted event, it can never
// deliver a committed identity twice.
package consumer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/baechuer/eventgate/internal/domain"
	"github.com/baechuer/eventgate/internal/metrics"
	"github.com/baechuer/eventgate/internal/pkg/logger"
	"github.com/baechuer/eventgate/internal/queue"
	"github.com/baechuer/eventgate/internal/sink"
	"github.com/baechuer/eventgate/internal/store"
)

type Consumer struct {
	queue *queue.Queue
	store store.Store
	sink  sink.Sink

	running    atomic.Bool
	processed  atomic.Int64
	duplicates atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// Stats is a point-in-time snapshot of the consumer counters.
type Stats struct {
	Processed  int64
	Duplicates int64
	Running    bool
	QueueSize  int
}

func New(q *queue.Queue, st store.Store, sk sink.Sink) *Consumer {
	return &Consumer{queue: q, store: st, sink: sk}
}

// Start launches the single consumer goroutine. Calling it on a running
// consumer is a no-op.
func (c *Consumer) Start(parent context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		logger.Logger.Warn().Msg("consumer already running")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop cancels the loop and waits for it to finish. Events still queued are
// abandoned; at-most-once allows that, never the reverse.
func (c *Consumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
}

func (c *Consumer) Running() bool { return c.running.Load() }

func (c *Consumer) Stats() Stats {
	return Stats{
		Processed:  c.processed.Load(),
		Duplicates: c.duplicates.Load(),
		Running:    c.running.Load(),
		QueueSize:  c.queue.Len(),
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	defer c.running.Store(false)

	log := logger.Logger.With().Str("component", "consumer").Logger()
	log.Info().Msg("consumer loop started")

	for {
		ev, ok := c.queue.Dequeue(ctx)
		if !ok {
			log.Info().Msg("consumer loop stopped")
			return
		}
		c.process(ctx, ev)
		metrics.SetQueueDepth(c.queue.Len())
	}
}

func (c *Consumer) process(ctx context.Context, ev domain.Event) {
	log := logger.Logger.With().
		Str("topic", ev.Topic).
		Str("event_id", ev.EventID).
		Str("source", ev.Source).
		Logger()

	first, err := c.store.MarkProcessed(ctx, ev)
	if err != nil {
		log.Error().Err(err).Msg("commit failed, event dropped")
		return
	}
	if !first {
		c.duplicates.Add(1)
		metrics.RecordDuplicate(metrics.StageCommit)
		log.Warn().Msg("duplicate event dropped at commit")
		return
	}

	start := time.Now()
	if err := c.sink.Deliver(ctx, ev); err != nil {
		// Already committed; delivery is not retried.
		log.Error().Err(err).Msg("sink delivery failed")
	}
	c.processed.Add(1)
	metrics.RecordProcessed(time.Since(start))

	log.Debug().Msg("event processed")
}
