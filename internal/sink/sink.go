// Package sink is the downstream edge of the pipeline. A sink receives each
// event exactly once per committed identity; delivery runs after the dedup
// commit, so a failed delivery is logged and not retried.
package sink

import (
	"context"

	"github.com/baechuer/eventgate/internal/domain"
	"github.com/baechuer/eventgate/internal/pkg/logger"
)

type Sink interface {
	Deliver(ctx context.Context, ev domain.Event) error
	Close() error
}

// LogSink is the default sink: it writes the event to the service log and
// nothing else. Useful for local runs and as the no-op stand-in when no
// broker is configured.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Deliver(ctx context.Context, ev domain.Event) error {
	logger.WithCtx(ctx).Debug().
		Str("topic", ev.Topic).
		Str("event_id", ev.EventID).
		Str("source", ev.Source).
		Msg("event delivered")
	return nil
}

func (s *LogSink) Close() error { return nil }
