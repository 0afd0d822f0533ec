// Package rabbitmq forwards committed events to a topic exchange so other
// systems can subscribe to them. The dedup commit happens before delivery,
// so the broker sees each identity at most once.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/baechuer/eventgate/internal/domain"
	"github.com/baechuer/eventgate/internal/sink"
)

const (
	DefaultExchange = "eventgate.events"

	// Wait window for Return / Confirm
	publishWait = 150 * time.Millisecond
)

type Forwarder struct {
	url      string
	exchange string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

var _ sink.Sink = (*Forwarder)(nil)

func NewForwarder(url, exchange string) (*Forwarder, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	f := &Forwarder{
		url:      url,
		exchange: exchange,
	}
	if err := f.connect(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Forwarder) connect() error {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	// Own the exchange so mandatory publishes have somewhere to route.
	if err := ch.ExchangeDeclare(f.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	f.conn = conn
	f.ch = ch

	f.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	f.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))

	return nil
}

func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ch != nil {
		_ = f.ch.Close()
		f.ch = nil
	}
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	return nil
}

// Deliver publishes the event with its topic as routing key. The MessageId
// carries the dedup identity so downstream consumers can fence replays the
// same way this service does.
func (f *Forwarder) Deliver(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ch == nil {
		return errors.New("forwarder channel not ready")
	}

	err = f.ch.PublishWithContext(
		ctx,
		f.exchange,
		ev.Topic,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:   ev.Key().String(),
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Body:        body,
		},
	)
	if err != nil {
		return err
	}

	// Wait for either Return (NO_ROUTE) or Confirm
	select {
	case ret := <-f.returnCh:
		return errors.New("NO_ROUTE: " + ret.RoutingKey)
	case conf := <-f.confirmCh:
		if !conf.Ack {
			return errors.New("publish nack")
		}
		return nil
	case <-time.After(publishWait):
		// best-effort window; the commit already happened, delivery is
		// not retried either way
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
