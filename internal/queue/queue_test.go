package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/eventgate/internal/domain"
)

func ev(id string) domain.Event {
	return domain.Event{Topic: "t", EventID: id, Timestamp: "2025-10-23T10:00:00Z", Source: "test"}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(8)
	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(ev(fmt.Sprintf("evt-%d", i))))
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		got, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("evt-%d", i), got.EventID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueFull(t *testing.T) {
	q := New(2)
	assert.True(t, q.IsEmpty())
	assert.True(t, q.Enqueue(ev("a")))
	assert.True(t, q.Enqueue(ev("b")))
	assert.True(t, q.IsFull())
	assert.False(t, q.Enqueue(ev("c")), "enqueue past capacity must not block")
	assert.Equal(t, 2, q.Len())

	// Draining one slot makes room again.
	_, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.False(t, q.IsFull())
	assert.True(t, q.Enqueue(ev("c")))
}

func TestEnqueueBatchPartial(t *testing.T) {
	q := New(3)
	batch := []domain.Event{ev("a"), ev("b"), ev("c"), ev("d"), ev("e")}

	assert.Equal(t, 3, q.EnqueueBatch(batch), "admits in order until full")
	assert.True(t, q.IsFull())
	assert.Equal(t, 0, q.EnqueueBatch(batch[3:]))

	got, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", got.EventID)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(1)
	done := make(chan domain.Event, 1)
	go func() {
		got, ok := q.Dequeue(context.Background())
		if ok {
			done <- got
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.Enqueue(ev("late")))

	select {
	case got := <-done:
		assert.Equal(t, "late", got.EventID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe the enqueued event")
	}
}

func TestDequeueCancelled(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-5).Cap())
	assert.Equal(t, 64, New(64).Cap())
}
