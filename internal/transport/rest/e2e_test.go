package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/eventgate/internal/consumer"
	"github.com/baechuer/eventgate/internal/queue"
	"github.com/baechuer/eventgate/internal/service"
	"github.com/baechuer/eventgate/internal/store/sqlite"
)

// stack is one fully wired instance: sqlite ledger, queue, consumer,
// service, router. Tests that exercise restart build two of them over the
// same database file.
type stack struct {
	router http.Handler
	store  *sqlite.Store
	con    *consumer.Consumer
}

func newStack(t *testing.T, dbPath string, capacity int, startConsumer bool) *stack {
	t.Helper()

	st, err := sqlite.New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))

	q := queue.New(capacity)
	c := consumer.New(q, st, noopSink{})
	if startConsumer {
		c.Start(context.Background())
	}
	svc := service.New(q, st, c)

	s := &stack{
		router: NewRouter(RouterDeps{Handler: NewHandler(svc)}),
		store:  st,
		con:    c,
	}
	t.Cleanup(func() { s.shutdown() })
	return s
}

func (s *stack) shutdown() {
	s.con.Stop()
	_ = s.store.Close()
}

func (s *stack) publish(t *testing.T, body string) map[string]any {
	t.Helper()
	rr := doRequest(s.router, http.MethodPost, "/publish", body)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	return decodeMap(t, rr)
}

func (s *stack) stats(t *testing.T) map[string]any {
	t.Helper()
	rr := doRequest(s.router, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	return decodeMap(t, rr)
}

func (s *stack) waitProcessed(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return int(s.stats(t)["unique_processed"].(float64)) == want
	}, 2*time.Second, 10*time.Millisecond, "expected %d committed events", want)
}

func TestE2E_RetryAfterCommitIsDuplicate(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 64, true)

	body := publishBody("orders", "evt-1")
	res := s.publish(t, body)
	assert.EqualValues(t, 1, res["received"])
	assert.EqualValues(t, 1, res["accepted"])
	assert.EqualValues(t, 0, res["duplicates"])

	s.waitProcessed(t, 1)

	// Client retries the same delivery twice; both are rejected up front
	// and never reach the consumer.
	for i := 0; i < 2; i++ {
		time.Sleep(100 * time.Millisecond)
		res = s.publish(t, body)
		assert.EqualValues(t, 1, res["received"])
		assert.EqualValues(t, 0, res["accepted"])
		assert.EqualValues(t, 1, res["duplicates"])
	}

	m := s.stats(t)
	assert.EqualValues(t, 3, m["received"])
	assert.EqualValues(t, 1, m["unique_processed"])
	assert.EqualValues(t, 0, m["duplicate_dropped"], "admission caught the retries before the commit fence")
}

func TestE2E_SameIdentityThriceInOneBatch(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 64, true)

	ev := publishBody("orders", "evt-1")
	res := s.publish(t, `{"events":[`+ev+`,`+ev+`,`+ev+`]}`)

	assert.EqualValues(t, 3, res["received"])
	assert.EqualValues(t, 1, res["accepted"])
	assert.EqualValues(t, 2, res["duplicates"])

	s.waitProcessed(t, 1)
}

func TestE2E_MixedBatchOfNewAndReplayed(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 64, true)

	events := make([]string, 0, 7)
	for i := 1; i <= 5; i++ {
		events = append(events, publishBody("orders", fmt.Sprintf("e%d", i)))
	}
	events = append(events, publishBody("orders", "e1"), publishBody("orders", "e2"))

	body := `{"events":[` + events[0]
	for _, e := range events[1:] {
		body += `,` + e
	}
	body += `]}`

	res := s.publish(t, body)
	assert.EqualValues(t, 7, res["received"])
	assert.EqualValues(t, 5, res["accepted"])
	assert.EqualValues(t, 2, res["duplicates"])

	s.waitProcessed(t, 5)
}

func TestE2E_QueueFullDropsWithoutMiscounting(t *testing.T) {
	// Consumer stopped, capacity two: three of five distinct events have
	// nowhere to go. They are drops, not duplicates and not errors.
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 2, false)

	events := publishBody("orders", "e1")
	for i := 2; i <= 5; i++ {
		events += `,` + publishBody("orders", fmt.Sprintf("e%d", i))
	}
	res := s.publish(t, `{"events":[`+events+`]}`)

	assert.EqualValues(t, 5, res["received"])
	assert.EqualValues(t, 2, res["accepted"])
	assert.EqualValues(t, 0, res["duplicates"])
}

func TestE2E_DedupSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dedup.db")

	first := newStack(t, dbPath, 64, true)
	res := first.publish(t, publishBody("orders", "evt-1"))
	assert.EqualValues(t, 1, res["accepted"])
	first.waitProcessed(t, 1)
	first.shutdown()

	second := newStack(t, dbPath, 64, true)
	res = second.publish(t, publishBody("orders", "evt-1"))
	assert.EqualValues(t, 1, res["received"])
	assert.EqualValues(t, 0, res["accepted"])
	assert.EqualValues(t, 1, res["duplicates"], "the ledger outlives the process")

	m := second.stats(t)
	assert.EqualValues(t, 1, m["unique_processed"])
}

func TestE2E_TopicsIsolateIdentity(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 64, true)

	body := `{"events":[` +
		`{"topic":"topic-a","event_id":"shared-1","timestamp":"2025-10-23T10:00:00Z","source":"svc-a"},` +
		`{"topic":"topic-b","event_id":"shared-1","timestamp":"2025-10-23T10:00:00Z","source":"svc-a"}]}`
	res := s.publish(t, body)

	assert.EqualValues(t, 2, res["received"])
	assert.EqualValues(t, 2, res["accepted"])
	assert.EqualValues(t, 0, res["duplicates"])

	s.waitProcessed(t, 2)

	m := s.stats(t)
	assert.Equal(t, []any{"topic-a", "topic-b"}, m["topics"])

	for _, topic := range []string{"topic-a", "topic-b"} {
		rr := doRequest(s.router, http.MethodGet, "/events?topic="+topic, "")
		require.Equal(t, http.StatusOK, rr.Code)
		var got struct {
			Topic  string `json:"topic"`
			Count  int    `json:"count"`
			Events []struct {
				EventID string         `json:"event_id"`
				Payload map[string]any `json:"payload"`
			} `json:"events"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		require.Equal(t, 1, got.Count)
		assert.Equal(t, "shared-1", got.Events[0].EventID)
		assert.Contains(t, got.Events[0].Payload, "processed_at")
	}
}

func TestE2E_SlashInFieldsKeepsIdentitiesApart(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 64, true)

	// ("orders/eu","42") and ("orders","eu/42") are two identities; neither
	// admission nor the ledger may fold them together.
	body := `{"events":[` +
		`{"topic":"orders/eu","event_id":"42","timestamp":"2025-10-23T10:00:00Z","source":"svc-a"},` +
		`{"topic":"orders","event_id":"eu/42","timestamp":"2025-10-23T10:00:00Z","source":"svc-a"}]}`
	res := s.publish(t, body)

	assert.EqualValues(t, 2, res["received"])
	assert.EqualValues(t, 2, res["accepted"], "distinct identities must both be admitted")
	assert.EqualValues(t, 0, res["duplicates"])

	s.waitProcessed(t, 2)

	for topic, wantID := range map[string]string{"orders/eu": "42", "orders": "eu/42"} {
		target := "/events?" + url.Values{"topic": {topic}}.Encode()
		rr := doRequest(s.router, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rr.Code)
		m := decodeMap(t, rr)
		assert.EqualValues(t, 1, m["count"], "topic %q", topic)
		events := m["events"].([]any)
		require.Len(t, events, 1)
		assert.Equal(t, wantID, events[0].(map[string]any)["event_id"])
	}
}

func TestE2E_QueryReflectsCommitOrder(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 64, true)

	for i := 1; i <= 3; i++ {
		s.publish(t, publishBody("orders", fmt.Sprintf("e%d", i)))
		s.waitProcessed(t, i)
	}

	rr := doRequest(s.router, http.MethodGet, "/events?topic=orders&limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	m := decodeMap(t, rr)
	events := m["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "e3", events[0].(map[string]any)["event_id"])
	assert.Equal(t, "e2", events[1].(map[string]any)["event_id"])
}

func TestE2E_HealthTracksConsumer(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "dedup.db"), 64, true)

	rr := doRequest(s.router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	m := decodeMap(t, rr)
	assert.Equal(t, "healthy", m["status"])
	assert.Equal(t, true, m["consumer_running"])

	s.con.Stop()

	rr = doRequest(s.router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	m = decodeMap(t, rr)
	assert.Equal(t, "degraded", m["status"])
	assert.Equal(t, false, m["consumer_running"])
}
