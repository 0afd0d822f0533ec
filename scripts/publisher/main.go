package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Publishes a stream of synthetic events with a configurable duplicate
// ratio, for development and manual load checks.
//
//	TARGET_URL       gateway base URL        (default http://localhost:8080)
//	EVENT_COUNT      distinct events to send (default 200)
//	BATCH_SIZE       events per request      (default 25)
//	DUPLICATE_RATIO  fraction of resends     (default 0.2)

var topics = []string{"orders.created", "orders.cancelled", "payments.settled", "users.signup"}
var sources = []string{"checkout", "billing", "backoffice"}

type event struct {
	Topic     string         `json:"topic"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type publishResponse struct {
	Received   int    `json:"received"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Message    string `json:"message"`
}

func main() {
	target := getEnv("TARGET_URL", "http://localhost:8080")
	count := getInt("EVENT_COUNT", 200)
	batchSize := getInt("BATCH_SIZE", 25)
	ratio := getFloat("DUPLICATE_RATIO", 0.2)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	client := &http.Client{Timeout: 10 * time.Second}

	var sent []event
	var totalReceived, totalAccepted, totalDuplicates int

	batch := make([]event, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		res, err := publish(client, target, batch)
		if err != nil {
			log.Fatalf("publish failed: %v", err)
		}
		totalReceived += res.Received
		totalAccepted += res.Accepted
		totalDuplicates += res.Duplicates
		batch = batch[:0]
	}

	for i := 0; i < count; i++ {
		// Resend an earlier event at the configured ratio so the dedup
		// path actually gets exercised.
		if len(sent) > 0 && rng.Float64() < ratio {
			batch = append(batch, sent[rng.Intn(len(sent))])
		} else {
			ev := generateEvent(rng)
			sent = append(sent, ev)
			batch = append(batch, ev)
		}
		if len(batch) == batchSize {
			flush()
		}
	}
	flush()

	log.Printf("received=%d accepted=%d duplicates=%d dropped=%d",
		totalReceived, totalAccepted, totalDuplicates,
		totalReceived-totalAccepted-totalDuplicates)

	stats, err := fetchStats(client, target)
	if err != nil {
		log.Fatalf("stats fetch failed: %v", err)
	}
	log.Printf("gateway stats: %s", stats)
}

func generateEvent(rng *rand.Rand) event {
	return event{
		Topic:     topics[rng.Intn(len(topics))],
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    sources[rng.Intn(len(sources))],
		Payload: map[string]any{
			"amount": rng.Intn(10_000),
			"region": fmt.Sprintf("r-%d", rng.Intn(4)),
		},
	}
}

func publish(client *http.Client, target string, events []event) (*publishResponse, error) {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(target+"/publish", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var res publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func fetchStats(client *http.Client, target string) (string, error) {
	resp, err := client.Get(target + "/stats")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
