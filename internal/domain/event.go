package domain

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// MaxFieldLen bounds topic, event_id and source. Values are stored verbatim,
// so the cap keeps dedup keys and index entries small.
const MaxFieldLen = 255

// Event is the ingestion envelope. Identity is (Topic, EventID); everything
// else is carried along untouched.
type Event struct {
	Topic     string         `json:"topic"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Key is the dedup identity of an event. Topic and EventID may both contain
// any byte the length bound allows, so the pair stays structured; joining
// the fields into one string would let distinct identities collide.
type Key struct {
	Topic   string
	EventID string
}

// String renders the identity as "topic/event_id" with '/' and '%' escaped
// inside each field, so distinct identities never render alike.
func (k Key) String() string {
	return url.PathEscape(k.Topic) + "/" + url.PathEscape(k.EventID)
}

// Key returns the dedup identity of the event.
func (e Event) Key() Key { return Key{Topic: e.Topic, EventID: e.EventID} }

// Validate checks the envelope bounds and the timestamp format. All field
// violations are collected into one error so a client sees every problem at
// once instead of fixing them one round-trip at a time.
func (e Event) Validate() error {
	meta := map[string]string{}
	checkField(meta, "topic", e.Topic)
	checkField(meta, "event_id", e.EventID)
	checkField(meta, "source", e.Source)
	if e.Timestamp == "" {
		meta["timestamp"] = "required"
	} else if err := ValidateTimestamp(e.Timestamp); err != nil {
		meta["timestamp"] = "must be an ISO-8601 date-time"
	}
	if len(meta) > 0 {
		return ErrValidationMeta("invalid event", meta)
	}
	return nil
}

func checkField(meta map[string]string, name, value string) {
	switch {
	case value == "":
		meta[name] = "required"
	case len(value) > MaxFieldLen:
		meta[name] = "must be at most 255 characters"
	}
}

// timestampLayouts covers RFC3339 with or without fractional seconds, plus
// the zone-less local form. The 'Z' designator is handled by time.Parse and
// means UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ValidateTimestamp reports whether ts is an ISO-8601 date-time. Fractional
// seconds and the timezone designator are optional, and a space is accepted
// in place of the 'T' separator.
func ValidateTimestamp(ts string) error {
	s := ts
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return ErrValidationMeta("invalid event", map[string]string{"timestamp": "must be an ISO-8601 date-time"})
}

type eventBatch struct {
	Events []Event `json:"events"`
}

// ParsePublishRequest decodes a publish body, which is either a single event
// object or a batch {"events": [...]}. Every event is validated and nil
// payloads are normalized to an empty object. The returned slice preserves
// the order the client sent.
func ParsePublishRequest(body []byte) ([]Event, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, ErrValidation("request body is required")
	}

	var probe struct {
		Events *json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, ErrValidation("request body must be a JSON object")
	}

	var events []Event
	if probe.Events != nil {
		var batch eventBatch
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, ErrValidation("events must be an array of event objects")
		}
		if len(batch.Events) == 0 {
			return nil, ErrValidation("events must be a non-empty array")
		}
		events = batch.Events
	} else {
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, ErrValidation("request body must be an event object")
		}
		events = []Event{ev}
	}

	for i := range events {
		if err := events[i].Validate(); err != nil {
			return nil, err
		}
		if events[i].Payload == nil {
			events[i].Payload = map[string]any{}
		}
	}
	return events, nil
}
