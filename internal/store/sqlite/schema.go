package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
    topic        TEXT NOT NULL CHECK(length(topic) <= 255),
    event_id     TEXT NOT NULL CHECK(length(event_id) <= 255),
    timestamp    TEXT NOT NULL,
    source       TEXT NOT NULL,
    processed_at TEXT NOT NULL,
    PRIMARY KEY (topic, event_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_events_topic
    ON processed_events(topic);

CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at
    ON processed_events(processed_at);
`
