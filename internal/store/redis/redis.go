// Package redis backs the dedup ledger with Redis. SET NX on the record key
// is the atomic fence; a per-topic sorted set scored by commit time serves
// the newest-first listing.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baechuer/eventgate/internal/domain"
	"github.com/baechuer/eventgate/internal/store"
)

const topicsKey = "eventgate:topics"

type Store struct {
	client *redis.Client
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func Open(addr, password string, db int) *Store {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// record is the JSON value stored under the per-event key.
type record struct {
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source"`
	ProcessedAt string `json:"processed_at"`
}

// keyEscaper keeps the topic segment free of the ':' separator. Without it
// ("a:b", "c") and ("a", "b:c") would share a record key and one identity
// would lose the fence to the other. '%' is escaped too so the escaping
// itself stays unambiguous.
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

func recordKey(topic, eventID string) string {
	return fmt.Sprintf("eventgate:processed:%s:%s", keyEscaper.Replace(topic), eventID)
}

func topicKey(topic string) string {
	return fmt.Sprintf("eventgate:topic:%s", topic)
}

func (s *Store) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (s *Store) IsDuplicate(ctx context.Context, topic, eventID string) (bool, error) {
	exists, err := s.client.Exists(ctx, recordKey(topic, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return exists > 0, nil
}

// MarkProcessed sets the record key with NX, so only the first commit for an
// identity writes it. The topic index is updated by the winner afterwards; a
// crash in between leaves the identity deduped but unlisted, never the other
// way around.
func (s *Store) MarkProcessed(ctx context.Context, ev domain.Event) (bool, error) {
	commitTime := s.now().UTC()
	rec := record{
		Timestamp:   ev.Timestamp,
		Source:      ev.Source,
		ProcessedAt: commitTime.Format(store.ProcessedAtLayout),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	set, err := s.client.SetNX(ctx, recordKey(ev.Topic, ev.EventID), raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	if !set {
		return false, nil
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, topicKey(ev.Topic), redis.Z{
		Score:  float64(commitTime.UnixMilli()),
		Member: ev.EventID,
	})
	pipe.SAdd(ctx, topicsKey, ev.Topic)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("index processed event: %w", err)
	}
	return true, nil
}

func (s *Store) ProcessedCount(ctx context.Context) (int64, error) {
	topics, err := s.client.SMembers(ctx, topicsKey).Result()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, topic := range topics {
		n, err := s.client.ZCard(ctx, topicKey(topic)).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (s *Store) CountByTopic(ctx context.Context, topic string) (int64, error) {
	return s.client.ZCard(ctx, topicKey(topic)).Result()
}

func (s *Store) Topics(ctx context.Context) ([]string, error) {
	topics, err := s.client.SMembers(ctx, topicsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(topics)
	return topics, nil
}

func (s *Store) EventsByTopic(ctx context.Context, topic string, limit int) ([]store.ProcessedEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, topicKey(topic), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(topic, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]store.ProcessedEvent, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record; skip rather than fail the
			// whole listing.
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", keys[i], err)
		}
		out = append(out, store.ProcessedEvent{
			EventID:     ids[i],
			Timestamp:   rec.Timestamp,
			Source:      rec.Source,
			ProcessedAt: rec.ProcessedAt,
		})
	}
	return out, nil
}

func (s *Store) CleanupOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := "(" + strconv.FormatInt(s.now().UTC().Add(-olderThan).UnixMilli(), 10)

	topics, err := s.client.SMembers(ctx, topicsKey).Result()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, topic := range topics {
		ids, err := s.client.ZRangeByScore(ctx, topicKey(topic), &redis.ZRangeBy{
			Min: "-inf",
			Max: cutoff,
		}).Result()
		if err != nil {
			return deleted, err
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = recordKey(topic, id)
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, keys...)
		pipe.ZRemRangeByScore(ctx, topicKey(topic), "-inf", cutoff)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted += int64(len(ids))

		remaining, err := s.client.ZCard(ctx, topicKey(topic)).Result()
		if err != nil {
			return deleted, err
		}
		if remaining == 0 {
			if err := s.client.SRem(ctx, topicsKey, topic).Err(); err != nil {
				return deleted, err
			}
		}
	}
	return deleted, nil
}

func (s *Store) Close() error { return s.client.Close() }
