package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store deduplicates at-least-once deliveries. Messenger platforms redeliver
// a message on ack timeout, and replaying an ingestion batch would double
// every line in the draft.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) MessageKey(conversationID, messageID string) string {
	return fmt.Sprintf("idem:%s:%s", conversationID, messageID)
}

// Seen marks the key and reports whether it was already marked. First caller
// wins the SetNX and proceeds; redeliveries see true and skip processing.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}
