package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// State is the small per-conversation context the conversation layer needs
// between messages: which draft the operator is dictating into and, when a
// unit clarification is outstanding, what it asked. Held in Redis rather than
// process memory so any instance can serve the next message.
type State struct {
	DraftID     uuid.UUID    `json:"draft_id"`
	PendingUnit *PendingUnit `json:"pending_unit,omitempty"`
}

// PendingUnit mirrors a needs-unit clarification sent to the operator.
type PendingUnit struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Options  []string        `json:"options"`
}

var ErrNotFound = errors.New("no session for conversation")

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(conversationID string) string {
	return fmt.Sprintf("conv:%s", conversationID)
}

func (s *Store) Get(ctx context.Context, conversationID string) (State, error) {
	raw, err := s.rdb.Get(ctx, key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

func (s *Store) Put(ctx context.Context, conversationID string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(conversationID), raw, s.ttl).Err()
}

func (s *Store) Clear(ctx context.Context, conversationID string) error {
	return s.rdb.Del(ctx, key(conversationID)).Err()
}
