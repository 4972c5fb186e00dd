// README: Correlation index backed by Redis (message-id and phone to order ref).
package correlate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relay/internal/types"
)

const (
	messageKeyPrefix = "correlate:msg:%s"
	phoneKeyPrefix   = "correlate:phone:%s"
	// Entries expire after this window; a reply to an older message can no
	// longer be routed, which the order store (source of truth) tolerates.
	keyTTL = 7 * 24 * time.Hour
)

// Store is an accelerator index, not a source of truth: keys overwrite
// freely (last write wins per phone) and eviction only costs routing of
// very old inbound replies.
type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) RecordOutboundMessage(ctx context.Context, messageID string, ref types.ID) error {
	return s.redis.Set(ctx, messageKey(messageID), string(ref), keyTTL).Err()
}

func (s *Store) ResolveByMessageID(ctx context.Context, messageID string) (types.ID, bool, error) {
	val, err := s.redis.Get(ctx, messageKey(messageID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return types.ID(val), true, nil
}

func (s *Store) RecordLatestOrderForPhone(ctx context.Context, canonicalPhone string, ref types.ID) error {
	return s.redis.Set(ctx, phoneKey(canonicalPhone), string(ref), keyTTL).Err()
}

func (s *Store) ResolveByPhone(ctx context.Context, canonicalPhone string) (types.ID, bool, error) {
	val, err := s.redis.Get(ctx, phoneKey(canonicalPhone)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return types.ID(val), true, nil
}

func messageKey(id string) string {
	return fmt.Sprintf(messageKeyPrefix, id)
}

func phoneKey(p string) string {
	return fmt.Sprintf(phoneKeyPrefix, p)
}
