package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/converso/server/internal/chat/model"
	"github.com/converso/server/internal/core/errx"
	logx "github.com/converso/server/pkg/logger"
)

// Store keeps the bounded short-term history window for each (user, session)
// pair in a Redis list. Appends trim on write inside one pipeline, so the
// window never exceeds capacity regardless of interleaving.
type Store struct {
	rdb      redis.Cmdable
	capacity int
	ttl      time.Duration
}

func New(rdb redis.Cmdable, capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 10
	}
	return &Store{rdb: rdb, capacity: capacity, ttl: ttl}
}

func (s *Store) key(userID, sessionID string) string {
	return fmt.Sprintf("chat:history:%s:%s", userID, sessionID)
}

// Capacity returns the configured window bound.
func (s *Store) Capacity() int {
	return s.capacity
}

// Load returns the window most-recent-last. A missing key is an empty window.
func (s *Store) Load(ctx context.Context, userID, sessionID string) ([]model.Message, error) {
	key := s.key(userID, sessionID)

	rows, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Message{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load history window")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]model.Message, 0, len(rows))
	for i, row := range rows {
		var m model.Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			return nil, fmt.Errorf("unmarshal history message at index %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Append pushes msg at the tail and trims the head so the window stays within
// capacity. RPUSH, LTRIM and the TTL touch run in one transactional pipeline.
func (s *Store) Append(ctx context.Context, userID, sessionID string, msg model.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal history message: %w", err)
	}
	key := s.key(userID, sessionID)

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, int64(-s.capacity), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to append history message")
		return errx.WrapRedis(err)
	}
	return nil
}

// Clear removes the whole window for a session.
func (s *Store) Clear(ctx context.Context, userID, sessionID string) error {
	if err := s.rdb.Del(ctx, s.key(userID, sessionID)).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

// Len reports the current window length.
func (s *Store) Len(ctx context.Context, userID, sessionID string) (int, error) {
	n, err := s.rdb.LLen(ctx, s.key(userID, sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

var _ model.HistoryRepository = (*Store)(nil)
