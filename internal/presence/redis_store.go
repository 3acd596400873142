// Package presence tracks which users are online and which files they have
// open, backed by Redis with TTLs so crashed clients age out on their own.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userPrefix = "presence:user:"
	filePrefix = "presence:file:"
)

// FileParticipant is one user currently editing a file.
type FileParticipant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	OpenedAt time.Time `json:"openedAt"`
}

// RedisStore is the Redis-backed presence tracker.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Heartbeat refreshes the user's online marker. Clients call this
// periodically; a marker that stops being refreshed expires.
func (s *RedisStore) Heartbeat(ctx context.Context, userID string) error {
	key := userPrefix + userID
	if err := s.client.Set(ctx, key, time.Now().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

// MarkOffline drops the user's online marker immediately (explicit logout).
func (s *RedisStore) MarkOffline(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, userPrefix+userID).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

// OnlineUserIDs returns every user with a live online marker.
func (s *RedisStore) OnlineUserIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, userPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan online users: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, userPrefix))
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// FileOpened records that a user has the file open. The per-file hash gets
// its TTL refreshed on every open so an abandoned file eventually clears.
func (s *RedisStore) FileOpened(ctx context.Context, fileID, userID, username string) error {
	entry, err := json.Marshal(FileParticipant{
		UserID:   userID,
		Username: username,
		OpenedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	key := filePrefix + fileID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, userID, entry)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record file open: %w", err)
	}
	return nil
}

// FileClosed removes a user from the file's participant hash.
func (s *RedisStore) FileClosed(ctx context.Context, fileID, userID string) error {
	if err := s.client.HDel(ctx, filePrefix+fileID, userID).Err(); err != nil {
		return fmt.Errorf("record file close: %w", err)
	}
	return nil
}

// FileParticipants returns who currently has the file open.
func (s *RedisStore) FileParticipants(ctx context.Context, fileID string) ([]FileParticipant, error) {
	entries, err := s.client.HGetAll(ctx, filePrefix+fileID).Result()
	if err != nil {
		return nil, fmt.Errorf("read file participants: %w", err)
	}
	participants := make([]FileParticipant, 0, len(entries))
	for _, raw := range entries {
		var p FileParticipant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		participants = append(participants, p)
	}
	return participants, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
