package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hubview/api/internal/gate"
)

// cachedSession is the JSON stored under each key.
type cachedSession struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	Email    string    `json:"email"`
	CachedAt time.Time `json:"cached_at"`
}

// RedisStore implements Store on Redis with per-key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "hubview:session:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func (s *RedisStore) SaveSession(ctx context.Context, tokenHash string, session gate.Session, ttl time.Duration) error {
	data, err := json.Marshal(cachedSession{
		UserID:   session.UserID,
		UserName: session.UserName,
		Email:    session.Email,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := s.client.Set(ctx, s.key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupSession(ctx context.Context, tokenHash string) (gate.Session, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return gate.Session{}, ErrNotFound
	}
	if err != nil {
		return gate.Session{}, fmt.Errorf("lookup session: %w", err)
	}

	var data cachedSession
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return gate.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return gate.Session{UserID: data.UserID, UserName: data.UserName, Email: data.Email}, nil
}

func (s *RedisStore) RevokeSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
