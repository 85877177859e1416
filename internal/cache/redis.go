package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
)

const scanBatch = 500

// RedisStore keeps entries in Redis; expiry is enforced by Redis TTLs.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
	now    func() time.Time
}

type redisEnvelope struct {
	Payload   []byte    `json:"p"`
	CreatedAt time.Time `json:"c"`
	ExpiresAt time.Time `json:"e"`
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg config.RedisConfig, log *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(client, log), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{client: client, log: log.With(zap.String("module", "cache.redis")), now: time.Now}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, &Error{Op: "get", Key: key, Err: err}
	}
	var env redisEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		// unreadable payloads are dropped so they stop shadowing recomputation
		_ = s.client.Del(ctx, key).Err()
		return Entry{}, &Error{Op: "decode", Key: key, Err: err}
	}
	e := Entry{Key: key, Payload: env.Payload, CreatedAt: env.CreatedAt, ExpiresAt: env.ExpiresAt}
	if e.Expired(s.now()) {
		_ = s.client.Del(ctx, key).Err()
		return Entry{}, ErrMiss
	}
	return e, nil
}

func (s *RedisStore) Set(ctx context.Context, e Entry) error {
	ttl := e.Remaining(s.now())
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(redisEnvelope{Payload: e.Payload, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt})
	if err != nil {
		return &Error{Op: "encode", Key: e.Key, Err: err}
	}
	if err := s.client.Set(ctx, e.Key, b, ttl).Err(); err != nil {
		return &Error{Op: "set", Key: e.Key, Err: err}
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// DeletePrefix walks the keyspace with SCAN, so it never blocks the server like KEYS would.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := escapeGlob(prefix) + "*"
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, &Error{Op: "scan", Key: prefix, Err: err}
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, &Error{Op: "delete", Key: prefix, Err: err}
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.log.Debug("evicted namespace", zap.String("prefix", prefix), zap.Int("keys", removed))
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
