package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures configuration for a Redis-backed scope. Addr accepts
// either host:port or a redis:// URL.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL expires every written key. Zero keeps keys until deleted.
	TTL time.Duration
}

// RedisBackend stores each key as a Redis string under "<scope>/<key>".
type RedisBackend struct {
	rdb   *redis.Client
	scope Scope
	ttl   time.Duration
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig, scope Scope) (*RedisBackend, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis session: address is required")
	}

	var opt *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis session: parse url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}
	}

	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis session: ping: %w", err)
	}
	return &RedisBackend{rdb: rdb, scope: scope, ttl: cfg.TTL}, nil
}

func (r *RedisBackend) redisKey(key string) string {
	return string(r.scope) + "/" + key
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis session: get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.redisKey(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis session: set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, r.redisKey(key))
	}
	if err := r.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis session: delete: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
