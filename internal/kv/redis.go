package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	logx "relnotify/pkg/logx"
)

// compareDelScript deletes the key only when its value matches, as one
// server-side operation. A plain GET+DEL would race with TTL expiry: the lock
// could expire, get re-acquired by someone else, and then be deleted here.
var compareDelScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

type redisStore struct {
	c   *redis.Client
	log logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       cfg.DB,
		Password: cfg.Pass,
	})

	// Fail fast on misconfiguration instead of at first pass.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}

	log.Debug("redis store opened", logx.String("addr", addr), logx.Int("db", cfg.DB))
	return &redisStore{c: c, log: log}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (Value, error) {
	v, err := s.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	return Value{Str: v, Found: true}, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.c.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.c.SetNX(ctx, key, value, ttl).Result()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.c.Del(ctx, keys...).Err()
}

func (s *redisStore) CompareDel(ctx context.Context, key, expect string) (bool, error) {
	n, err := compareDelScript.Run(ctx, s.c, []string{key}, expect).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(keys))
	for i, r := range raw {
		if r == nil {
			continue
		}
		if str, ok := r.(string); ok {
			out[i] = Value{Str: str, Found: true}
		}
	}
	return out, nil
}

func (s *redisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	it := s.c.Scan(ctx, 0, pattern, 100).Iterator()
	for it.Next(ctx) {
		keys = append(keys, it.Val())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.c.Incr(ctx, key).Result()
}

func (s *redisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.c.SAdd(ctx, key, args...).Err()
}

func (s *redisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.c.SRem(ctx, key, args...).Err()
}

func (s *redisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.c.SMembers(ctx, key).Result()
}

func (s *redisStore) Close() error { return s.c.Close() }
