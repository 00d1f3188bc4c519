// Package redistest implements the kv.Store interface against the legacy
// github.com/go-redis/redis/v8 client. The mesh's primary Redis path is
// internal/kv's v9-based RedisStore; this alternate implementation exists
// because the orchestrator's job-tracker client historically spoke v8 and
// some deployments still point it at connection poolers that were only
// validated against that client. It is selected by setting
// KV_CLIENT=legacy and is otherwise identical in semantics to RedisStore.
package redistest

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentmesh/mesh/internal/kv"
)

// Store implements kv.Store using the v8 client.
type Store struct {
	client *redis.Client
	prefix string
}

// Config holds configuration for the legacy Redis client.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// New creates a v8-backed store.
func New(cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mesh:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), value, ttl).Result()
}

var compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{s.key(key)}, expected).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var incrScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return v
`)

func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, s.client, []string{s.key(key)}, int(ttl.Seconds())).Int64()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.client.HSet(ctx, s.key(key), field, value).Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) ([]byte, error) {
	val, err := s.client.HGet(ctx, s.key(key), field).Bytes()
	if err == redis.Nil {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *Store) HDel(ctx context.Context, key, field string) error {
	return s.client.HDel(ctx, s.key(key), field).Err()
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	res, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(res))
	for k, v := range res {
		out[k] = []byte(v)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }
func (s *Store) Close() error                   { return s.client.Close() }

var _ kv.Store = (*Store)(nil)
