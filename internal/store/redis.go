package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore implements KV on a Redis server. Keys are stored under a
// "placefinder:" prefix.
type RedisStore struct {
	client *redis.Client
}

var _ KV = (*RedisStore)(nil)

const redisPrefix = "placefinder:"

// NewRedis creates a client for addr. It does not dial until first use.
func NewRedis(addr, password string, db int) *RedisStore {
	return NewRedisFromClient(redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}))
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "redis: ping")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get snapshot %s", key)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	return eris.Wrapf(s.client.Set(ctx, redisPrefix+key, data, 0).Err(), "redis: put snapshot %s", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return eris.Wrapf(s.client.Del(ctx, redisPrefix+key).Err(), "redis: delete snapshot %s", key)
}
