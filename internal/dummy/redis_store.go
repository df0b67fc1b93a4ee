package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "orderload:dummy:"

// RedisStore shares idempotency state between mock instances. The order
// is written with SETNX under its idempotency key, so a replay always
// reads back the first order.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to addr and pings it.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     100,
		MinIdleConns: 10,
		PoolTimeout:  2 * time.Second,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaxRetries:   1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, "", ttl), nil
}

// NewRedisStoreWithClient wraps an existing client. An empty prefix
// uses the default one.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) idemKey(key string) string { return s.keyPrefix + "idem:" + key }
func (s *RedisStore) orderKey(id string) string { return s.keyPrefix + "order:" + id }

func (s *RedisStore) Create(ctx context.Context, o Order) (Order, bool, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return Order{}, false, err
	}

	created, err := s.client.SetNX(ctx, s.idemKey(o.IdempotencyKey), data, s.ttl).Result()
	if err != nil {
		return Order{}, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	if !created {
		raw, err := s.client.Get(ctx, s.idemKey(o.IdempotencyKey)).Bytes()
		if err != nil {
			return Order{}, false, fmt.Errorf("failed to load replayed order: %w", err)
		}
		var existing Order
		if err := json.Unmarshal(raw, &existing); err != nil {
			return Order{}, false, err
		}
		return existing, false, nil
	}

	if err := s.client.Set(ctx, s.orderKey(o.OrderID), data, s.ttl).Err(); err != nil {
		return Order{}, false, fmt.Errorf("failed to store order: %w", err)
	}
	return o, true, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Order, error) {
	raw, err := s.client.Get(ctx, s.orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("failed to get order: %w", err)
	}

	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var (
	_ OrderStore = (*MemoryStore)(nil)
	_ OrderStore = (*RedisStore)(nil)
)
