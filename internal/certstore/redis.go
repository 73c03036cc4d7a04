package certstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps certificates in Redis. SETNX makes the first write win
// even under concurrent certification of the same input.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the server so a misconfigured address
// fails at startup rather than on the first certification.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("certstore: redis connect: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(key string) string { return "cert:" + key }

func (r *RedisStore) Get(ctx context.Context, key string) (*CertificateResult, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("certstore: redis get: %w", err)
	}
	var res CertificateResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("certstore: decode certificate: %w", err)
	}
	return &res, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, res *CertificateResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("certstore: encode certificate: %w", err)
	}
	if _, err := r.client.SetNX(ctx, redisKey(key), data, ttl).Result(); err != nil {
		return fmt.Errorf("certstore: redis setnx: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
