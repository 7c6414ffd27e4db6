package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kiln/pkg/models"
	"kiln/pkg/storage"
)

const keyPrefix = "kiln:ac:"

// RedisActionCache maps request fingerprints to serialized outcomes. Entries
// carry a TTL; an expired entry is simply a cache miss.
type RedisActionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisActionCacheConfig holds Redis connection configuration
type RedisActionCacheConfig struct {
	Addr         string
	TTL          time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultRedisActionCacheConfig returns production defaults
func DefaultRedisActionCacheConfig(addr string) RedisActionCacheConfig {
	return RedisActionCacheConfig{
		Addr:         addr,
		TTL:          7 * 24 * time.Hour,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// NewRedisActionCache initializes a new Redis client with default config.
func NewRedisActionCache(addr string) (*RedisActionCache, error) {
	return NewRedisActionCacheWithConfig(DefaultRedisActionCacheConfig(addr))
}

// NewRedisActionCacheWithConfig initializes a new Redis client with custom config.
func NewRedisActionCacheWithConfig(cfg RedisActionCacheConfig) (*RedisActionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	// Ping to verify connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisActionCache{client: client, ttl: cfg.TTL}, nil
}

func (r *RedisActionCache) Close() error {
	return r.client.Close()
}

// Get returns the cached outcome for the fingerprint, or ErrNotFound.
func (r *RedisActionCache) Get(ctx context.Context, fp models.Fingerprint) (*models.Outcome, error) {
	payload, err := r.client.Get(ctx, keyPrefix+string(fp)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read action cache: %w", err)
	}

	var outcome models.Outcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached outcome: %w", err)
	}
	return &outcome, nil
}

// Put stores the outcome under the fingerprint with the configured TTL.
func (r *RedisActionCache) Put(ctx context.Context, fp models.Fingerprint, outcome *models.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+string(fp), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write action cache: %w", err)
	}
	return nil
}
