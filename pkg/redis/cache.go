package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides typed and raw caching helpers under a key prefix
// ⭐ SSOT: 캐시 헬퍼는 여기서만
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

func (c *Cache) fullKey(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

// GetBytes retrieves a raw cached value; a missing key reports found=false
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if !c.client.Enabled() {
		return nil, false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}

	return data, true, nil
}

// SetBytes stores a raw value; ttl 0 keeps it without expiry
func (c *Cache) SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	return c.client.Redis().Set(ctx, c.fullKey(key), data, ttl).Err()
}

// Get retrieves a JSON cached value
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := c.GetBytes(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	return true, nil
}

// Set stores a JSON value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	return c.SetBytes(ctx, key, data, ttl)
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}

	return c.client.Redis().Del(ctx, c.fullKey(key)).Err()
}

// Predefined TTLs
const (
	TTLSimulation = 24 * time.Hour // 시뮬레이션 결과 보관
	TTLPolicy     = 0                // 적응 정책은 만료 없음
)

// PolicyKey is the cache key of an adapted policy artifact
func PolicyKey(policyKey string) string {
	return fmt.Sprintf("policy:%s", policyKey)
}

// SimulationKey is the cache key of a finished simulation run
func SimulationKey(runID string) string {
	return fmt.Sprintf("simulation:%s", runID)
}
