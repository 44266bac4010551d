package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jbouniol/finovera/internal/codec"
	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/pkg/redis"
)

// Key identifies one adapted policy: live asset count plus enabled channels
type Key struct {
	Assets   int            `json:"assets"`
	Channels codec.Channels `json:"channels"`
}

// KeyFor derives the cache key of an environment
func KeyFor(e *env.Environment) Key {
	return Key{Assets: e.NumAssets(), Channels: e.Channels()}
}

func (k Key) String() string {
	return fmt.Sprintf("n=%d/%s", k.Assets, k.Channels)
}

// Cache is the in-memory tier of adapted policies. Published policies are
// never mutated, so concurrent readers may share them.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Policy
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]Policy)}
}

// Get returns the policy cached under key
func (c *Cache) Get(key Key) (Policy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[key]
	return p, ok
}

// Put publishes p under key
func (c *Cache) Put(key Key, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = p
}

// Keys returns the cached keys ordered by asset count then channels
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Assets != keys[j].Assets {
			return keys[i].Assets < keys[j].Assets
		}
		return keys[i].Channels.String() < keys[j].Channels.String()
	})
	return keys
}

// Len returns the number of cached policies
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Store is a persistent tier of adapted policies shared across processes
type Store interface {
	Name() string
	Get(ctx context.Context, key Key) (*MLP, bool, error)
	Put(ctx context.Context, key Key, m *MLP) error
}

// DirStore keeps adapted artifacts as ppo_<n>_<channels>.msgpack files
type DirStore struct {
	dir string
}

// NewDirStore creates a directory-backed store
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Name implements Store
func (s *DirStore) Name() string { return "disk" }

// Path returns the artifact path for key
func (s *DirStore) Path(key Key) string {
	return filepath.Join(s.dir, fmt.Sprintf("ppo_%d_%s.msgpack", key.Assets, key.Channels))
}

// Get implements Store
func (s *DirStore) Get(_ context.Context, key Key) (*MLP, bool, error) {
	m, err := LoadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Put implements Store
func (s *DirStore) Put(_ context.Context, key Key, m *MLP) error {
	return SaveFile(s.Path(key), m)
}

// RedisStore keeps adapted artifacts as msgpack blobs in Redis
type RedisStore struct {
	cache *redis.Cache
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(cache *redis.Cache) *RedisStore {
	return &RedisStore{cache: cache}
}

// Name implements Store
func (s *RedisStore) Name() string { return "redis" }

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key Key) (*MLP, bool, error) {
	data, found, err := s.cache.GetBytes(ctx, redis.PolicyKey(key.String()))
	if err != nil || !found {
		return nil, false, err
	}
	m, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Put implements Store
func (s *RedisStore) Put(ctx context.Context, key Key, m *MLP) error {
	var buf bytes.Buffer
	if err := Save(&buf, m); err != nil {
		return err
	}
	return s.cache.SetBytes(ctx, redis.PolicyKey(key.String()), buf.Bytes(), redis.TTLPolicy)
}
