// Copyright 2025 SentryGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// IdempotencyCache stores terminal responses keyed by
// (principal subject, idempotency key) for the configured TTL.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, response []byte) error
	Close() error
}

// IdempotencyKey builds the cache key. Subject comes first so one
// principal can never read another's cached responses.
func IdempotencyKey(subject, idempotencyKey string) string {
	return fmt.Sprintf("idem:%s:%s", subject, idempotencyKey)
}

// RedisIdempotencyCache is the production cache.
type RedisIdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyCache connects to redis at url
// (redis://host:port/db form).
func NewRedisIdempotencyCache(url string, ttl time.Duration) (*RedisIdempotencyCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisIdempotencyCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// NewRedisIdempotencyCacheWithClient wraps an existing client. Used by
// tests with miniredis.
func NewRedisIdempotencyCacheWithClient(client *redis.Client, ttl time.Duration) *RedisIdempotencyCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisIdempotencyCache{client: client, ttl: ttl}
}

// Get returns the cached response for key, if present.
func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	return data, true, nil
}

// Put stores a response under key with the configured TTL.
func (c *RedisIdempotencyCache) Put(ctx context.Context, key string, response []byte) error {
	if err := c.client.Set(ctx, key, response, c.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *RedisIdempotencyCache) Close() error {
	return c.client.Close()
}

// MemoryIdempotencyCache is the fallback when no redis URL is
// configured. Entries expire lazily on read and on write sweeps.
type MemoryIdempotencyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryIdempotencyCache creates an in-process cache.
func NewMemoryIdempotencyCache(ttl time.Duration) *MemoryIdempotencyCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryIdempotencyCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached response for key, if present and fresh.
func (c *MemoryIdempotencyCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.data, true, nil
}

// Put stores a response and sweeps expired entries.
func (c *MemoryIdempotencyCache) Put(_ context.Context, key string, response []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	data := make([]byte, len(response))
	copy(data, response)
	c.entries[key] = memoryEntry{data: data, expiresAt: now.Add(c.ttl)}
	return nil
}

// Close clears the cache.
func (c *MemoryIdempotencyCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}

var (
	_ IdempotencyCache = (*RedisIdempotencyCache)(nil)
	_ IdempotencyCache = (*MemoryIdempotencyCache)(nil)
)
