// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rcache caches decoded query results.
package rcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/canonical/sqlrec/internal/compress"
)

// Cache stores encoded query results.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

type entry struct {
	value   []byte
	expires time.Time
}

// LRU is an in-memory Cache holding at most a fixed number of entries.
type LRU struct {
	mu    sync.Mutex
	cache *lru.Cache
	// keys mirrors the keys held by cache, which cannot be iterated.
	keys map[string]struct{}
	now  func() time.Time
}

var _ Cache = (*LRU)(nil)

// NewLRU returns an LRU holding at most size entries.
func NewLRU(size int) *LRU {
	c := &LRU{
		cache: lru.New(size),
		keys:  make(map[string]struct{}),
		now:   time.Now,
	}
	c.cache.OnEvicted = func(key lru.Key, _ any) {
		delete(c.keys, key.(string))
	}
	return c
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, nil
	}
	e := v.(entry)
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.cache.Remove(key)
		return nil, nil
	}
	return e.value, nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, e)
	c.keys[key] = struct{}{}
	return nil
}

func (c *LRU) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
	return nil
}

func (c *LRU) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.keys {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
	return nil
}

func (c *LRU) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Clear()
	c.keys = make(map[string]struct{})
	return nil
}

// Len returns the number of entries held, expired ones included.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Key returns the cache key of a statement over table. Keys of one table
// share the prefix TablePrefix(table).
func Key(table, query string, args []any) (string, error) {
	b, err := msgpack.Marshal(args)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write(b)
	return TablePrefix(table) + hex.EncodeToString(h.Sum(nil)), nil
}

// TablePrefix returns the key prefix of the statements over table.
func TablePrefix(table string) string {
	return table + ":"
}

// Encode returns the cached form of v.
func Encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress.Encode(b, compress.DefaultThreshold), nil
}

// Decode reads the cached form of a value into v.
func Decode(b []byte, v any) error {
	raw, err := compress.Decode(b)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(raw, v)
}
