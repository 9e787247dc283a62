// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache holds per-recording values in process memory, such as the
// storage service bound to each open recording.
package cache

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value    V
	lastUsed atomic.Int64 // unix nanos
}

// Cache is a sharded map with optional idle expiry and a size bound.
// Concurrent misses on one key share a single load, which runs detached from
// the callers that started it.
type Cache[K comparable, V any] struct {
	entries *utils.ShardedMap[K, *entry[V]]
	loads   singleflight.Group

	maxSize     int
	idle        time.Duration
	loadTimeout time.Duration

	sweep    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithMaxSize bounds the number of entries; the least recently used entry
// is evicted to make room.
func WithMaxSize[K comparable, V any](n int) Option[K, V] {
	return func(c *Cache[K, V]) { c.maxSize = n }
}

// WithExpiry drops entries not used for d.
func WithExpiry[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.idle = d }
}

// WithLoadTimeout bounds each shared load (0 = unbounded).
func WithLoadTimeout[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.loadTimeout = d }
}

// New creates a Cache. The expiry sweep stops when ctx is done or Stop is
// called.
func New[K comparable, V any](ctx context.Context, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		entries: utils.NewShardedMap[K, *entry[V]](),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.idle > 0 {
		c.sweep = time.AfterFunc(c.idle, c.sweepIdle)
		if ctx != nil {
			context.AfterFunc(ctx, c.Stop)
		}
	}
	return c
}

func (c *Cache[K, V]) sweepIdle() {
	cutoff := time.Now().Add(-c.idle).UnixNano()
	c.entries.DeleteIf(func(_ K, e *entry[V]) bool {
		return e.lastUsed.Load() < cutoff
	})

	select {
	case <-c.done:
	default:
		c.sweep.Reset(c.idle)
	}
}

// Stop ends the expiry sweep.
func (c *Cache[K, V]) Stop() {
	if c.sweep == nil {
		return
	}
	c.stopOnce.Do(func() {
		c.sweep.Stop()
		close(c.done)
	})
}

func (c *Cache[K, V]) expired(e *entry[V], now int64) bool {
	return c.idle > 0 && now-e.lastUsed.Load() > c.idle.Nanoseconds()
}

// Get returns a live entry and marks it used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries.Load(key)
	now := time.Now().UnixNano()
	if !ok || c.expired(e, now) {
		var zero V
		return zero, false
	}
	e.lastUsed.Store(now)
	return e.value, true
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Callers missing on the same key share one load; a failed load is not
// cached. The load keeps running if the caller that started it gives up,
// bounded by the load timeout.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if val, ok := c.Get(key); ok {
		return val, nil
	}

	ch := c.loads.DoChan(fmt.Sprint(key), func() (any, error) {
		if val, ok := c.Get(key); ok {
			return val, nil
		}
		loadCtx := context.WithoutCancel(ctx)
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, c.loadTimeout)
			defer cancel()
		}
		val, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, val)
		return val, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	e := &entry[V]{value: value}
	e.lastUsed.Store(time.Now().UnixNano())

	if c.maxSize > 0 {
		if _, exists := c.entries.Load(key); !exists && c.entries.Len() >= c.maxSize {
			c.evictLRU()
		}
	}
	c.entries.Store(key, e)
}

func (c *Cache[K, V]) evictLRU() {
	var (
		victim K
		oldest int64
		found  bool
	)
	c.entries.Range(func(k K, e *entry[V]) bool {
		if used := e.lastUsed.Load(); !found || used < oldest {
			victim, oldest, found = k, used, true
		}
		return true
	})
	if found {
		c.entries.Delete(victim)
	}
}

// Delete drops key.
func (c *Cache[K, V]) Delete(key K) {
	c.entries.Delete(key)
}

// Size is the number of stored entries, expired or not.
func (c *Cache[K, V]) Size() int {
	return c.entries.Len()
}

// All yields live entries without marking them used.
func (c *Cache[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		now := time.Now().UnixNano()
		c.entries.Range(func(k K, e *entry[V]) bool {
			if c.expired(e, now) {
				return true
			}
			return yield(k, e.value)
		})
	}
}
