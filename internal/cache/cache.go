// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package cache provides a thread-safe in-memory flag cache with TTL
// expiration. It exists for the evaluation hot path only; the mutation path
// invalidates on every successful write, so a stale read window is bounded
// by the TTL even if an invalidation is missed.
package cache

import (
	"sync"
	"time"

	"github.com/flagwarden/flagwarden/internal/metrics"
	"github.com/flagwarden/flagwarden/internal/models"
)

// entry is a cached flag with its expiration.
type entry struct {
	flag      *models.FeatureFlag
	expiresAt time.Time
}

// FlagCache caches flags by key with a fixed TTL.
type FlagCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

// New creates a flag cache. A background goroutine sweeps expired entries
// every minute until Stop is called. TTL defaults to 30 seconds when
// non-positive.
func New(ttl time.Duration) *FlagCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &FlagCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the cached flag for key, or (nil, false) on a miss or an
// expired entry. The returned flag is a clone; callers may not observe
// later cache writes through it.
func (c *FlagCache) Get(key string) (*models.FeatureFlag, bool) {
	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.FlagCacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(cached.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		metrics.FlagCacheMisses.Inc()
		metrics.FlagCacheEntries.Set(float64(c.Len()))
		return nil, false
	}

	metrics.FlagCacheHits.Inc()
	return cached.flag.Clone(), true
}

// Set stores a clone of the flag under key with the cache TTL.
func (c *FlagCache) Set(key string, flag *models.FeatureFlag) {
	c.mu.Lock()
	c.entries[key] = entry{
		flag:      flag.Clone(),
		expiresAt: time.Now().Add(c.ttl),
	}
	size := len(c.entries)
	c.mu.Unlock()
	metrics.FlagCacheEntries.Set(float64(size))
}

// Invalidate drops the cached flag for key. Called from the mutation path
// after every successful write.
func (c *FlagCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	size := len(c.entries)
	c.mu.Unlock()
	metrics.FlagCacheEntries.Set(float64(size))
}

// Clear drops every cached flag.
func (c *FlagCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	metrics.FlagCacheEntries.Set(0)
}

// Len returns the number of cached entries, expired or not.
func (c *FlagCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the background cleanup goroutine. Safe to call more
// than once.
func (c *FlagCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *FlagCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *FlagCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for key, cached := range c.entries {
		if now.After(cached.expiresAt) {
			delete(c.entries, key)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	metrics.FlagCacheEntries.Set(float64(size))
}
