// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCacheLifetime is used when no positive cache lifetime is configured.
const DefaultCacheLifetime = time.Minute * 5

// Cache holds the last successful Reading together with the time it was stored.
type Cache struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	reading  Reading
	storedAt time.Time
	present  bool
	lifetime time.Duration
}

// NewCache returns an empty Cache with the given lifetime.
func NewCache(clock clockwork.Clock, lifetime time.Duration) *Cache {
	return &Cache{
		clock:    clock,
		lifetime: lifetime,
	}
}

// Store replaces the cached reading and its storage time.
func (c *Cache) Store(r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = r
	c.storedAt = c.clock.Now()
	c.present = true
}

// Read returns the cached reading regardless of its validity.
func (c *Cache) Read() (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reading, c.present
}

// IsValid reports whether a reading is cached and younger than the cache lifetime.
func (c *Cache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.present {
		return false
	}
	lifetime := c.lifetime
	if lifetime <= 0 {
		lifetime = DefaultCacheLifetime
	}
	return c.clock.Since(c.storedAt) < lifetime
}

// Clear removes the cached reading.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = Reading{}
	c.storedAt = time.Time{}
	c.present = false
}

// SetLifetime changes the cache lifetime. It applies to the currently cached reading as well.
func (c *Cache) SetLifetime(lifetime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifetime = lifetime
}
