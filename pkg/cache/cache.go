// Package cache provides the caller-side result cache layered outside
// the pure engine functions. Entries are keyed by a canonical hash of the
// evaluation inputs and must stay short-lived: course and GPA data can
// change between calls.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

// ResultCache stores validation results under stable input keys.
type ResultCache interface {
	Get(ctx context.Context, key string) (*validation.Result, bool, error)
	Set(ctx context.Context, key string, res *validation.Result, ttl time.Duration) error
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryCache is an in-process ResultCache with lazy expiry. Results are
// stored as JSON so cached copies never alias the caller's result.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get returns the cached result for key, if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) (*validation.Result, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	var res validation.Result
	if err := json.Unmarshal(entry.payload, &res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

// Set stores res under key for ttl.
func (c *MemoryCache) Set(_ context.Context, key string, res *validation.Result, ttl time.Duration) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{payload: payload, expiresAt: time.Now().Add(ttl)}
	// Opportunistic sweep keeps the map bounded without a janitor goroutine.
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	return nil
}
