// Package memory implements the hot in-process token cache TradeHandler
// and the SpecializedMonitors read and update. It is not backed by the
// relational store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pumpfun-ingest/core/internal/domain"
)

type entry struct {
	token     *domain.Token
	updatedAt time.Time
}

// HotCache is the concrete domain.HotCache. Entries are evicted once they
// haven't been touched for evictAfter, on a fixed refreshEvery tick, so a
// token that goes quiet naturally falls out without an explicit remove
// call from its last reader.
type HotCache struct {
	mu         sync.RWMutex
	entries    map[domain.MintAddress]entry
	evictAfter time.Duration
}

func NewHotCache(evictAfter time.Duration) *HotCache {
	return &HotCache{
		entries:    make(map[domain.MintAddress]entry),
		evictAfter: evictAfter,
	}
}

func (c *HotCache) Get(mint domain.MintAddress) (*domain.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[mint]
	if !ok {
		return nil, false
	}
	return e.token, true
}

func (c *HotCache) Set(t *domain.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t.MintAddress] = entry{token: t, updatedAt: time.Now()}
}

func (c *HotCache) Evict(mint domain.MintAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, mint)
}

// RunEvictionLoop blocks, sweeping stale entries every refreshEvery tick,
// until ctx is cancelled.
func (c *HotCache) RunEvictionLoop(ctx context.Context, refreshEvery time.Duration) {
	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *HotCache) sweep() {
	cutoff := time.Now().Add(-c.evictAfter)
	c.mu.Lock()
	defer c.mu.Unlock()
	for mint, e := range c.entries {
		if e.updatedAt.Before(cutoff) {
			delete(c.entries, mint)
		}
	}
}

func (c *HotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
