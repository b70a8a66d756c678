package snapshot

import (
	"context"
	"sync"
	"time"
)

// MarketLoader fetches the full market list.
type MarketLoader func(ctx context.Context) ([]Market, error)

// MarketCache holds the market list between decisions. The list changes only
// when the protocol lists a market, so it is refreshed after ttl elapses.
// A zero ttl loads once and keeps the list until Invalidate is called.
type MarketCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	markets  []Market
	loadedAt time.Time
	now      func() time.Time
}

func NewMarketCache(ttl time.Duration) *MarketCache {
	return &MarketCache{ttl: ttl, now: time.Now}
}

// Get returns the cached markets, calling load when the cache is empty or stale.
func (c *MarketCache) Get(ctx context.Context, load MarketLoader) ([]Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.markets == nil || c.stale() {
		markets, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.markets = markets
		c.loadedAt = c.now()
	}

	out := make([]Market, len(c.markets))
	copy(out, c.markets)
	return out, nil
}

// Invalidate drops the cached list; the next Get reloads it.
func (c *MarketCache) Invalidate() {
	c.mu.Lock()
	c.markets = nil
	c.mu.Unlock()
}

func (c *MarketCache) stale() bool {
	return c.ttl > 0 && c.now().Sub(c.loadedAt) >= c.ttl
}
