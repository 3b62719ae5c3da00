package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Cache keeps recently fetched prices for ttl. Concurrent misses for the
// same symbol share one upstream call.
type Cache struct {
	src   Source
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedPrice
}

// NewCache wraps src. A ttl <= 0 disables caching but still collapses
// concurrent lookups.
func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedPrice),
	}
}

func (c *Cache) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := c.lookup(symbol); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(symbol, func() (any, error) {
		p, err := c.src.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		c.mu.Lock()
		c.entries[symbol] = cachedPrice{price: p, fetchedAt: c.now()}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (c *Cache) GetMultiplePrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	return fetchAll(ctx, c, symbols), nil
}

// Invalidate drops the cached price of symbol.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}

func (c *Cache) lookup(symbol string) (decimal.Decimal, bool) {
	if c.ttl <= 0 {
		return decimal.Zero, false
	}
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return decimal.Zero, false
	}
	return e.price, true
}
