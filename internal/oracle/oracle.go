// Package oracle provides current market prices: an HTTP ticker client, an
// in-process static source and a TTL cache that can wrap either.
package oracle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Source returns the current price of a single symbol.
type Source interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// fanOutLimit bounds concurrent lookups in fetchAll.
const fanOutLimit = 8

// fetchAll looks up every symbol concurrently and returns the prices that
// resolved. Failed symbols are omitted; callers treat them as unavailable.
func fetchAll(ctx context.Context, src Source, symbols []string) map[string]decimal.Decimal {
	var (
		mu     sync.Mutex
		prices = make(map[string]decimal.Decimal, len(symbols))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		sym := sym
		g.Go(func() error {
			price, err := src.GetCurrentPrice(gctx, sym)
			if err != nil {
				return nil // skip unavailable symbols
			}
			mu.Lock()
			prices[sym] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return prices
}
