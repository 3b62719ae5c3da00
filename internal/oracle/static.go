package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/shopspring/decimal"
)

// Static serves prices set in-process. It backs simulations and tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic returns a Static seeded with prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[sym] = p
	}
	return s
}

// Set replaces the price of symbol.
func (s *Static) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

func (s *Static) GetCurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	p, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	return p, nil
}

func (s *Static) GetMultiplePrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}
