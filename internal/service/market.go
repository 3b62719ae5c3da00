package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/engine"
	"github.com/efreitasn/spotsim/internal/oracle"
)

// PriceResponse represents the response for GET /prices/{symbol}.
type PriceResponse struct {
	Symbol   string
	Price    decimal.Decimal
	QuotedAt time.Time
}

// MarketService handles price queries and, for simulations, price overrides.
type MarketService struct {
	prices  engine.PriceOracle
	static  *oracle.Static // nil unless the static oracle is configured
	cache   *oracle.Cache  // nil when prices are not cached
	symbols *domain.SymbolRegistry
	now     func() time.Time
}

// NewMarketService creates a new MarketService. static and cache may be nil.
func NewMarketService(
	prices engine.PriceOracle,
	static *oracle.Static,
	cache *oracle.Cache,
	symbols *domain.SymbolRegistry,
) *MarketService {
	return &MarketService{
		prices:  prices,
		static:  static,
		cache:   cache,
		symbols: symbols,
		now:     time.Now,
	}
}

// GetPrice returns the current price of a supported symbol.
func (s *MarketService) GetPrice(ctx context.Context, symbol string) (*PriceResponse, error) {
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotSupported
	}
	price, err := s.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &PriceResponse{
		Symbol:   symbol,
		Price:    price,
		QuotedAt: s.now(),
	}, nil
}

// SetPrice overrides the price of symbol. Only the static oracle accepts
// overrides; any other configuration yields domain.ErrPriceOverrideDisabled.
func (s *MarketService) SetPrice(symbol string, price decimal.Decimal) (*PriceResponse, error) {
	if s.static == nil {
		return nil, domain.ErrPriceOverrideDisabled
	}
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotSupported
	}
	if !price.IsPositive() {
		return nil, &domain.ValidationError{
			Message: "price must be greater than 0",
		}
	}

	s.static.Set(symbol, price)
	if s.cache != nil {
		s.cache.Invalidate(symbol)
	}
	return &PriceResponse{
		Symbol:   symbol,
		Price:    price,
		QuotedAt: s.now(),
	}, nil
}

// ListSymbols returns the supported symbols in ascending order.
func (s *MarketService) ListSymbols() []string {
	return s.symbols.List()
}
