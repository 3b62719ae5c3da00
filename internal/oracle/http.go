package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	tickerPath     = "/api/v3/ticker/price"
	maxBodyBytes   = 1 << 16
)

type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// HTTPConfig configures an HTTP oracle.
type HTTPConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second; <= 0 disables limiting
	Breaker   BreakerConfig
}

// HTTP reads prices from a Binance-compatible REST ticker endpoint.
type HTTP struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *Breaker
	logger  *slog.Logger
}

// NewHTTP builds an HTTP oracle from cfg.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger) *HTTP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}
	return &HTTP{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewBreaker(cfg.Breaker, logger),
		logger:  logger,
	}
}

// GetCurrentPrice fetches the last traded price of symbol. Every failure
// wraps domain.ErrPriceUnavailable.
func (h *HTTP) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if !h.breaker.Allow() {
		return decimal.Zero, fmt.Errorf("price source circuit open: %w", domain.ErrPriceUnavailable)
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limit wait for %s: %v: %w", symbol, err, domain.ErrPriceUnavailable)
	}

	price, err := h.fetch(ctx, symbol)
	if err != nil {
		h.breaker.Failure()
		h.logger.Warn("price fetch failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, fmt.Errorf("fetch price for %s: %v: %w", symbol, err, domain.ErrPriceUnavailable)
	}
	h.breaker.Success()
	return price, nil
}

// GetMultiplePrices fetches symbols concurrently. Symbols that could not be
// priced are absent from the result.
func (h *HTTP) GetMultiplePrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	return fetchAll(ctx, h, symbols), nil
}

func (h *HTTP) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := h.baseURL + tickerPath + "?" + url.Values{"symbol": {symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var t tickerResponse
	if err := json.Unmarshal(body, &t); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	if !t.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", t.Price)
	}
	return t.Price, nil
}
