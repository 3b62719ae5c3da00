package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// PendingOrderMonitor periodically prices every symbol with pending
// conditional orders or open positions, executes the orders the price has
// crossed and marks positions to market.
type PendingOrderMonitor struct {
	interval time.Duration
	engine   *Engine
	oracle   PriceOracle
	logger   *slog.Logger
}

// NewPendingOrderMonitor creates a monitor that ticks every interval.
func NewPendingOrderMonitor(interval time.Duration, engine *Engine, oracle PriceOracle, logger *slog.Logger) *PendingOrderMonitor {
	return &PendingOrderMonitor{
		interval: interval,
		engine:   engine,
		oracle:   oracle,
		logger:   logger,
	}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (m *PendingOrderMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// tick runs one scan. A failing order is logged and skipped; it never stops
// the scan.
func (m *PendingOrderMonitor) tick(ctx context.Context) {
	pending := m.engine.triggers.Symbols()
	symbols := union(pending, m.engine.HeldSymbols())
	if len(symbols) == 0 {
		return
	}

	prices, err := m.oracle.GetMultiplePrices(ctx, symbols)
	if err != nil {
		m.logger.Warn("monitor price fetch failed", slog.String("error", err.Error()))
		return
	}

	for _, sym := range pending {
		price, ok := prices[sym]
		if !ok {
			m.logger.Debug("no price for symbol, orders stay pending", slog.String("symbol", sym))
			continue
		}
		for _, order := range m.engine.triggers.Triggered(sym, price) {
			filled, err := m.engine.ExecuteTriggered(ctx, order, price)
			if err != nil {
				m.logger.Warn("triggered order not filled",
					slog.String("order_id", order.OrderID),
					slog.String("account_id", order.AccountID),
					slog.String("symbol", sym),
					slog.String("price", price.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if filled {
				m.logger.Info("triggered order filled",
					slog.String("order_id", order.OrderID),
					slog.String("account_id", order.AccountID),
					slog.String("symbol", sym),
					slog.String("price", price.String()),
				)
			}
		}
	}

	m.engine.MarkToMarket(prices)
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
