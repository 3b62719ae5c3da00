package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/engine"
	"github.com/efreitasn/spotsim/internal/oracle"
	"github.com/efreitasn/spotsim/internal/store"
)

// testEnv bundles all dependencies needed for service tests.
type testEnv struct {
	accountStore *store.AccountStore
	orderStore   *store.OrderStore
	txStore      *store.TransactionStore
	webhookStore *store.WebhookStore
	symbols      *domain.SymbolRegistry
	prices       *oracle.Static
	cache        *oracle.Cache
	engine       *engine.Engine
	accounts     *AccountService
	orders       *OrderService
	market       *MarketService
	webhooks     *WebhookService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv() *testEnv {
	env := &testEnv{
		accountStore: store.NewAccountStore(),
		orderStore:   store.NewOrderStore(),
		txStore:      store.NewTransactionStore(),
		webhookStore: store.NewWebhookStore(),
		symbols:      domain.NewSymbolRegistry(domain.DefaultSymbols...),
		prices: oracle.NewStatic(map[string]decimal.Decimal{
			"BTCUSDT": dec("50000"),
			"ETHUSDT": dec("3000"),
		}),
	}
	env.cache = oracle.NewCache(env.prices, time.Minute)
	env.webhooks = NewWebhookService(env.webhookStore, env.accountStore, 5*time.Second, discardLogger())
	env.engine = engine.New(engine.Options{
		Accounts:     env.accountStore,
		Orders:       env.orderStore,
		Transactions: env.txStore,
		Symbols:      env.symbols,
		Oracle:       env.cache,
		Notifier:     env.webhooks,
		Logger:       discardLogger(),
	})
	env.accounts = NewAccountService(env.engine, env.accountStore, env.txStore, env.cache, discardLogger())
	env.orders = NewOrderService(env.engine, env.accountStore, env.orderStore)
	env.market = NewMarketService(env.cache, env.prices, env.cache, env.symbols)
	return env
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

// openAccount is a helper that opens a funded account for userID.
func (env *testEnv) openAccount(t *testing.T, userID, balance string) string {
	t.Helper()
	summary, err := env.accounts.Open(context.Background(), OpenAccountRequest{
		UserID:         userID,
		InitialBalance: dec(balance),
	})
	if err != nil {
		t.Fatalf("failed to open account for %s: %v", userID, err)
	}
	return summary.AccountID
}

// setPrice moves the market through the service so cached prices are dropped.
func (env *testEnv) setPrice(t *testing.T, symbol, price string) {
	t.Helper()
	if _, err := env.market.SetPrice(symbol, dec(price)); err != nil {
		t.Fatalf("failed to set price: %v", err)
	}
}

func marketOrder(symbol string, side domain.OrderSide, qty string) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: dec(qty),
	}
}

// emptyOracle never has a price.
type emptyOracle struct{}

func (emptyOracle) GetCurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, domain.ErrPriceUnavailable
}

func (emptyOracle) GetMultiplePrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}
