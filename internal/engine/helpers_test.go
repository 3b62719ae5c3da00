package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/journal"
	"github.com/efreitasn/spotsim/internal/oracle"
	"github.com/efreitasn/spotsim/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func strPtr(s string) *string {
	return &s
}

// recordingNotifier captures Notify calls.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	orders []*domain.Order
}

func (r *recordingNotifier) Notify(event string, order *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.orders = append(r.orders, order)
}

func (r *recordingNotifier) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// failingJournal accepts everything except fills.
type failingJournal struct {
	journal.Nop
}

var errJournalDown = errors.New("journal down")

func (failingJournal) RecordFill(context.Context, journal.Fill) error {
	return errJournalDown
}

type testEnv struct {
	engine   *Engine
	prices   *oracle.Static
	accounts *store.AccountStore
	orders   *store.OrderStore
	txs      *store.TransactionStore
	notifier *recordingNotifier
}

// buildEnv wires an engine over fresh stores and a static price source.
// Each tweak may adjust the engine options before construction.
func buildEnv(j journal.Journal, tweaks ...func(*Options)) *testEnv {
	env := &testEnv{
		prices: oracle.NewStatic(map[string]decimal.Decimal{
			"BTCUSDT": d("50000"),
			"ETHUSDT": d("3000"),
		}),
		accounts: store.NewAccountStore(),
		orders:   store.NewOrderStore(),
		txs:      store.NewTransactionStore(),
		notifier: &recordingNotifier{},
	}
	opts := Options{
		Accounts:     env.accounts,
		Orders:       env.orders,
		Transactions: env.txs,
		Symbols:      domain.NewSymbolRegistry(domain.DefaultSymbols...),
		Oracle:       env.prices,
		Journal:      j,
		Notifier:     env.notifier,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	env.engine = New(opts)
	return env
}

func newTestEnvWithJournal(t *testing.T, j journal.Journal) *testEnv {
	t.Helper()
	return buildEnv(j)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return buildEnv(nil)
}

// Triggers exposes the pending order index.
func (e *Engine) Triggers() *TriggerBook {
	return e.triggers
}

// Contains reports whether orderID is indexed.
func (tb *TriggerBook) Contains(orderID string) bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	_, ok := tb.index[orderID]
	return ok
}

// Len returns the number of indexed orders.
func (tb *TriggerBook) Len() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.index)
}

var userSeq atomic.Int64

// openAccount funds a fresh account with amount.
func (env *testEnv) openAccount(t *testing.T, amount string) *domain.Account {
	t.Helper()
	acc, err := env.engine.Ledger().OpenAccount(context.Background(), fmt.Sprintf("user-%d", userSeq.Add(1)), d(amount))
	if err != nil {
		t.Fatalf("failed to open account: %v", err)
	}
	return acc
}

func (env *testEnv) market(t *testing.T, accountID string, side domain.OrderSide, qty string) (*domain.Order, error) {
	t.Helper()
	return env.engine.PlaceOrder(context.Background(), accountID, domain.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: d(qty),
	})
}

// balance reads the account balance under its lock.
func balance(acc *domain.Account) decimal.Decimal {
	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	return acc.Balance
}

func held(acc *domain.Account, symbol string) decimal.Decimal {
	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	return acc.HeldQuantity(symbol)
}

func orderStatus(t *testing.T, env *testEnv, id string) domain.OrderStatus {
	t.Helper()
	o, err := env.orders.Get(id)
	if err != nil {
		t.Fatalf("order %s: %v", id, err)
	}
	acc, _ := env.accounts.Get(o.AccountID)
	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	return o.Status
}
