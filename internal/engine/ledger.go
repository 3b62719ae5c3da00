package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/journal"
	"github.com/efreitasn/spotsim/internal/store"
)

// FillRequest describes one settlement against an account.
type FillRequest struct {
	AccountID string
	OrderID   string
	Symbol    string
	Side      domain.OrderSide
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Release   decimal.Decimal // locked balance freed by this fill
}

// FillResult is the outcome of a successful fill.
type FillResult struct {
	RealizedPnl decimal.Decimal
	Transaction *domain.Transaction
}

// Ledger is the only place balances and positions change. Every mutation
// runs under the account's Mu and is committed to the journal before it is
// applied in memory, so a failed fill leaves no trace.
type Ledger struct {
	accounts     *store.AccountStore
	transactions *store.TransactionStore
	journal      journal.Journal
	defaultRisk  domain.RiskSettings // copied onto every new account
	now          func() time.Time

	// openMu keeps the user_id check and the journal insert of OpenAccount
	// in one critical section.
	openMu sync.Mutex
}

// NewLedger creates a Ledger. A nil journal disables persistence.
func NewLedger(accounts *store.AccountStore, transactions *store.TransactionStore, j journal.Journal) *Ledger {
	if j == nil {
		j = journal.Nop{}
	}
	return &Ledger{
		accounts:     accounts,
		transactions: transactions,
		journal:      j,
		now:          time.Now,
	}
}

// OpenAccount creates an account for userID funded with initialBalance.
func (l *Ledger) OpenAccount(ctx context.Context, userID string, initialBalance decimal.Decimal) (*domain.Account, error) {
	if userID == "" {
		return nil, domain.Invalid("user_id is required")
	}
	if initialBalance.IsNegative() {
		return nil, domain.Invalid("initial_balance must be >= 0")
	}

	l.openMu.Lock()
	defer l.openMu.Unlock()

	if _, err := l.accounts.GetByUser(userID); err == nil {
		return nil, domain.ErrAccountAlreadyExists
	}

	acc := domain.NewAccount(uuid.New().String(), userID, initialBalance, l.now())
	acc.Risk = l.defaultRisk
	if err := l.journal.SaveAccount(ctx, journal.AccountRowOf(acc)); err != nil {
		return nil, fmt.Errorf("journal account: %w", err)
	}
	if err := l.accounts.Create(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// Deposit credits amount to the account's balance.
func (l *Ledger) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Invalid("amount must be greater than 0")
	}
	acc, err := l.accounts.Get(accountID)
	if err != nil {
		return err
	}

	acc.Mu.Lock()
	defer acc.Mu.Unlock()

	row := journal.AccountRowOf(acc)
	row.Balance = acc.Balance.Add(amount)
	row.TotalDeposited = acc.TotalDeposited.Add(amount)
	row.UpdatedAt = l.now()
	if err := l.journal.SaveAccount(ctx, row); err != nil {
		return fmt.Errorf("journal deposit: %w", err)
	}

	acc.Balance = row.Balance
	acc.TotalDeposited = row.TotalDeposited
	acc.UpdatedAt = row.UpdatedAt
	return nil
}

// SetRisk replaces the account's automatic bracket defaults.
func (l *Ledger) SetRisk(ctx context.Context, accountID string, risk domain.RiskSettings) error {
	if p := risk.StopLossPercent; p != nil && (!p.IsPositive() || p.GreaterThanOrEqual(decimal.NewFromInt(100))) {
		return domain.Invalid("stop_loss_percent must be between 0 and 100")
	}
	if p := risk.TakeProfitPercent; p != nil && !p.IsPositive() {
		return domain.Invalid("take_profit_percent must be greater than 0")
	}
	acc, err := l.accounts.Get(accountID)
	if err != nil {
		return err
	}

	acc.Mu.Lock()
	defer acc.Mu.Unlock()

	row := journal.AccountRowOf(acc)
	row.Risk = risk
	row.UpdatedAt = l.now()
	if err := l.journal.SaveAccount(ctx, row); err != nil {
		return fmt.Errorf("journal risk settings: %w", err)
	}
	acc.Risk = risk
	acc.UpdatedAt = row.UpdatedAt
	return nil
}

// ApplyFill settles req against its account, taking the account lock.
func (l *Ledger) ApplyFill(ctx context.Context, req FillRequest) (*FillResult, error) {
	acc, err := l.accounts.Get(req.AccountID)
	if err != nil {
		return nil, err
	}
	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	return l.applyFill(ctx, acc, req)
}

// applyFill settles req against acc. The caller holds acc.Mu.
func (l *Ledger) applyFill(ctx context.Context, acc *domain.Account, req FillRequest) (*FillResult, error) {
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() || req.Fee.IsNegative() {
		return nil, domain.Invalid("fill quantity and price must be greater than 0")
	}

	now := l.now()
	row := journal.AccountRowOf(acc)
	row.UpdatedAt = now
	row.LockedBalance = decimal.Max(decimal.Zero, acc.LockedBalance.Sub(req.Release))

	var (
		pos         *domain.Position
		realizedPnl decimal.Decimal
		current     = acc.Positions[req.Symbol]
		cost        = req.Price.Mul(req.Quantity)
	)

	switch req.Side {
	case domain.OrderSideBuy:
		netDebit := cost.Add(req.Fee)
		if acc.Balance.LessThan(netDebit) {
			return nil, domain.ErrInsufficientBalance
		}
		row.Balance = acc.Balance.Sub(netDebit)

		pos = &domain.Position{AccountID: acc.AccountID, Symbol: req.Symbol, Quantity: req.Quantity, AveragePrice: req.Price}
		if current != nil {
			newQty := current.Quantity.Add(req.Quantity)
			pos.Quantity = newQty
			pos.AveragePrice = current.AveragePrice.Mul(current.Quantity).Add(cost).Div(newQty)
		}

	case domain.OrderSideSell:
		if req.Quantity.GreaterThan(acc.HeldQuantity(req.Symbol)) {
			return nil, domain.ErrInsufficientQuantity
		}
		realizedPnl = req.Price.Sub(current.AveragePrice).Mul(req.Quantity).Sub(req.Fee)
		row.Balance = acc.Balance.Add(cost).Sub(req.Fee)
		row.TotalProfit = acc.TotalProfit.Add(realizedPnl)

		if remaining := current.Quantity.Sub(req.Quantity); remaining.IsPositive() {
			pos = &domain.Position{AccountID: acc.AccountID, Symbol: req.Symbol, Quantity: remaining, AveragePrice: current.AveragePrice}
		}

	default:
		return nil, domain.Invalid("side must be 'BUY' or 'SELL'")
	}

	if pos != nil {
		pos.Mark(req.Price, now)
	}

	tx := &domain.Transaction{
		TransactionID: uuid.New().String(),
		AccountID:     acc.AccountID,
		OrderID:       req.OrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Fee:           req.Fee,
		RealizedPnl:   realizedPnl,
		ExecutedAt:    now,
	}

	if err := l.journal.RecordFill(ctx, journal.Fill{
		Account:     row,
		Symbol:      req.Symbol,
		Position:    pos,
		Transaction: tx,
	}); err != nil {
		return nil, fmt.Errorf("journal fill: %w", err)
	}

	acc.Balance = row.Balance
	acc.LockedBalance = row.LockedBalance
	acc.TotalProfit = row.TotalProfit
	acc.UpdatedAt = now
	if pos != nil {
		acc.Positions[req.Symbol] = pos
	} else {
		delete(acc.Positions, req.Symbol)
	}
	l.transactions.Append(tx)

	return &FillResult{RealizedPnl: realizedPnl, Transaction: tx}, nil
}

// MarkPositions revalues acc's positions at the given prices. Symbols
// without a price keep their last mark. The caller holds acc.Mu.
func MarkPositions(acc *domain.Account, prices map[string]decimal.Decimal, at time.Time) {
	for sym, p := range acc.Positions {
		if price, ok := prices[sym]; ok {
			p.Mark(price, at)
		}
	}
}
