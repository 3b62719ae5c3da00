package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RiskSettings are account-level defaults for automatic stop-loss and
// take-profit placement after a BUY fills. A request-level bracket always
// takes precedence.
type RiskSettings struct {
	Enabled           bool
	StopLossPercent   *decimal.Decimal
	TakeProfitPercent *decimal.Decimal
}

// Position is an account's holding in a single symbol.
type Position struct {
	AccountID        string
	Symbol           string
	Quantity         decimal.Decimal
	AveragePrice     decimal.Decimal
	CurrentPrice     decimal.Decimal
	CurrentValue     decimal.Decimal
	UnrealizedProfit decimal.Decimal
	UpdatedAt        time.Time
}

// Mark refreshes the position's valuation against price.
func (p *Position) Mark(price decimal.Decimal, at time.Time) {
	p.CurrentPrice = price
	p.CurrentValue = price.Mul(p.Quantity)
	p.UnrealizedProfit = price.Sub(p.AveragePrice).Mul(p.Quantity)
	p.UpdatedAt = at
}

// Account is a trading account: a cash balance plus positions keyed by symbol.
// All mutation goes through the engine ledger while Mu is held.
type Account struct {
	AccountID      string
	UserID         string
	Balance        decimal.Decimal
	LockedBalance  decimal.Decimal // estimated cost of pending limit buys, informational
	TotalProfit    decimal.Decimal // cumulative realized PnL
	TotalDeposited decimal.Decimal
	Positions      map[string]*Position
	Risk           RiskSettings
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Mu             sync.Mutex // per-account lock for balance, position and order mutations
}

// NewAccount builds an account funded with initialBalance.
func NewAccount(id, userID string, initialBalance decimal.Decimal, now time.Time) *Account {
	return &Account{
		AccountID:      id,
		UserID:         userID,
		Balance:        initialBalance,
		TotalDeposited: initialBalance,
		Positions:      make(map[string]*Position),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AvailableBalance returns the balance not earmarked by pending limit buys.
func (a *Account) AvailableBalance() decimal.Decimal {
	return a.Balance.Sub(a.LockedBalance)
}

// HeldQuantity returns the position quantity for symbol, or zero.
func (a *Account) HeldQuantity(symbol string) decimal.Decimal {
	p, ok := a.Positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return p.Quantity
}

// PositionsValue sums CurrentValue over all positions.
func (a *Account) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Positions {
		total = total.Add(p.CurrentValue)
	}
	return total
}
