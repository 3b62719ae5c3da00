// Package journal persists ledger state so the in-memory engine can be
// rebuilt after a restart. Every fill is committed as one database
// transaction covering the account row, the position, the order and the
// transaction record.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountRow is the persisted, lock-free view of an account.
type AccountRow struct {
	AccountID      string
	UserID         string
	Balance        decimal.Decimal
	LockedBalance  decimal.Decimal
	TotalProfit    decimal.Decimal
	TotalDeposited decimal.Decimal
	Risk           domain.RiskSettings
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AccountRowOf copies the persisted fields of a. Callers hold a.Mu.
func AccountRowOf(a *domain.Account) AccountRow {
	return AccountRow{
		AccountID:      a.AccountID,
		UserID:         a.UserID,
		Balance:        a.Balance,
		LockedBalance:  a.LockedBalance,
		TotalProfit:    a.TotalProfit,
		TotalDeposited: a.TotalDeposited,
		Risk:           a.Risk,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// Fill is the post-fill state of one settlement.
type Fill struct {
	Account     AccountRow
	Symbol      string
	Position    *domain.Position // nil when the fill closed the position
	Transaction *domain.Transaction
}

// Snapshot is everything Load recovers.
type Snapshot struct {
	Accounts     []*domain.Account // with Positions populated
	Orders       []*domain.Order   // in creation order
	Transactions []*domain.Transaction
}

// Journal is a durable record of ledger state.
type Journal interface {
	SaveAccount(ctx context.Context, a AccountRow) error
	SaveOrder(ctx context.Context, o *domain.Order) error
	RecordFill(ctx context.Context, f Fill) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// Open returns the journal selected by driver: "none", "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Journal, error) {
	switch driver {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown journal driver %q", driver)
}

// Nop discards everything. It is used when persistence is disabled.
type Nop struct{}

func (Nop) SaveAccount(context.Context, AccountRow) error { return nil }
func (Nop) SaveOrder(context.Context, *domain.Order) error { return nil }
func (Nop) RecordFill(context.Context, Fill) error { return nil }
func (Nop) Load(context.Context) (*Snapshot, error) { return &Snapshot{}, nil }
func (Nop) Close() error { return nil }

// assemble attaches positions to their accounts.
func assemble(accounts []*domain.Account, positions []*domain.Position) []*domain.Account {
	byID := make(map[string]*domain.Account, len(accounts))
	for _, a := range accounts {
		byID[a.AccountID] = a
	}
	for _, p := range positions {
		if a, ok := byID[p.AccountID]; ok {
			a.Positions[p.Symbol] = p
		}
	}
	return accounts
}
