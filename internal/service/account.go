package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/engine"
	"github.com/efreitasn/spotsim/internal/store"
)

// OpenAccountRequest represents the input for account creation.
type OpenAccountRequest struct {
	UserID         string
	InitialBalance decimal.Decimal
}

// PositionView is a position as reported in the account summary.
type PositionView struct {
	Symbol           string
	Quantity         decimal.Decimal
	AveragePrice     decimal.Decimal
	CurrentPrice     decimal.Decimal
	CurrentValue     decimal.Decimal
	UnrealizedProfit decimal.Decimal
	UpdatedAt        time.Time
}

// AccountSummary represents the response for the account summary endpoint.
type AccountSummary struct {
	AccountID        string
	UserID           string
	Balance          decimal.Decimal
	LockedBalance    decimal.Decimal
	AvailableBalance decimal.Decimal
	TotalProfit      decimal.Decimal
	TotalDeposited   decimal.Decimal
	Positions        []PositionView
	TotalValue       decimal.Decimal
	ProfitRate       decimal.Decimal
	Risk             domain.RiskSettings
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AccountService handles account creation, funding and reporting.
type AccountService struct {
	engine   *engine.Engine
	accounts *store.AccountStore
	txs      *store.TransactionStore
	oracle   engine.PriceOracle
	logger   *slog.Logger
	now      func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	eng *engine.Engine,
	accounts *store.AccountStore,
	txs *store.TransactionStore,
	oracle engine.PriceOracle,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		engine:   eng,
		accounts: accounts,
		txs:      txs,
		oracle:   oracle,
		logger:   logger,
		now:      time.Now,
	}
}

// Open creates a funded account for the user.
func (s *AccountService) Open(ctx context.Context, req OpenAccountRequest) (*AccountSummary, error) {
	acc, err := s.engine.Ledger().OpenAccount(ctx, req.UserID, req.InitialBalance)
	if err != nil {
		return nil, err
	}

	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	return summarize(acc), nil
}

// Deposit credits amount and returns the updated summary.
func (s *AccountService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*AccountSummary, error) {
	if err := s.engine.Ledger().Deposit(ctx, accountID, amount); err != nil {
		return nil, err
	}
	acc, err := s.accounts.Get(accountID)
	if err != nil {
		return nil, err
	}

	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	return summarize(acc), nil
}

// SetRisk replaces the account's automatic stop-loss and take-profit defaults.
func (s *AccountService) SetRisk(ctx context.Context, accountID string, risk domain.RiskSettings) (domain.RiskSettings, error) {
	if err := s.engine.Ledger().SetRisk(ctx, accountID, risk); err != nil {
		return domain.RiskSettings{}, err
	}
	return risk, nil
}

// Summary marks every position against a fresh batch of prices and reports
// the account's value. When the oracle cannot price a symbol the position
// keeps its last marked price.
func (s *AccountService) Summary(ctx context.Context, accountID string) (*AccountSummary, error) {
	acc, err := s.accounts.Get(accountID)
	if err != nil {
		return nil, err
	}

	acc.Mu.Lock()
	symbols := make([]string, 0, len(acc.Positions))
	for sym := range acc.Positions {
		symbols = append(symbols, sym)
	}
	acc.Mu.Unlock()

	var prices map[string]decimal.Decimal
	if len(symbols) > 0 {
		prices, err = s.oracle.GetMultiplePrices(ctx, symbols)
		if err != nil {
			s.logger.Warn("summary prices unavailable, using last marks",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
		}
	}

	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	engine.MarkPositions(acc, prices, s.now())
	return summarize(acc), nil
}

// ListTransactions returns a page of the account's fills, newest first,
// optionally narrowed to one symbol.
func (s *AccountService) ListTransactions(accountID, symbol string, page, limit int) ([]*domain.Transaction, int, error) {
	if !s.accounts.Exists(accountID) {
		return nil, 0, domain.ErrAccountNotFound
	}
	if err := validatePage(page, limit); err != nil {
		return nil, 0, err
	}

	txs, total := s.txs.ListByAccount(accountID, symbol, page, limit)
	return txs, total, nil
}

// summarize builds the summary view. The caller holds acc.Mu.
func summarize(acc *domain.Account) *AccountSummary {
	positions := make([]PositionView, 0, len(acc.Positions))
	for _, p := range acc.Positions {
		positions = append(positions, PositionView{
			Symbol:           p.Symbol,
			Quantity:         p.Quantity,
			AveragePrice:     p.AveragePrice,
			CurrentPrice:     p.CurrentPrice,
			CurrentValue:     p.CurrentValue,
			UnrealizedProfit: p.UnrealizedProfit,
			UpdatedAt:        p.UpdatedAt,
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	totalValue := acc.Balance.Add(acc.PositionsValue())
	return &AccountSummary{
		AccountID:        acc.AccountID,
		UserID:           acc.UserID,
		Balance:          acc.Balance,
		LockedBalance:    acc.LockedBalance,
		AvailableBalance: acc.AvailableBalance(),
		TotalProfit:      acc.TotalProfit,
		TotalDeposited:   acc.TotalDeposited,
		Positions:        positions,
		TotalValue:       totalValue,
		ProfitRate:       domain.Rate(totalValue.Sub(acc.TotalDeposited), acc.TotalDeposited),
		Risk:             acc.Risk,
		CreatedAt:        acc.CreatedAt,
		UpdatedAt:        acc.UpdatedAt,
	}
}

// validatePage checks 1-based pagination parameters.
func validatePage(page, limit int) error {
	if page < 1 {
		return &domain.ValidationError{
			Message: "page must be >= 1",
		}
	}
	if limit < 1 || limit > 100 {
		return &domain.ValidationError{
			Message: "limit must be between 1 and 100",
		}
	}
	return nil
}
