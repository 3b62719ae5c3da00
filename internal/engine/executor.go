package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/journal"
	"github.com/efreitasn/spotsim/internal/store"
)

// PriceOracle supplies current market prices.
type PriceOracle interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetMultiplePrices returns the prices it could resolve; missing symbols
	// are unavailable this round.
	GetMultiplePrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Notifier is told about order lifecycle events. Calls happen after the
// account lock is released.
type Notifier interface {
	Notify(event string, order *domain.Order)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, *domain.Order) {}

// notice is an event collected under the account lock and dispatched after.
type notice struct {
	event string
	order *domain.Order
}

// Options holds the Engine's collaborators.
type Options struct {
	Accounts     *store.AccountStore
	Orders       *store.OrderStore
	Transactions *store.TransactionStore
	Symbols      *domain.SymbolRegistry
	Oracle       PriceOracle
	Journal      journal.Journal
	Notifier     Notifier
	FeeRate      *decimal.Decimal    // nil charges domain.DefaultFeeRate; zero disables fees
	DefaultRisk  domain.RiskSettings // auto-risk settings for newly opened accounts
	Logger       *slog.Logger
}

// Engine places, cancels and executes orders. All order and account state
// changes for one account are serialized by that account's Mu.
type Engine struct {
	ledger   *Ledger
	risk     *AutoRiskManager
	accounts *store.AccountStore
	orders   *store.OrderStore
	txs      *store.TransactionStore
	triggers *TriggerBook
	symbols  *domain.SymbolRegistry
	oracle   PriceOracle
	journal  journal.Journal
	notifier Notifier
	feeRate  decimal.Decimal
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	feeRate := domain.DefaultFeeRate
	if opts.FeeRate != nil {
		feeRate = *opts.FeeRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine{
		ledger:   NewLedger(opts.Accounts, opts.Transactions, opts.Journal),
		accounts: opts.Accounts,
		orders:   opts.Orders,
		txs:      opts.Transactions,
		triggers: NewTriggerBook(),
		symbols:  opts.Symbols,
		oracle:   opts.Oracle,
		journal:  opts.Journal,
		notifier: opts.Notifier,
		feeRate:  feeRate,
		logger:   opts.Logger,
		now:      time.Now,
	}
	e.ledger.defaultRisk = opts.DefaultRisk
	e.risk = &AutoRiskManager{engine: e}
	return e
}

// Ledger exposes the engine's ledger for account-level operations.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// PlaceOrder validates req and creates an order for accountID. MARKET orders
// execute immediately; when execution is rejected the FAILED order is
// returned together with the error. Conditional orders stay PENDING.
func (e *Engine) PlaceOrder(ctx context.Context, accountID string, req domain.OrderRequest) (*domain.Order, error) {
	if err := req.Validate(e.symbols); err != nil {
		return nil, err
	}
	acc, err := e.accounts.Get(accountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	order := &domain.Order{
		OrderID:   uuid.New().String(),
		AccountID: accountID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    domain.OrderStatusPending,
		Quantity:  req.Quantity,
		Bracket:   req.Bracket,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Type != domain.OrderTypeMarket {
		order.LimitPrice = req.LimitPrice
		order.StopPrice = req.StopPrice
		return e.placePending(ctx, acc, order)
	}

	// Network I/O happens before the account lock is taken.
	price, priceErr := e.oracle.GetCurrentPrice(ctx, order.Symbol)

	var notices []notice
	acc.Mu.Lock()
	if err := e.journal.SaveOrder(ctx, order); err != nil {
		acc.Mu.Unlock()
		return nil, fmt.Errorf("journal order: %w", err)
	}
	e.orders.Create(order)

	if priceErr != nil {
		if !errors.Is(priceErr, domain.ErrPriceUnavailable) {
			priceErr = fmt.Errorf("%v: %w", priceErr, domain.ErrPriceUnavailable)
		}
		notices = e.failLocked(ctx, acc, order, priceErr)
		err = priceErr
	} else {
		notices, err = e.fillLocked(ctx, acc, order, price)
		if err != nil && !isRejection(err) {
			notices = e.failLocked(ctx, acc, order, err)
		}
	}
	snapshot := order.Snapshot()
	acc.Mu.Unlock()

	e.dispatch(notices)
	return snapshot, err
}

// placePending records a conditional order and indexes it for the monitor.
func (e *Engine) placePending(ctx context.Context, acc *domain.Account, order *domain.Order) (*domain.Order, error) {
	acc.Mu.Lock()
	defer acc.Mu.Unlock()

	if order.Type == domain.OrderTypeLimit && order.Side == domain.OrderSideBuy {
		order.Reserved = order.LimitPrice.Mul(order.Quantity).Mul(decimal.NewFromInt(1).Add(e.feeRate))
	}
	var prev, row journal.AccountRow
	if order.Reserved.IsPositive() {
		prev = journal.AccountRowOf(acc)
		row = prev
		row.LockedBalance = acc.LockedBalance.Add(order.Reserved)
		if err := e.journal.SaveAccount(ctx, row); err != nil {
			return nil, fmt.Errorf("journal locked balance: %w", err)
		}
	}
	if err := e.journal.SaveOrder(ctx, order); err != nil {
		if order.Reserved.IsPositive() {
			if rerr := e.journal.SaveAccount(ctx, prev); rerr != nil {
				e.logger.Error("failed to revert journaled locked balance",
					slog.String("account_id", acc.AccountID),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("journal order: %w", err)
	}
	if order.Reserved.IsPositive() {
		acc.LockedBalance = row.LockedBalance
	}

	e.orders.Create(order)
	e.triggers.Add(order)
	return order.Snapshot(), nil
}

// CancelOrder cancels a PENDING order. Any other status yields
// domain.ErrInvalidStateTransition and leaves the order untouched.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := e.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	acc, err := e.accounts.Get(order.AccountID)
	if err != nil {
		return nil, err
	}

	acc.Mu.Lock()
	if order.Status != domain.OrderStatusPending {
		acc.Mu.Unlock()
		return nil, domain.ErrInvalidStateTransition
	}
	if err := e.cancelLocked(ctx, acc, order); err != nil {
		acc.Mu.Unlock()
		return nil, err
	}
	snapshot := order.Snapshot()
	acc.Mu.Unlock()

	e.dispatch([]notice{{event: domain.EventOrderCancelled, order: snapshot}})
	return snapshot, nil
}

// ExecuteTriggered fills a pending conditional order at price if its
// condition still holds. It returns false when the order was no longer
// eligible. Rejected fills mark the order FAILED; other errors leave it
// PENDING so the next tick retries.
func (e *Engine) ExecuteTriggered(ctx context.Context, order *domain.Order, price decimal.Decimal) (bool, error) {
	acc, err := e.accounts.Get(order.AccountID)
	if err != nil {
		return false, err
	}

	acc.Mu.Lock()
	if order.Status != domain.OrderStatusPending {
		acc.Mu.Unlock()
		e.triggers.Remove(order.OrderID)
		return false, nil
	}
	if !order.Triggered(price) {
		acc.Mu.Unlock()
		return false, nil
	}

	notices, err := e.fillLocked(ctx, acc, order, price)
	if err == nil || isRejection(err) {
		e.triggers.Remove(order.OrderID)
	}
	acc.Mu.Unlock()

	e.dispatch(notices)
	return err == nil, err
}

// fillLocked executes order at price and applies the bracket and OCO rules.
// Ledger rejections mark the order FAILED. The caller holds acc.Mu.
func (e *Engine) fillLocked(ctx context.Context, acc *domain.Account, order *domain.Order, price decimal.Decimal) ([]notice, error) {
	fee := domain.Fee(price, order.Quantity, e.feeRate)
	res, err := e.ledger.applyFill(ctx, acc, FillRequest{
		AccountID: acc.AccountID,
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     price,
		Fee:       fee,
		Release:   order.Reserved,
	})
	if err != nil {
		if isRejection(err) {
			return e.failLocked(ctx, acc, order, err), err
		}
		return nil, err
	}

	filledPrice := price
	order.Status = domain.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.FilledPrice = &filledPrice
	order.Fee = fee
	order.Reserved = decimal.Zero
	order.UpdatedAt = res.Transaction.ExecutedAt

	notices := []notice{{event: domain.EventOrderFilled, order: order.Snapshot()}}

	if order.BracketID != "" {
		notices = append(notices, e.cancelSiblingsLocked(ctx, acc, order)...)
	}
	if order.Side == domain.OrderSideBuy {
		if _, err := e.risk.placeExitsLocked(ctx, acc, order); err != nil {
			e.logger.Error("failed to place protective orders",
				slog.String("order_id", order.OrderID),
				slog.String("account_id", acc.AccountID),
				slog.String("error", err.Error()),
			)
		}
	}
	return notices, nil
}

// failLocked marks order FAILED with cause as its reason. The caller holds
// acc.Mu.
func (e *Engine) failLocked(ctx context.Context, acc *domain.Account, order *domain.Order, cause error) []notice {
	order.Status = domain.OrderStatusFailed
	order.FailureReason = failureReason(cause)
	order.UpdatedAt = e.now()
	e.releaseLocked(ctx, acc, order)
	e.triggers.Remove(order.OrderID)

	if err := e.journal.SaveOrder(ctx, order); err != nil {
		e.logger.Error("failed to journal failed order",
			slog.String("order_id", order.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return []notice{{event: domain.EventOrderFailed, order: order.Snapshot()}}
}

// cancelLocked moves a PENDING order to CANCELLED. The journal write comes
// first; on failure nothing changes.
func (e *Engine) cancelLocked(ctx context.Context, acc *domain.Account, order *domain.Order) error {
	cancelled := order.Snapshot()
	cancelled.Status = domain.OrderStatusCancelled
	cancelled.Reserved = decimal.Zero
	cancelled.UpdatedAt = e.now()
	if err := e.journal.SaveOrder(ctx, cancelled); err != nil {
		return fmt.Errorf("journal cancel: %w", err)
	}

	order.Status = cancelled.Status
	order.UpdatedAt = cancelled.UpdatedAt
	e.releaseLocked(ctx, acc, order)
	e.triggers.Remove(order.OrderID)
	return nil
}

// cancelSiblingsLocked cancels the other PENDING legs of filled's bracket.
func (e *Engine) cancelSiblingsLocked(ctx context.Context, acc *domain.Account, filled *domain.Order) []notice {
	var notices []notice
	for _, leg := range e.orders.ListByBracket(filled.BracketID) {
		if leg.OrderID == filled.OrderID || leg.Status != domain.OrderStatusPending {
			continue
		}
		if err := e.cancelLocked(ctx, acc, leg); err != nil {
			e.logger.Error("failed to cancel bracket sibling",
				slog.String("order_id", leg.OrderID),
				slog.String("bracket_id", filled.BracketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		notices = append(notices, notice{event: domain.EventOrderCancelled, order: leg.Snapshot()})
	}
	return notices
}

// releaseLocked frees the order's contribution to LockedBalance.
func (e *Engine) releaseLocked(ctx context.Context, acc *domain.Account, order *domain.Order) {
	if !order.Reserved.IsPositive() {
		return
	}
	acc.LockedBalance = decimal.Max(decimal.Zero, acc.LockedBalance.Sub(order.Reserved))
	order.Reserved = decimal.Zero
	if err := e.journal.SaveAccount(ctx, journal.AccountRowOf(acc)); err != nil {
		e.logger.Error("failed to journal locked balance",
			slog.String("account_id", acc.AccountID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) dispatch(notices []notice) {
	for _, n := range notices {
		e.notifier.Notify(n.event, n.order)
	}
}

// MarkToMarket revalues every account's positions at prices.
func (e *Engine) MarkToMarket(prices map[string]decimal.Decimal) {
	if len(prices) == 0 {
		return
	}
	now := e.now()
	for _, acc := range e.accounts.List() {
		acc.Mu.Lock()
		MarkPositions(acc, prices, now)
		acc.Mu.Unlock()
	}
}

// HeldSymbols returns every symbol some account holds a position in.
func (e *Engine) HeldSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, acc := range e.accounts.List() {
		acc.Mu.Lock()
		for sym := range acc.Positions {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
		acc.Mu.Unlock()
	}
	return out
}

// Restore loads journaled state into the stores and re-indexes pending
// conditional orders. It must run before the engine serves requests.
func (e *Engine) Restore(snap *journal.Snapshot) error {
	byID := make(map[string]*domain.Account, len(snap.Accounts))
	for _, acc := range snap.Accounts {
		if err := e.accounts.Create(acc); err != nil {
			return fmt.Errorf("restore account %s: %w", acc.AccountID, err)
		}
		// Locked balance is rebuilt from the pending orders below.
		acc.LockedBalance = decimal.Zero
		byID[acc.AccountID] = acc
	}
	for _, o := range snap.Orders {
		e.orders.Create(o)
		if o.Status != domain.OrderStatusPending {
			continue
		}
		if o.Type.Conditional() {
			e.triggers.Add(o)
		}
		if acc, ok := byID[o.AccountID]; ok && o.Reserved.IsPositive() {
			acc.LockedBalance = acc.LockedBalance.Add(o.Reserved)
		}
	}
	for _, t := range snap.Transactions {
		e.txs.Append(t)
	}
	return nil
}

// isRejection reports whether err is a business rejection that fails the
// order, as opposed to an infrastructure error.
func isRejection(err error) bool {
	var ve *domain.ValidationError
	return errors.Is(err, domain.ErrInsufficientBalance) ||
		errors.Is(err, domain.ErrInsufficientQuantity) ||
		errors.As(err, &ve)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return domain.ErrInsufficientBalance.Error()
	case errors.Is(err, domain.ErrInsufficientQuantity):
		return domain.ErrInsufficientQuantity.Error()
	case errors.Is(err, domain.ErrPriceUnavailable):
		return domain.ErrPriceUnavailable.Error()
	}
	return err.Error()
}
