package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
)

// AutoRiskManager places protective STOP_LOSS and TAKE_PROFIT sells after a
// BUY fills. The legs of one bracket share a BracketID; when one fills the
// engine cancels the other.
type AutoRiskManager struct {
	engine *Engine
}

// bracketFor returns the exits to place for parent: the order's own bracket
// if it has one, else the account defaults when enabled.
func bracketFor(acc *domain.Account, parent *domain.Order) *domain.Bracket {
	if !parent.Bracket.Empty() {
		return parent.Bracket
	}
	if !acc.Risk.Enabled {
		return nil
	}
	b := &domain.Bracket{
		StopLossPercent:   acc.Risk.StopLossPercent,
		TakeProfitPercent: acc.Risk.TakeProfitPercent,
	}
	if b.Empty() {
		return nil
	}
	return b
}

// ExitPrices resolves the stop-loss and take-profit trigger prices for base.
// An explicit price wins over a percentage. A nil result means no leg.
func ExitPrices(b *domain.Bracket, base decimal.Decimal) (stopLoss, takeProfit *decimal.Decimal) {
	if b == nil {
		return nil, nil
	}
	switch {
	case b.StopLossPrice != nil:
		p := *b.StopLossPrice
		stopLoss = &p
	case b.StopLossPercent != nil:
		p := domain.PercentBelow(base, *b.StopLossPercent)
		stopLoss = &p
	}
	switch {
	case b.TakeProfitPrice != nil:
		p := *b.TakeProfitPrice
		takeProfit = &p
	case b.TakeProfitPercent != nil:
		p := domain.PercentAbove(base, *b.TakeProfitPercent)
		takeProfit = &p
	}
	return stopLoss, takeProfit
}

// placeExitsLocked creates the pending exit legs for a filled BUY. The base
// price is the position's average price after the fill. The caller holds
// acc.Mu.
func (r *AutoRiskManager) placeExitsLocked(ctx context.Context, acc *domain.Account, parent *domain.Order) ([]*domain.Order, error) {
	b := bracketFor(acc, parent)
	if b == nil {
		return nil, nil
	}
	pos, ok := acc.Positions[parent.Symbol]
	if !ok {
		return nil, nil
	}
	stopLoss, takeProfit := ExitPrices(b, pos.AveragePrice)

	e := r.engine
	bracketID := uuid.New().String()
	now := e.now()
	leg := func(typ domain.OrderType, stop *decimal.Decimal) *domain.Order {
		return &domain.Order{
			OrderID:       uuid.New().String(),
			AccountID:     acc.AccountID,
			Symbol:        parent.Symbol,
			Side:          domain.OrderSideSell,
			Type:          typ,
			Status:        domain.OrderStatusPending,
			Quantity:      parent.FilledQuantity,
			StopPrice:     stop,
			BracketID:     bracketID,
			ParentOrderID: parent.OrderID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	var legs []*domain.Order
	if stopLoss != nil {
		legs = append(legs, leg(domain.OrderTypeStopLoss, stopLoss))
	}
	if takeProfit != nil {
		legs = append(legs, leg(domain.OrderTypeTakeProfit, takeProfit))
	}

	for _, o := range legs {
		if err := e.journal.SaveOrder(ctx, o); err != nil {
			return nil, fmt.Errorf("journal %s leg: %w", o.Type, err)
		}
	}
	for _, o := range legs {
		e.orders.Create(o)
		e.triggers.Add(o)
	}
	return legs, nil
}
