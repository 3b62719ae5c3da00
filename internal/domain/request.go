package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundredPercent = decimal.NewFromInt(100)

// OrderRequest is a caller's order before it is accepted.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	Bracket    *Bracket
}

// Validate checks the request against the supported symbol set and the
// per-type price requirements.
func (r *OrderRequest) Validate(symbols *SymbolRegistry) error {
	if r.Symbol == "" {
		return Invalid("symbol is required")
	}
	if !symbols.Exists(r.Symbol) {
		return Invalid(fmt.Sprintf("symbol %s is not supported", r.Symbol))
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return Invalid("side must be 'BUY' or 'SELL'")
	}
	switch r.Type {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeTakeProfit:
	default:
		return Invalid(fmt.Sprintf("Unknown order type: %s. Must be one of: MARKET, LIMIT, STOP_LOSS, TAKE_PROFIT", r.Type))
	}
	if !r.Quantity.IsPositive() {
		return Invalid("quantity must be greater than 0")
	}

	if r.Type == OrderTypeLimit {
		if r.LimitPrice == nil {
			return Invalid("limit_price is required for LIMIT orders")
		}
		if !r.LimitPrice.IsPositive() {
			return Invalid("limit_price must be greater than 0")
		}
	} else if r.LimitPrice != nil {
		return Invalid("limit_price is only allowed on LIMIT orders")
	}

	if r.Type == OrderTypeStopLoss || r.Type == OrderTypeTakeProfit {
		if r.StopPrice == nil {
			return Invalid("stop_price is required for STOP_LOSS and TAKE_PROFIT orders")
		}
		if !r.StopPrice.IsPositive() {
			return Invalid("stop_price must be greater than 0")
		}
	} else if r.StopPrice != nil {
		return Invalid("stop_price is only allowed on STOP_LOSS and TAKE_PROFIT orders")
	}

	if r.Bracket.Empty() {
		return nil
	}
	if r.Side != OrderSideBuy {
		return Invalid("stop-loss and take-profit parameters are only allowed on BUY orders")
	}
	return r.Bracket.validate()
}

func (b *Bracket) validate() error {
	if p := b.StopLossPercent; p != nil && (!p.IsPositive() || p.GreaterThanOrEqual(hundredPercent)) {
		return Invalid("stop_loss_percent must be between 0 and 100")
	}
	if p := b.TakeProfitPercent; p != nil && !p.IsPositive() {
		return Invalid("take_profit_percent must be greater than 0")
	}
	if p := b.StopLossPrice; p != nil && !p.IsPositive() {
		return Invalid("stop_loss_price must be greater than 0")
	}
	if p := b.TakeProfitPrice; p != nil && !p.IsPositive() {
		return Invalid("take_profit_price must be greater than 0")
	}
	return nil
}
