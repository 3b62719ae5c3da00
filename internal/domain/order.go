package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes immediate market orders from the conditional types
// evaluated by the pending order monitor.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// Conditional reports whether orders of this type wait for a price trigger.
func (t OrderType) Conditional() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLoss || t == OrderTypeTakeProfit
}

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// Bracket holds the optional protective exits requested with a BUY. An explicit
// price wins over a percentage of the fill's average price.
type Bracket struct {
	StopLossPercent   *decimal.Decimal `json:"stop_loss_percent,omitempty"`
	StopLossPrice     *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPercent *decimal.Decimal `json:"take_profit_percent,omitempty"`
	TakeProfitPrice   *decimal.Decimal `json:"take_profit_price,omitempty"`
}

// Empty reports whether no exit was requested.
func (b *Bracket) Empty() bool {
	return b == nil || (b.StopLossPercent == nil && b.StopLossPrice == nil &&
		b.TakeProfitPercent == nil && b.TakeProfitPrice == nil)
}

// Order is an instruction to buy or sell a symbol. Orders are mutated only
// while the owning account's Mu is held.
type Order struct {
	OrderID        string
	AccountID      string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	LimitPrice     *decimal.Decimal // LIMIT only
	StopPrice      *decimal.Decimal // STOP_LOSS and TAKE_PROFIT only
	FilledPrice    *decimal.Decimal
	Fee            decimal.Decimal
	Reserved       decimal.Decimal // contribution to Account.LockedBalance while pending
	Bracket        *Bracket        // exits to create once this BUY fills
	BracketID      string          // shared by the two legs of one bracket
	ParentOrderID  string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TriggerPrice returns the price the monitor compares against.
func (o *Order) TriggerPrice() (decimal.Decimal, bool) {
	switch o.Type {
	case OrderTypeLimit:
		if o.LimitPrice != nil {
			return *o.LimitPrice, true
		}
	case OrderTypeStopLoss, OrderTypeTakeProfit:
		if o.StopPrice != nil {
			return *o.StopPrice, true
		}
	}
	return decimal.Zero, false
}

// TriggersBelow reports whether the order fires when price falls to or under
// its trigger (LIMIT BUY, STOP_LOSS). The others fire at or above it.
func (o *Order) TriggersBelow() bool {
	switch o.Type {
	case OrderTypeStopLoss:
		return true
	case OrderTypeLimit:
		return o.Side == OrderSideBuy
	}
	return false
}

// Triggered reports whether price satisfies the order's condition.
func (o *Order) Triggered(price decimal.Decimal) bool {
	trigger, ok := o.TriggerPrice()
	if !ok {
		return false
	}
	if o.TriggersBelow() {
		return price.LessThanOrEqual(trigger)
	}
	return price.GreaterThanOrEqual(trigger)
}

// Snapshot returns a shallow copy safe to hand out once the account lock is
// released. Pointer fields are never mutated in place.
func (o *Order) Snapshot() *Order {
	c := *o
	return &c
}
