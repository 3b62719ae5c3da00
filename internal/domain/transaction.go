package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the immutable record of a settled fill.
type Transaction struct {
	TransactionID string
	AccountID     string
	OrderID       string
	Symbol        string
	Side          OrderSide
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	RealizedPnl   decimal.Decimal // zero for BUY
	ExecutedAt    time.Time
}

// Total returns price × quantity.
func (t *Transaction) Total() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
