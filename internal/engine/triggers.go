package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
)

// triggerEntry is a pending conditional order resting in a TriggerBook.
type triggerEntry struct {
	Price     decimal.Decimal
	CreatedAt time.Time
	OrderID   string
	Symbol    string
	Order     *domain.Order
}

// belowLess orders entries that fire when price falls (LIMIT BUY,
// STOP_LOSS): trigger price descending, then created_at, then order_id.
// Min() is the entry a falling price reaches first.
func belowLess(a, b triggerEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// aboveLess orders entries that fire when price rises (LIMIT SELL,
// TAKE_PROFIT): trigger price ascending, then created_at, then order_id.
func aboveLess(a, b triggerEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

type symbolTriggers struct {
	below *btree.BTreeG[triggerEntry]
	above *btree.BTreeG[triggerEntry]
}

// TriggerBook indexes pending conditional orders per symbol by trigger
// price, so a tick only visits the orders the current price crosses.
type TriggerBook struct {
	mu      sync.RWMutex
	symbols map[string]*symbolTriggers
	index   map[string]triggerEntry // order_id → entry
}

// NewTriggerBook creates an empty TriggerBook.
func NewTriggerBook() *TriggerBook {
	return &TriggerBook{
		symbols: make(map[string]*symbolTriggers),
		index:   make(map[string]triggerEntry),
	}
}

// Add indexes a pending conditional order. Orders without a trigger price
// are ignored.
func (tb *TriggerBook) Add(o *domain.Order) {
	price, ok := o.TriggerPrice()
	if !ok {
		return
	}
	entry := triggerEntry{
		Price:     price,
		CreatedAt: o.CreatedAt,
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Order:     o,
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	st, ok := tb.symbols[o.Symbol]
	if !ok {
		const degree = 32
		st = &symbolTriggers{
			below: btree.NewG[triggerEntry](degree, belowLess),
			above: btree.NewG[triggerEntry](degree, aboveLess),
		}
		tb.symbols[o.Symbol] = st
	}
	if o.TriggersBelow() {
		st.below.ReplaceOrInsert(entry)
	} else {
		st.above.ReplaceOrInsert(entry)
	}
	tb.index[o.OrderID] = entry
}

// Remove drops an order by ID. It is a no-op for unknown IDs.
func (tb *TriggerBook) Remove(orderID string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	entry, ok := tb.index[orderID]
	if !ok {
		return
	}
	delete(tb.index, orderID)

	st := tb.symbols[entry.Symbol]
	st.below.Delete(entry)
	st.above.Delete(entry)
	if st.below.Len() == 0 && st.above.Len() == 0 {
		delete(tb.symbols, entry.Symbol)
	}
}

// Triggered returns the orders on symbol whose condition price satisfies,
// falling-price triggers first. Entries stay in the book; the caller
// removes them once handled.
func (tb *TriggerBook) Triggered(symbol string, price decimal.Decimal) []*domain.Order {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	st, ok := tb.symbols[symbol]
	if !ok {
		return nil
	}
	var out []*domain.Order
	st.below.Ascend(func(e triggerEntry) bool {
		if price.GreaterThan(e.Price) {
			return false
		}
		out = append(out, e.Order)
		return true
	})
	st.above.Ascend(func(e triggerEntry) bool {
		if price.LessThan(e.Price) {
			return false
		}
		out = append(out, e.Order)
		return true
	})
	return out
}

// Symbols returns the symbols with at least one pending order, sorted.
func (tb *TriggerBook) Symbols() []string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	out := make([]string, 0, len(tb.symbols))
	for sym := range tb.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
