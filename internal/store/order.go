package store

import (
	"sync"

	"github.com/efreitasn/spotsim/internal/domain"
)

// OrderFilter narrows ListByAccount. Zero-valued fields match everything.
type OrderFilter struct {
	Status *domain.OrderStatus
	Symbol string
	Type   *domain.OrderType
}

func (f OrderFilter) match(o *domain.Order) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Type != nil && o.Type != *f.Type {
		return false
	}
	return true
}

// OrderStore is a thread-safe in-memory store for orders, with a primary
// index by order_id and secondary indexes by account_id and bracket_id.
type OrderStore struct {
	mu            sync.RWMutex
	orders        map[string]*domain.Order
	accountOrders map[string][]*domain.Order // account_id → orders (append-only)
	brackets      map[string][]*domain.Order // bracket_id → legs
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:        make(map[string]*domain.Order),
		accountOrders: make(map[string][]*domain.Order),
		brackets:      make(map[string][]*domain.Order),
	}
}

// Create adds an order to the store and its secondary indexes.
func (s *OrderStore) Create(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.OrderID] = o
	s.accountOrders[o.AccountID] = append(s.accountOrders[o.AccountID], o)
	if o.BracketID != "" {
		s.brackets[o.BracketID] = append(s.brackets[o.BracketID], o)
	}
}

// Get retrieves an order by ID. It returns
// domain.ErrOrderNotFound if the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// ListByBracket returns the legs sharing bracketID.
func (s *OrderStore) ListByBracket(bracketID string) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	legs := s.brackets[bracketID]
	out := make([]*domain.Order, len(legs))
	copy(out, legs)
	return out
}

// ListByAccount returns an account's orders newest first, filtered, for the
// 1-based page, together with the number of matches before pagination.
// Callers hold the account lock so the status fields read here are stable.
func (s *OrderStore) ListByAccount(accountID string, filter OrderFilter, page, limit int) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.accountOrders[accountID]
	filtered := make([]*domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if filter.match(all[i]) {
			filtered = append(filtered, all[i])
		}
	}
	return paginate(filtered, page, limit)
}

// paginate slices items for a 1-based page and returns the total count.
func paginate[T any](items []T, page, limit int) ([]T, int) {
	total := len(items)
	start := (page - 1) * limit
	if start >= total {
		return []T{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], total
}
