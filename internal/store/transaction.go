package store

import (
	"sync"

	"github.com/efreitasn/spotsim/internal/domain"
)

// TransactionStore is a thread-safe, append-only in-memory store of settled
// fills, indexed by account_id (chronological) and order_id.
type TransactionStore struct {
	mu        sync.RWMutex
	byAccount map[string][]*domain.Transaction
	byOrder   map[string]*domain.Transaction
}

// NewTransactionStore creates an empty TransactionStore.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		byAccount: make(map[string][]*domain.Transaction),
		byOrder:   make(map[string]*domain.Transaction),
	}
}

// Append records a transaction.
func (s *TransactionStore) Append(t *domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byAccount[t.AccountID] = append(s.byAccount[t.AccountID], t)
	s.byOrder[t.OrderID] = t
}

// GetByOrder returns the transaction settling orderID, if any.
func (s *TransactionStore) GetByOrder(orderID string) (*domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byOrder[orderID]
	return t, ok
}

// ListByAccount returns an account's transactions newest first, optionally
// restricted to symbol, for the 1-based page, plus the total match count.
func (s *TransactionStore) ListByAccount(accountID, symbol string, page, limit int) ([]*domain.Transaction, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byAccount[accountID]
	filtered := make([]*domain.Transaction, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if symbol != "" && all[i].Symbol != symbol {
			continue
		}
		filtered = append(filtered, all[i])
	}
	return paginate(filtered, page, limit)
}

// Count returns the number of transactions recorded for accountID.
func (s *TransactionStore) Count(accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAccount[accountID])
}
