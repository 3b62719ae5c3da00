package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/spotsim/internal/domain"
)

// AccountStore is a thread-safe in-memory store for accounts, keyed by
// account_id with a unique secondary index on user_id.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	byUser   map[string]string // user_id → account_id
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*domain.Account),
		byUser:   make(map[string]string),
	}
}

// Create adds an account to the store. It returns
// domain.ErrAccountAlreadyExists if the account ID or its user already has one.
func (s *AccountStore) Create(a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.AccountID]; exists {
		return domain.ErrAccountAlreadyExists
	}
	if _, exists := s.byUser[a.UserID]; exists {
		return domain.ErrAccountAlreadyExists
	}
	s.accounts[a.AccountID] = a
	s.byUser[a.UserID] = a.AccountID
	return nil
}

// Get retrieves an account by ID. It returns
// domain.ErrAccountNotFound if the account does not exist.
func (s *AccountStore) Get(id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

// GetByUser retrieves the account owned by userID.
func (s *AccountStore) GetByUser(userID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUser[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return s.accounts[id], nil
}

// Exists returns true if an account with the given ID exists.
func (s *AccountStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[id]
	return ok
}

// List returns every account ordered by account_id.
func (s *AccountStore) List() []*domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
