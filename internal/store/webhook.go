package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/spotsim/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhook subscriptions,
// indexed by webhook_id and by (account_id, event).
type WebhookStore struct {
	mu        sync.RWMutex
	webhooks  map[string]*domain.Webhook
	byAccount map[string]map[string]*domain.Webhook // account_id → event → webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks:  make(map[string]*domain.Webhook),
		byAccount: make(map[string]map[string]*domain.Webhook),
	}
}

// Upsert inserts a subscription or, when one exists for the same account and
// event, points it at the new URL keeping its webhook_id. Returns true if a
// new subscription was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byAccount[w.AccountID][w.Event]; ok {
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
		}
		return false
	}

	s.webhooks[w.WebhookID] = w
	if s.byAccount[w.AccountID] == nil {
		s.byAccount[w.AccountID] = make(map[string]*domain.Webhook)
	}
	s.byAccount[w.AccountID][w.Event] = w
	return true
}

// Get retrieves a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return w, nil
}

// ListByAccount returns an account's subscriptions ordered by event name.
func (s *WebhookStore) ListByAccount(accountID string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byAccount[accountID]
	result := make([]*domain.Webhook, 0, len(events))
	for _, w := range events {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// Delete removes a webhook from both indexes. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)

	if events, ok := s.byAccount[w.AccountID]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.byAccount, w.AccountID)
		}
	}
	return nil
}

// GetByAccountEvent returns the subscription for an account+event pair,
// or nil if none exists.
func (s *WebhookStore) GetByAccountEvent(accountID, event string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byAccount[accountID][event]
}
