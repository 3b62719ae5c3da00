package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/store"
)

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	AccountID string
	URL       string
	Events    []string
}

// WebhookService handles webhook CRUD and event dispatch. It implements
// engine.Notifier.
type WebhookService struct {
	store    *store.WebhookStore
	accounts *store.AccountStore
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(
	webhookStore *store.WebhookStore,
	accounts *store.AccountStore,
	webhookTimeout time.Duration,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		store:    webhookStore,
		accounts: accounts,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger: logger,
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if !s.accounts.Exists(req.AccountID) {
		return nil, false, domain.ErrAccountNotFound
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !domain.KnownWebhookEvent(event) {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: " + strings.Join(domain.WebhookEvents, ", "),
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(events))

	for _, event := range events {
		w := &domain.Webhook{
			WebhookID: uuid.New().String(),
			AccountID: req.AccountID,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if s.store.Upsert(w) {
			anyCreated = true
			webhooks = append(webhooks, w)
			continue
		}
		if existing := s.store.GetByAccountEvent(req.AccountID, event); existing != nil {
			webhooks = append(webhooks, existing)
		}
	}

	return webhooks, anyCreated, nil
}

// List validates the account exists and returns all its subscriptions.
func (s *WebhookService) List(accountID string) ([]*domain.Webhook, error) {
	if !s.accounts.Exists(accountID) {
		return nil, domain.ErrAccountNotFound
	}
	return s.store.ListByAccount(accountID), nil
}

// Get returns a webhook subscription by ID.
func (s *WebhookService) Get(webhookID string) (*domain.Webhook, error) {
	return s.store.Get(webhookID)
}

// Delete removes a webhook subscription by ID.
func (s *WebhookService) Delete(webhookID string) error {
	return s.store.Delete(webhookID)
}

// orderEventPayload is the JSON payload for every order lifecycle event.
type orderEventPayload struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      orderEventData `json:"data"`
}

type orderEventData struct {
	AccountID      string           `json:"account_id"`
	OrderID        string           `json:"order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	FilledPrice    *decimal.Decimal `json:"filled_price"`
	Fee            decimal.Decimal  `json:"fee"`
	BracketID      string           `json:"bracket_id,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
}

// Notify dispatches event for order to the account's subscription, if any.
// Delivery is fire-and-forget.
func (s *WebhookService) Notify(event string, order *domain.Order) {
	wh := s.store.GetByAccountEvent(order.AccountID, event)
	if wh == nil {
		return
	}

	payload := orderEventPayload{
		Event:     event,
		Timestamp: order.UpdatedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: orderEventData{
			AccountID:      order.AccountID,
			OrderID:        order.OrderID,
			Symbol:         order.Symbol,
			Side:           string(order.Side),
			Type:           string(order.Type),
			Status:         string(order.Status),
			Quantity:       order.Quantity,
			FilledQuantity: order.FilledQuantity,
			FilledPrice:    order.FilledPrice,
			Fee:            order.Fee,
			BracketID:      order.BracketID,
			FailureReason:  order.FailureReason,
		},
	}

	go s.deliver(wh, event, payload)
}

// deliver sends the webhook payload via HTTP POST with the required headers.
// Failures are logged and dropped.
func (s *WebhookService) deliver(wh *domain.Webhook, eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("webhook delivery failed",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()
}
