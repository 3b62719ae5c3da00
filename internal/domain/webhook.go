package domain

import (
	"slices"
	"time"
)

// Order lifecycle events an account can subscribe to.
const (
	EventOrderFilled    = "order.filled"
	EventOrderCancelled = "order.cancelled"
	EventOrderFailed    = "order.failed"
)

// WebhookEvents lists every subscribable event.
var WebhookEvents = []string{EventOrderFilled, EventOrderCancelled, EventOrderFailed}

// KnownWebhookEvent reports whether event can be subscribed to.
func KnownWebhookEvent(event string) bool {
	return slices.Contains(WebhookEvents, event)
}

// Webhook represents an account's subscription to an event notification.
type Webhook struct {
	WebhookID string
	AccountID string
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
