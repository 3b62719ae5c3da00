package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAccountAlreadyExists   = errors.New("account_already_exists")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrOrderNotFound          = errors.New("order_not_found")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrInsufficientBalance    = errors.New("insufficient_balance")
	ErrInsufficientQuantity   = errors.New("insufficient_quantity")
	ErrPriceUnavailable       = errors.New("price_unavailable")
	ErrSymbolNotSupported     = errors.New("symbol_not_supported")
	ErrWebhookNotFound        = errors.New("webhook_not_found")
	ErrPriceOverrideDisabled  = errors.New("price_override_disabled")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid is shorthand for building a *ValidationError.
func Invalid(msg string) error {
	return &ValidationError{Message: msg}
}
