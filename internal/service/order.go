package service

import (
	"context"
	"fmt"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/engine"
	"github.com/efreitasn/spotsim/internal/store"
)

// ValidOrderStatuses lists all valid order status values for validation.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:   true,
	domain.OrderStatusFilled:    true,
	domain.OrderStatusCancelled: true,
	domain.OrderStatusFailed:    true,
}

// ValidOrderTypes lists all valid order type values for validation.
var ValidOrderTypes = map[domain.OrderType]bool{
	domain.OrderTypeMarket:     true,
	domain.OrderTypeLimit:      true,
	domain.OrderTypeStopLoss:   true,
	domain.OrderTypeTakeProfit: true,
}

// ListOrdersRequest holds the optional filters and pagination for ListOrders.
type ListOrdersRequest struct {
	Status *domain.OrderStatus
	Symbol string
	Type   *domain.OrderType
	Page   int
	Limit  int
}

// OrderService handles order placement, retrieval, cancellation, and listing.
type OrderService struct {
	engine   *engine.Engine
	accounts *store.AccountStore
	orders   *store.OrderStore
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(eng *engine.Engine, accounts *store.AccountStore, orders *store.OrderStore) *OrderService {
	return &OrderService{
		engine:   eng,
		accounts: accounts,
		orders:   orders,
	}
}

// PlaceOrder submits req for accountID. A MARKET order that could not
// execute is returned FAILED together with the cause.
func (s *OrderService) PlaceOrder(ctx context.Context, accountID string, req domain.OrderRequest) (*domain.Order, error) {
	return s.engine.PlaceOrder(ctx, accountID, req)
}

// GetOrder returns a consistent copy of the order.
func (s *OrderService) GetOrder(orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.Get(order.AccountID)
	if err != nil {
		return nil, err
	}

	acc.Mu.Lock()
	defer acc.Mu.Unlock()
	return order.Snapshot(), nil
}

// CancelOrder cancels a pending order.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.engine.CancelOrder(ctx, orderID)
}

// ListOrders returns a paginated list of the account's orders, newest first.
func (s *OrderService) ListOrders(accountID string, req ListOrdersRequest) ([]*domain.Order, int, error) {
	acc, err := s.accounts.Get(accountID)
	if err != nil {
		return nil, 0, err
	}

	if req.Status != nil && !ValidOrderStatuses[*req.Status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: PENDING, FILLED, CANCELLED, FAILED", *req.Status),
		}
	}
	if req.Type != nil && !ValidOrderTypes[*req.Type] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid type filter: '%s'. Must be one of: MARKET, LIMIT, STOP_LOSS, TAKE_PROFIT", *req.Type),
		}
	}
	if err := validatePage(req.Page, req.Limit); err != nil {
		return nil, 0, err
	}

	acc.Mu.Lock()
	defer acc.Mu.Unlock()

	orders, total := s.orders.ListByAccount(accountID, store.OrderFilter{
		Status: req.Status,
		Symbol: req.Symbol,
		Type:   req.Type,
	}, req.Page, req.Limit)

	out := make([]*domain.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Snapshot()
	}
	return out, total, nil
}
