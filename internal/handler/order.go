package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// placeOrderRequest is the JSON request body for POST /accounts/{account_id}/orders.
// The stop-loss and take-profit fields request a bracket and are only
// accepted on BUY orders.
type placeOrderRequest struct {
	Symbol            string           `json:"symbol"`
	Side              string           `json:"side"`
	Type              string           `json:"type"`
	Quantity          decimal.Decimal  `json:"quantity"`
	LimitPrice        *decimal.Decimal `json:"limit_price"`
	StopPrice         *decimal.Decimal `json:"stop_price"`
	StopLossPercent   *decimal.Decimal `json:"stop_loss_percent"`
	StopLossPrice     *decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPercent *decimal.Decimal `json:"take_profit_percent"`
	TakeProfitPrice   *decimal.Decimal `json:"take_profit_price"`
}

// orderResponse is the JSON response for a single order.
// All fields are always present; nullable fields use pointers.
type orderResponse struct {
	OrderID        string           `json:"order_id"`
	AccountID      string           `json:"account_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	StopPrice      *decimal.Decimal `json:"stop_price"`
	FilledPrice    *decimal.Decimal `json:"filled_price"`
	Fee            decimal.Decimal  `json:"fee"`
	Bracket        *domain.Bracket  `json:"bracket"`
	BracketID      *string          `json:"bracket_id"`
	ParentOrderID  *string          `json:"parent_order_id"`
	FailureReason  *string          `json:"failure_reason"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

// failedOrderResponse is returned when a MARKET order was recorded but could
// not execute: the error body plus the FAILED order.
type failedOrderResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

// PlaceOrder handles POST /accounts/{account_id}/orders.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var bracket *domain.Bracket
	b := &domain.Bracket{
		StopLossPercent:   req.StopLossPercent,
		StopLossPrice:     req.StopLossPrice,
		TakeProfitPercent: req.TakeProfitPercent,
		TakeProfitPrice:   req.TakeProfitPrice,
	}
	if !b.Empty() {
		bracket = b
	}

	order, err := h.orderSvc.PlaceOrder(r.Context(), chi.URLParam(r, "account_id"), domain.OrderRequest{
		Symbol:     req.Symbol,
		Side:       domain.OrderSide(req.Side),
		Type:       domain.OrderType(req.Type),
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		Bracket:    bracket,
	})
	if err != nil {
		if order != nil {
			status, code := orderErrorStatus(err)
			WriteJSON(w, status, failedOrderResponse{
				Error:   code,
				Message: order.FailureReason,
				Order:   buildOrderResponse(order),
			})
			return
		}
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrder(chi.URLParam(r, "order_id"))
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.CancelOrder(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

func buildOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		OrderID:        o.OrderID,
		AccountID:      o.AccountID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Status:         string(o.Status),
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		FilledPrice:    o.FilledPrice,
		Fee:            o.Fee,
		Bracket:        o.Bracket,
		BracketID:      optional(o.BracketID),
		ParentOrderID:  optional(o.ParentOrderID),
		FailureReason:  optional(o.FailureReason),
		CreatedAt:      timestamp(o.CreatedAt),
		UpdatedAt:      timestamp(o.UpdatedAt),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// orderErrorStatus returns the HTTP status and error code for an order
// error that is not a validation failure.
func orderErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, domain.ErrInsufficientQuantity):
		return http.StatusConflict, "insufficient_quantity"
	case errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, "price_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// mapOrderError maps domain errors to HTTP responses for order endpoints.
func mapOrderError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	status, code := orderErrorStatus(err)
	if status == http.StatusInternalServerError {
		WriteError(w, status, code, "An unexpected error occurred")
		return
	}
	WriteError(w, status, code, err.Error())
}
