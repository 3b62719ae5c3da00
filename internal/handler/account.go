package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	orderSvc   *service.OrderService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService, orderSvc *service.OrderService) *AccountHandler {
	return &AccountHandler{
		accountSvc: accountSvc,
		orderSvc:   orderSvc,
	}
}

// openAccountRequest is the JSON request body for POST /accounts.
type openAccountRequest struct {
	UserID         string          `json:"user_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// depositRequest is the JSON request body for POST /accounts/{account_id}/deposits.
type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// riskSettings is both the request and response body for the risk endpoint.
type riskSettings struct {
	Enabled           bool             `json:"enabled"`
	StopLossPercent   *decimal.Decimal `json:"stop_loss_percent"`
	TakeProfitPercent *decimal.Decimal `json:"take_profit_percent"`
}

// positionResponse is a single position in the account summary.
type positionResponse struct {
	Symbol           string          `json:"symbol"`
	Quantity         decimal.Decimal `json:"quantity"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	CurrentValue     decimal.Decimal `json:"current_value"`
	UnrealizedProfit decimal.Decimal `json:"unrealized_profit"`
	UpdatedAt        string          `json:"updated_at"`
}

// accountResponse is the JSON response for account creation, deposits and
// the summary endpoint.
type accountResponse struct {
	AccountID        string             `json:"account_id"`
	UserID           string             `json:"user_id"`
	Balance          decimal.Decimal    `json:"balance"`
	LockedBalance    decimal.Decimal    `json:"locked_balance"`
	AvailableBalance decimal.Decimal    `json:"available_balance"`
	TotalProfit      decimal.Decimal    `json:"total_profit"`
	TotalDeposited   decimal.Decimal    `json:"total_deposited"`
	TotalValue       decimal.Decimal    `json:"total_value"`
	ProfitRate       decimal.Decimal    `json:"profit_rate"`
	Positions        []positionResponse `json:"positions"`
	Risk             riskSettings       `json:"risk"`
	CreatedAt        string             `json:"created_at"`
	UpdatedAt        string             `json:"updated_at"`
}

// transactionResponse is a single fill in the transaction listing.
type transactionResponse struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Fee           decimal.Decimal `json:"fee"`
	Total         decimal.Decimal `json:"total"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	ExecutedAt    string          `json:"executed_at"`
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
	Page         int                   `json:"page"`
	Limit        int                   `json:"limit"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// Open handles POST /accounts.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	summary, err := h.accountSvc.Open(r.Context(), service.OpenAccountRequest{
		UserID:         req.UserID,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		mapAccountError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildAccountResponse(summary))
}

// Summary handles GET /accounts/{account_id}/summary.
func (h *AccountHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.accountSvc.Summary(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		mapAccountError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAccountResponse(summary))
}

// Deposit handles POST /accounts/{account_id}/deposits.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	summary, err := h.accountSvc.Deposit(r.Context(), chi.URLParam(r, "account_id"), req.Amount)
	if err != nil {
		mapAccountError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAccountResponse(summary))
}

// SetRisk handles PUT /accounts/{account_id}/risk.
func (h *AccountHandler) SetRisk(w http.ResponseWriter, r *http.Request) {
	var req riskSettings
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	risk, err := h.accountSvc.SetRisk(r.Context(), chi.URLParam(r, "account_id"), domain.RiskSettings{
		Enabled:           req.Enabled,
		StopLossPercent:   req.StopLossPercent,
		TakeProfitPercent: req.TakeProfitPercent,
	})
	if err != nil {
		mapAccountError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, riskSettings(risk))
}

// ListTransactions handles GET /accounts/{account_id}/transactions.
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	txs, total, err := h.accountSvc.ListTransactions(chi.URLParam(r, "account_id"), r.URL.Query().Get("symbol"), page, limit)
	if err != nil {
		mapAccountError(w, err)
		return
	}

	resp := make([]transactionResponse, len(txs))
	for i, t := range txs {
		resp[i] = transactionResponse{
			TransactionID: t.TransactionID,
			OrderID:       t.OrderID,
			Symbol:        t.Symbol,
			Side:          string(t.Side),
			Quantity:      t.Quantity,
			Price:         t.Price,
			Fee:           t.Fee,
			Total:         t.Total(),
			RealizedPnl:   t.RealizedPnl,
			ExecutedAt:    timestamp(t.ExecutedAt),
		}
	}

	WriteJSON(w, http.StatusOK, transactionListResponse{
		Transactions: resp,
		Total:        total,
		Page:         page,
		Limit:        limit,
	})
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *AccountHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	q := r.URL.Query()
	req := service.ListOrdersRequest{
		Symbol: q.Get("symbol"),
		Page:   page,
		Limit:  limit,
	}
	if s := q.Get("status"); s != "" {
		status := domain.OrderStatus(s)
		req.Status = &status
	}
	if t := q.Get("type"); t != "" {
		typ := domain.OrderType(t)
		req.Type = &typ
	}

	orders, total, err := h.orderSvc.ListOrders(chi.URLParam(r, "account_id"), req)
	if err != nil {
		mapAccountError(w, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = buildOrderResponse(o)
	}

	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: resp,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

func buildAccountResponse(s *service.AccountSummary) accountResponse {
	positions := make([]positionResponse, len(s.Positions))
	for i, p := range s.Positions {
		positions[i] = positionResponse{
			Symbol:           p.Symbol,
			Quantity:         p.Quantity,
			AveragePrice:     p.AveragePrice,
			CurrentPrice:     p.CurrentPrice,
			CurrentValue:     p.CurrentValue,
			UnrealizedProfit: p.UnrealizedProfit,
			UpdatedAt:        timestamp(p.UpdatedAt),
		}
	}

	return accountResponse{
		AccountID:        s.AccountID,
		UserID:           s.UserID,
		Balance:          s.Balance,
		LockedBalance:    s.LockedBalance,
		AvailableBalance: s.AvailableBalance,
		TotalProfit:      s.TotalProfit,
		TotalDeposited:   s.TotalDeposited,
		TotalValue:       s.TotalValue,
		ProfitRate:       s.ProfitRate.Round(4),
		Positions:        positions,
		Risk:             riskSettings(s.Risk),
		CreatedAt:        timestamp(s.CreatedAt),
		UpdatedAt:        timestamp(s.UpdatedAt),
	}
}

// mapAccountError maps domain errors to HTTP responses for account endpoints.
func mapAccountError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		WriteError(w, http.StatusConflict, "account_already_exists", err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
