package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/service"
)

// MarketHandler handles HTTP requests for symbols and prices.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

type setPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type priceResponse struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	QuotedAt string          `json:"quoted_at"`
}

type symbolListResponse struct {
	Symbols []string `json:"symbols"`
}

// ListSymbols handles GET /symbols.
func (h *MarketHandler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, symbolListResponse{Symbols: h.marketSvc.ListSymbols()})
}

// GetPrice handles GET /prices/{symbol}.
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.marketSvc.GetPrice(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildPriceResponse(p))
}

// SetPrice handles PUT /prices/{symbol}.
func (h *MarketHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p, err := h.marketSvc.SetPrice(chi.URLParam(r, "symbol"), req.Price)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildPriceResponse(p))
}

func buildPriceResponse(p *service.PriceResponse) priceResponse {
	return priceResponse{
		Symbol:   p.Symbol,
		Price:    p.Price,
		QuotedAt: timestamp(p.QuotedAt),
	}
}

// mapMarketError maps domain errors to HTTP responses for price endpoints.
func mapMarketError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrSymbolNotSupported):
		WriteError(w, http.StatusNotFound, "symbol_not_supported", err.Error())
	case errors.Is(err, domain.ErrPriceOverrideDisabled):
		WriteError(w, http.StatusConflict, "price_override_disabled", err.Error())
	case errors.Is(err, domain.ErrPriceUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "price_unavailable", "price is temporarily unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
