package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/engine"
	"github.com/efreitasn/spotsim/internal/oracle"
	"github.com/efreitasn/spotsim/internal/service"
	"github.com/efreitasn/spotsim/internal/store"
)

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router     http.Handler
	prices     *oracle.Static
	accountSvc *service.AccountService
	orderSvc   *service.OrderService
	marketSvc  *service.MarketService
	webhookSvc *service.WebhookService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv() *testEnv {
	return newTestEnvWithOverride(true)
}

// newTestEnvWithOverride builds the full stack. When allowOverride is false
// the market service gets no static oracle, as with a live price feed.
func newTestEnvWithOverride(allowOverride bool) *testEnv {
	as := store.NewAccountStore()
	os := store.NewOrderStore()
	ts := store.NewTransactionStore()
	ws := store.NewWebhookStore()
	sr := domain.NewSymbolRegistry(domain.DefaultSymbols...)
	prices := oracle.NewStatic(map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(50000),
		"ETHUSDT": decimal.NewFromInt(3000),
	})
	cache := oracle.NewCache(prices, time.Minute)

	webhookSvc := service.NewWebhookService(ws, as, 5*time.Second, discardLogger())
	eng := engine.New(engine.Options{
		Accounts:     as,
		Orders:       os,
		Transactions: ts,
		Symbols:      sr,
		Oracle:       cache,
		Notifier:     webhookSvc,
		Logger:       discardLogger(),
	})

	static := prices
	if !allowOverride {
		static = nil
	}

	accountSvc := service.NewAccountService(eng, as, ts, cache, discardLogger())
	orderSvc := service.NewOrderService(eng, as, os)
	marketSvc := service.NewMarketService(cache, static, cache, sr)

	return &testEnv{
		router:     NewRouter(accountSvc, orderSvc, marketSvc, webhookSvc, discardLogger()),
		prices:     prices,
		accountSvc: accountSvc,
		orderSvc:   orderSvc,
		marketSvc:  marketSvc,
		webhookSvc: webhookSvc,
	}
}

// doJSON sends a JSON request and returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != code {
		t.Fatalf("expected error %q, got %q (%s)", code, resp.Error, resp.Message)
	}
}

// openAccount opens a funded account via the API and returns its id.
func (env *testEnv) openAccount(t *testing.T, userID, balance string) string {
	t.Helper()
	rr := env.doJSON(t, "POST", "/accounts", map[string]any{
		"user_id":         userID,
		"initial_balance": balance,
	})
	expectStatus(t, rr, http.StatusCreated)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	return resp["account_id"].(string)
}

// placeOrder submits an order and returns the decoded body.
func (env *testEnv) placeOrder(t *testing.T, accountID string, body map[string]any, want int) map[string]any {
	t.Helper()
	rr := env.doJSON(t, "POST", "/accounts/"+accountID+"/orders", body)
	expectStatus(t, rr, want)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	return resp
}

func marketBuy(symbol, qty string) map[string]any {
	return map[string]any{"symbol": symbol, "side": "BUY", "type": "MARKET", "quantity": qty}
}

// --- Healthz ---

func TestHealthz(t *testing.T) {
	env := newTestEnv()
	rr := env.doJSON(t, "GET", "/healthz", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected application/json, got %s", ct)
	}
}

// --- Account Endpoints ---

func TestAccount_Open_Success(t *testing.T) {
	env := newTestEnv()
	rr := env.doJSON(t, "POST", "/accounts", map[string]any{
		"user_id":         "alice",
		"initial_balance": "10000.50",
	})
	expectStatus(t, rr, http.StatusCreated)

	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["user_id"] != "alice" {
		t.Fatalf("expected user_id=alice, got %v", resp["user_id"])
	}
	// Money is rendered as exact decimal strings.
	if resp["balance"] != "10000.5" {
		t.Fatalf("expected balance=10000.5, got %v", resp["balance"])
	}
	if resp["total_deposited"] != "10000.5" {
		t.Fatalf("expected total_deposited=10000.5, got %v", resp["total_deposited"])
	}
	createdAt, ok := resp["created_at"].(string)
	if !ok {
		t.Fatal("created_at should be a string")
	}
	if _, err := time.Parse(time.RFC3339, createdAt); err != nil {
		t.Fatalf("created_at not RFC 3339: %v", err)
	}
}

func TestAccount_Open_AcceptsNumericBalance(t *testing.T) {
	env := newTestEnv()
	rr := env.doRaw(t, "POST", "/accounts", "application/json", `{"user_id":"bob","initial_balance":250}`)
	expectStatus(t, rr, http.StatusCreated)
}

func TestAccount_Open_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "missing user_id",
			body:   map[string]any{"initial_balance": "100"},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "negative balance",
			body:   map[string]any{"user_id": "carol", "initial_balance": "-1"},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "unknown field",
			body:   map[string]any{"user_id": "carol", "initial_balance": "1", "nickname": "x"},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			expectError(t, env.doJSON(t, "POST", "/accounts", tt.body), tt.status, tt.code)
		})
	}
}

func TestAccount_Open_Duplicate(t *testing.T) {
	env := newTestEnv()
	env.openAccount(t, "alice", "1000")

	rr := env.doJSON(t, "POST", "/accounts", map[string]any{
		"user_id":         "alice",
		"initial_balance": "500",
	})
	expectError(t, rr, http.StatusConflict, "account_already_exists")
}

func TestAccount_Open_WrongContentType(t *testing.T) {
	env := newTestEnv()
	rr := env.doRaw(t, "POST", "/accounts", "text/plain", `{"user_id":"alice","initial_balance":"1"}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestAccount_Summary(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")
	env.placeOrder(t, id, marketBuy("BTCUSDT", "0.1"), http.StatusCreated)

	env.doJSON(t, "PUT", "/prices/BTCUSDT", map[string]any{"price": "60000"})

	rr := env.doJSON(t, "GET", "/accounts/"+id+"/summary", nil)
	expectStatus(t, rr, http.StatusOK)

	var resp accountResponse
	decodeJSON(t, rr, &resp)

	if !resp.Balance.Equal(decimal.NewFromInt(4995)) {
		t.Fatalf("expected balance 4995, got %s", resp.Balance)
	}
	if len(resp.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(resp.Positions))
	}
	p := resp.Positions[0]
	if !p.CurrentPrice.Equal(decimal.NewFromInt(60000)) || !p.UnrealizedProfit.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected position mark: %+v", p)
	}
	// 4995 + 6000 = 10995
	if !resp.TotalValue.Equal(decimal.NewFromInt(10995)) {
		t.Fatalf("expected total_value 10995, got %s", resp.TotalValue)
	}
	if !resp.ProfitRate.Equal(decimal.RequireFromString("9.95")) {
		t.Fatalf("expected profit_rate 9.95, got %s", resp.ProfitRate)
	}
}

func TestAccount_Summary_NotFound(t *testing.T) {
	env := newTestEnv()
	expectError(t, env.doJSON(t, "GET", "/accounts/missing/summary", nil), http.StatusNotFound, "account_not_found")
}

func TestAccount_Deposit(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "100")

	rr := env.doJSON(t, "POST", "/accounts/"+id+"/deposits", map[string]any{"amount": "50.25"})
	expectStatus(t, rr, http.StatusOK)

	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["balance"] != "150.25" || resp["total_deposited"] != "150.25" {
		t.Fatalf("unexpected balances: %v / %v", resp["balance"], resp["total_deposited"])
	}

	rr = env.doJSON(t, "POST", "/accounts/"+id+"/deposits", map[string]any{"amount": "0"})
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

func TestAccount_SetRisk(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")

	rr := env.doJSON(t, "PUT", "/accounts/"+id+"/risk", map[string]any{
		"enabled":             true,
		"stop_loss_percent":   "5",
		"take_profit_percent": "10",
	})
	expectStatus(t, rr, http.StatusOK)

	// A plain BUY now gets both protective exits.
	env.placeOrder(t, id, marketBuy("BTCUSDT", "0.1"), http.StatusCreated)

	rr = env.doJSON(t, "GET", "/accounts/"+id+"/orders?status=PENDING", nil)
	expectStatus(t, rr, http.StatusOK)
	var list orderListResponse
	decodeJSON(t, rr, &list)
	if list.Total != 2 {
		t.Fatalf("expected 2 pending exits, got %d", list.Total)
	}

	rr = env.doJSON(t, "PUT", "/accounts/"+id+"/risk", map[string]any{
		"enabled":           true,
		"stop_loss_percent": "150",
	})
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

func TestAccount_ListTransactions(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")
	env.placeOrder(t, id, marketBuy("BTCUSDT", "0.1"), http.StatusCreated)
	env.placeOrder(t, id, marketBuy("ETHUSDT", "1"), http.StatusCreated)

	rr := env.doJSON(t, "GET", "/accounts/"+id+"/transactions?symbol=ETHUSDT", nil)
	expectStatus(t, rr, http.StatusOK)

	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["total"] != float64(1) {
		t.Fatalf("expected total=1, got %v", resp["total"])
	}
	txs := resp["transactions"].([]any)
	tx := txs[0].(map[string]any)
	if tx["symbol"] != "ETHUSDT" || tx["price"] != "3000" || tx["fee"] != "3" || tx["total"] != "3000" {
		t.Fatalf("unexpected transaction: %v", tx)
	}
	if resp["page"] != float64(1) || resp["limit"] != float64(20) {
		t.Fatalf("expected default pagination, got page=%v limit=%v", resp["page"], resp["limit"])
	}
}

func TestAccount_ListTransactions_BadPagination(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")

	for _, q := range []string{"page=abc", "limit=x", "page=0", "limit=101"} {
		t.Run(q, func(t *testing.T) {
			rr := env.doJSON(t, "GET", "/accounts/"+id+"/transactions?"+q, nil)
			expectError(t, rr, http.StatusBadRequest, "validation_error")
		})
	}
}

// --- Order Endpoints ---

func TestOrder_MarketBuy_Filled(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")

	resp := env.placeOrder(t, id, marketBuy("BTCUSDT", "0.1"), http.StatusCreated)

	if resp["status"] != "FILLED" {
		t.Fatalf("expected FILLED, got %v", resp["status"])
	}
	if resp["filled_quantity"] != "0.1" || resp["filled_price"] != "50000" || resp["fee"] != "5" {
		t.Fatalf("unexpected fill: qty=%v price=%v fee=%v", resp["filled_quantity"], resp["filled_price"], resp["fee"])
	}
	if resp["limit_price"] != nil || resp["failure_reason"] != nil {
		t.Fatalf("expected null limit_price and failure_reason, got %v / %v", resp["limit_price"], resp["failure_reason"])
	}
}

func TestOrder_Market_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "insufficient balance",
			body:   marketBuy("BTCUSDT", "1"),
			status: http.StatusConflict,
			code:   "insufficient_balance",
		},
		{
			name:   "insufficient quantity",
			body:   map[string]any{"symbol": "ETHUSDT", "side": "SELL", "type": "MARKET", "quantity": "1"},
			status: http.StatusConflict,
			code:   "insufficient_quantity",
		},
		{
			name:   "price unavailable",
			body:   marketBuy("SOLUSDT", "1"),
			status: http.StatusServiceUnavailable,
			code:   "price_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			id := env.openAccount(t, "alice", "1000")

			rr := env.doJSON(t, "POST", "/accounts/"+id+"/orders", tt.body)
			expectStatus(t, rr, tt.status)

			var resp failedOrderResponse
			decodeJSON(t, rr, &resp)
			if resp.Error != tt.code {
				t.Fatalf("expected error %q, got %q", tt.code, resp.Error)
			}
			if resp.Order.Status != "FAILED" {
				t.Fatalf("expected FAILED order in body, got %q", resp.Order.Status)
			}
			if resp.Order.FailureReason == nil || *resp.Order.FailureReason != tt.code {
				t.Fatalf("expected failure_reason %q, got %v", tt.code, resp.Order.FailureReason)
			}

			// The failed order is retrievable.
			expectStatus(t, env.doJSON(t, "GET", "/orders/"+resp.Order.OrderID, nil), http.StatusOK)
		})
	}
}

func TestOrder_Place_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"unsupported symbol", map[string]any{"symbol": "DOGEUSDT", "side": "BUY", "type": "MARKET", "quantity": "1"}},
		{"bad side", map[string]any{"symbol": "BTCUSDT", "side": "HOLD", "type": "MARKET", "quantity": "1"}},
		{"bad type", map[string]any{"symbol": "BTCUSDT", "side": "BUY", "type": "ICEBERG", "quantity": "1"}},
		{"zero quantity", map[string]any{"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET", "quantity": "0"}},
		{"limit without price", map[string]any{"symbol": "BTCUSDT", "side": "BUY", "type": "LIMIT", "quantity": "1"}},
		{"stop without price", map[string]any{"symbol": "BTCUSDT", "side": "SELL", "type": "STOP_LOSS", "quantity": "1"}},
		{"bracket on sell", map[string]any{"symbol": "BTCUSDT", "side": "SELL", "type": "MARKET", "quantity": "1", "stop_loss_percent": "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			id := env.openAccount(t, "alice", "1000")
			expectError(t, env.doJSON(t, "POST", "/accounts/"+id+"/orders", tt.body), http.StatusBadRequest, "validation_error")
		})
	}
}

func TestOrder_Place_AccountNotFound(t *testing.T) {
	env := newTestEnv()
	rr := env.doJSON(t, "POST", "/accounts/missing/orders", marketBuy("BTCUSDT", "1"))
	expectError(t, rr, http.StatusNotFound, "account_not_found")
}

func TestOrder_Limit_PendingThenCancel(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")

	resp := env.placeOrder(t, id, map[string]any{
		"symbol":      "BTCUSDT",
		"side":        "BUY",
		"type":        "LIMIT",
		"quantity":    "0.1",
		"limit_price": "45000",
	}, http.StatusCreated)
	if resp["status"] != "PENDING" || resp["limit_price"] != "45000" {
		t.Fatalf("unexpected order: %v", resp)
	}
	orderID := resp["order_id"].(string)

	var summary map[string]any
	rr := env.doJSON(t, "GET", "/accounts/"+id+"/summary", nil)
	decodeJSON(t, rr, &summary)
	if summary["locked_balance"] != "4504.5" || summary["available_balance"] != "5495.5" {
		t.Fatalf("unexpected reservation: locked=%v available=%v", summary["locked_balance"], summary["available_balance"])
	}

	rr = env.doJSON(t, "GET", "/orders/"+orderID, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = env.doJSON(t, "DELETE", "/orders/"+orderID, nil)
	expectStatus(t, rr, http.StatusOK)
	var cancelled map[string]any
	decodeJSON(t, rr, &cancelled)
	if cancelled["status"] != "CANCELLED" {
		t.Fatalf("expected CANCELLED, got %v", cancelled["status"])
	}

	expectError(t, env.doJSON(t, "DELETE", "/orders/"+orderID, nil), http.StatusConflict, "invalid_state_transition")
}

func TestOrder_CancelFilled(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")
	resp := env.placeOrder(t, id, marketBuy("BTCUSDT", "0.1"), http.StatusCreated)

	rr := env.doJSON(t, "DELETE", "/orders/"+resp["order_id"].(string), nil)
	expectError(t, rr, http.StatusConflict, "invalid_state_transition")
}

func TestOrder_NotFound(t *testing.T) {
	env := newTestEnv()
	expectError(t, env.doJSON(t, "GET", "/orders/nope", nil), http.StatusNotFound, "order_not_found")
	expectError(t, env.doJSON(t, "DELETE", "/orders/nope", nil), http.StatusNotFound, "order_not_found")
}

func TestOrder_Bracket(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "10000")

	body := marketBuy("BTCUSDT", "0.1")
	body["stop_loss_price"] = "45000"
	body["take_profit_percent"] = "20"
	parent := env.placeOrder(t, id, body, http.StatusCreated)

	rr := env.doJSON(t, "GET", "/accounts/"+id+"/orders?status=PENDING", nil)
	expectStatus(t, rr, http.StatusOK)
	var list orderListResponse
	decodeJSON(t, rr, &list)
	if list.Total != 2 {
		t.Fatalf("expected 2 exits, got %d", list.Total)
	}

	stops := map[string]string{}
	for _, o := range list.Orders {
		if o.ParentOrderID == nil || *o.ParentOrderID != parent["order_id"] {
			t.Fatalf("exit %s not linked to parent", o.OrderID)
		}
		if o.BracketID == nil {
			t.Fatalf("exit %s has no bracket_id", o.OrderID)
		}
		stops[o.Type] = o.StopPrice.String()
	}
	if stops["STOP_LOSS"] != "45000" || stops["TAKE_PROFIT"] != "60000" {
		t.Fatalf("unexpected exit prices: %v", stops)
	}
}

func TestOrder_ListOrders(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "100000")
	env.placeOrder(t, id, marketBuy("BTCUSDT", "0.1"), http.StatusCreated)
	env.placeOrder(t, id, marketBuy("ETHUSDT", "1"), http.StatusCreated)
	env.placeOrder(t, id, map[string]any{
		"symbol": "ETHUSDT", "side": "BUY", "type": "LIMIT", "quantity": "1", "limit_price": "2500",
	}, http.StatusCreated)

	tests := []struct {
		query string
		total int
	}{
		{"", 3},
		{"?status=FILLED", 2},
		{"?status=PENDING", 1},
		{"?symbol=ETHUSDT", 2},
		{"?type=LIMIT", 1},
		{"?symbol=ETHUSDT&type=MARKET", 1},
		{"?limit=1", 3},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := env.doJSON(t, "GET", "/accounts/"+id+"/orders"+tt.query, nil)
			expectStatus(t, rr, http.StatusOK)
			var list orderListResponse
			decodeJSON(t, rr, &list)
			if list.Total != tt.total {
				t.Fatalf("expected total %d, got %d", tt.total, list.Total)
			}
		})
	}

	rr := env.doJSON(t, "GET", "/accounts/"+id+"/orders", nil)
	var list orderListResponse
	decodeJSON(t, rr, &list)
	if list.Orders[0].Type != "LIMIT" {
		t.Fatalf("expected newest order first, got %s", list.Orders[0].Type)
	}
}

func TestOrder_ListOrders_Errors(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "1000")

	expectError(t, env.doJSON(t, "GET", "/accounts/"+id+"/orders?status=OPEN", nil), http.StatusBadRequest, "validation_error")
	expectError(t, env.doJSON(t, "GET", "/accounts/"+id+"/orders?type=ICEBERG", nil), http.StatusBadRequest, "validation_error")
	expectError(t, env.doJSON(t, "GET", "/accounts/missing/orders", nil), http.StatusNotFound, "account_not_found")
}

// --- Market Endpoints ---

func TestMarket_ListSymbols(t *testing.T) {
	env := newTestEnv()
	rr := env.doJSON(t, "GET", "/symbols", nil)
	expectStatus(t, rr, http.StatusOK)

	var resp symbolListResponse
	decodeJSON(t, rr, &resp)
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}
	if strings.Join(resp.Symbols, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, resp.Symbols)
	}
}

func TestMarket_GetPrice(t *testing.T) {
	env := newTestEnv()

	rr := env.doJSON(t, "GET", "/prices/BTCUSDT", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["price"] != "50000" {
		t.Fatalf("expected 50000, got %v", resp["price"])
	}

	expectError(t, env.doJSON(t, "GET", "/prices/DOGEUSDT", nil), http.StatusNotFound, "symbol_not_supported")
	expectError(t, env.doJSON(t, "GET", "/prices/SOLUSDT", nil), http.StatusServiceUnavailable, "price_unavailable")
}

func TestMarket_SetPrice(t *testing.T) {
	env := newTestEnv()

	rr := env.doJSON(t, "PUT", "/prices/SOLUSDT", map[string]any{"price": "150.5"})
	expectStatus(t, rr, http.StatusOK)

	rr = env.doJSON(t, "GET", "/prices/SOLUSDT", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["price"] != "150.5" {
		t.Fatalf("expected 150.5, got %v", resp["price"])
	}

	expectError(t, env.doJSON(t, "PUT", "/prices/SOLUSDT", map[string]any{"price": "0"}), http.StatusBadRequest, "validation_error")
	expectError(t, env.doJSON(t, "PUT", "/prices/DOGEUSDT", map[string]any{"price": "1"}), http.StatusNotFound, "symbol_not_supported")
}

func TestMarket_SetPrice_Disabled(t *testing.T) {
	env := newTestEnvWithOverride(false)
	rr := env.doJSON(t, "PUT", "/prices/BTCUSDT", map[string]any{"price": "1"})
	expectError(t, rr, http.StatusConflict, "price_override_disabled")
}

// --- Webhook Endpoints ---

func TestWebhook_SubscribeListDelete(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "1000")
	path := "/accounts/" + id + "/webhooks"

	body := map[string]any{
		"url":    " https://example.com/hook ",
		"events": []string{"order.filled", "order.cancelled"},
	}
	rr := env.doJSON(t, "POST", path, body)
	expectStatus(t, rr, http.StatusCreated)
	var created webhookListResponse
	decodeJSON(t, rr, &created)
	if len(created.Webhooks) != 2 {
		t.Fatalf("expected 2 webhooks, got %d", len(created.Webhooks))
	}
	for _, wh := range created.Webhooks {
		if wh.AccountID != id || wh.URL != "https://example.com/hook" {
			t.Errorf("webhook = %+v, want account %s and trimmed url", wh, id)
		}
	}

	// Re-registering the same pairs creates nothing.
	expectStatus(t, env.doJSON(t, "POST", path, body), http.StatusOK)

	rr = env.doJSON(t, "GET", path, nil)
	expectStatus(t, rr, http.StatusOK)
	var list webhookListResponse
	decodeJSON(t, rr, &list)
	if len(list.Webhooks) != 2 {
		t.Fatalf("expected 2 webhooks, got %d", len(list.Webhooks))
	}

	rr = env.doJSON(t, "GET", path+"?event=order.filled", nil)
	expectStatus(t, rr, http.StatusOK)
	var filled webhookListResponse
	decodeJSON(t, rr, &filled)
	if len(filled.Webhooks) != 1 || filled.Webhooks[0].Event != "order.filled" {
		t.Fatalf("event filter returned %+v, want only order.filled", filled.Webhooks)
	}

	rr = env.doJSON(t, "GET", path+"?event=order.failed", nil)
	var none webhookListResponse
	decodeJSON(t, rr, &none)
	if none.Webhooks == nil || len(none.Webhooks) != 0 {
		t.Errorf("unsubscribed event filter = %v, want empty array", none.Webhooks)
	}

	whID := filled.Webhooks[0].WebhookID
	rr = env.doJSON(t, "GET", "/webhooks/"+whID, nil)
	expectStatus(t, rr, http.StatusOK)
	var one webhookResponse
	decodeJSON(t, rr, &one)
	if one.WebhookID != whID || one.Event != "order.filled" {
		t.Errorf("GET webhook = %+v", one)
	}

	expectStatus(t, env.doJSON(t, "DELETE", "/webhooks/"+whID, nil), http.StatusNoContent)
	expectError(t, env.doJSON(t, "DELETE", "/webhooks/"+whID, nil), http.StatusNotFound, "webhook_not_found")
	expectError(t, env.doJSON(t, "GET", "/webhooks/"+whID, nil), http.StatusNotFound, "webhook_not_found")
}

func TestWebhook_Errors(t *testing.T) {
	env := newTestEnv()
	id := env.openAccount(t, "alice", "1000")
	path := "/accounts/" + id + "/webhooks"

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"unknown account list", "GET", "/accounts/missing/webhooks", nil, http.StatusNotFound, "account_not_found"},
		{"unknown account subscribe", "POST", "/accounts/missing/webhooks",
			map[string]any{"url": "https://example.com/hook", "events": []string{"order.filled"}},
			http.StatusNotFound, "account_not_found"},
		{"unknown event filter", "GET", path + "?event=trade.executed", nil, http.StatusBadRequest, "validation_error"},
		{"plain http url", "POST", path,
			map[string]any{"url": "http://example.com/hook", "events": []string{"order.filled"}},
			http.StatusBadRequest, "validation_error"},
		{"unknown event", "POST", path,
			map[string]any{"url": "https://example.com/hook", "events": []string{"trade.executed"}},
			http.StatusBadRequest, "validation_error"},
		{"empty events", "POST", path,
			map[string]any{"url": "https://example.com/hook", "events": []string{}},
			http.StatusBadRequest, "validation_error"},
		{"account id in body", "POST", path,
			map[string]any{"account_id": id, "url": "https://example.com/hook", "events": []string{"order.filled"}},
			http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.doJSON(t, tt.method, tt.path, tt.body), tt.wantCode, tt.wantErr)
		})
	}
}
