package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtrntr/peertrade/internal/auth"
	"github.com/xtrntr/peertrade/internal/models"
	"github.com/xtrntr/peertrade/internal/p2p"
	"github.com/xtrntr/peertrade/internal/store"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	logger := zap.NewNop()
	orders := p2p.NewOrderRepository(st, logger)
	trades := p2p.NewTradeRepository(st, logger)
	users := p2p.NewUserRepository(st, logger)
	svc := p2p.NewService(orders, trades, users, logger)
	authService := auth.NewAuthService(users, "test-secret")
	handler := NewHandler(svc, authService, logger)

	r := chi.NewRouter()
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/me", handler.Me)
		r.Post("/orders", handler.CreateOrder)
		r.Get("/orders", handler.ListOrders)
		r.Get("/orders/mine", handler.MyOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Post("/orders/{id}/accept", handler.AcceptOrder)
		r.Get("/trades", handler.MyTrades)
		r.Get("/trades/{id}", handler.GetTrade)
		r.Post("/trades/{id}/payment", handler.ConfirmPayment)
		r.Post("/trades/{id}/receipt", handler.ConfirmReceipt)
		r.Post("/trades/{id}/cancel", handler.CancelTrade)
		r.Post("/trades/{id}/messages", handler.SendMessage)
	})
	return r
}

func doRequest(t *testing.T, router *chi.Mux, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerAndLogin(t *testing.T, router *chi.Mux, username string) string {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "password": "password",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doRequest(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "password": "password",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func createSellOrder(t *testing.T, router *chi.Mux, token string) models.Order {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/orders", token, map[string]interface{}{
		"side":               "sell",
		"currency":           "USD",
		"amount":             "1000",
		"price":              "1.0952",
		"payment_methods":    []string{"Bank Transfer"},
		"min_amount":         "100",
		"max_amount":         "1000",
		"time_limit_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	return order
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, router, http.MethodGet, "/orders", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router, "alice")

	w := doRequest(t, router, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var user models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "alice", user.Username)
}

func TestCreateOrder_BadRequest(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router, "alice")

	w := doRequest(t, router, http.MethodPost, "/orders", token, map[string]interface{}{
		"side":               "sell",
		"currency":           "USD",
		"amount":             "0",
		"price":              "1.0952",
		"payment_methods":    []string{"Bank Transfer"},
		"time_limit_minutes": 30,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderVisibility(t *testing.T) {
	router := newTestRouter(t)
	aliceToken := registerAndLogin(t, router, "alice")
	bobToken := registerAndLogin(t, router, "bob")

	order := createSellOrder(t, router, aliceToken)

	// The owner does not see their own order in discovery
	w := doRequest(t, router, http.MethodGet, "/orders", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Orders []models.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Empty(t, listing.Orders)

	// The counterparty does
	w = doRequest(t, router, http.MethodGet, "/orders?side=sell&currency=USD", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Orders, 1)
	assert.Equal(t, order.ID, listing.Orders[0].ID)

	// And the owner sees it under their own orders
	w = doRequest(t, router, http.MethodGet, "/orders/mine", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Orders, 1)
}

func TestTradeFlow(t *testing.T) {
	router := newTestRouter(t)
	aliceToken := registerAndLogin(t, router, "alice")
	bobToken := registerAndLogin(t, router, "bob")

	order := createSellOrder(t, router, aliceToken)

	// The owner cannot accept their own order
	w := doRequest(t, router, http.MethodPost, "/orders/"+order.ID+"/accept", aliceToken, map[string]interface{}{
		"amount": "500", "payment_method": "Bank Transfer",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Out-of-range amount is rejected
	w = doRequest(t, router, http.MethodPost, "/orders/"+order.ID+"/accept", bobToken, map[string]interface{}{
		"amount": "50", "payment_method": "Bank Transfer",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Accept at 500
	w = doRequest(t, router, http.MethodPost, "/orders/"+order.ID+"/accept", bobToken, map[string]interface{}{
		"amount": "500", "payment_method": "Bank Transfer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var trade models.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trade))
	assert.Equal(t, models.TradePending, trade.Status)
	assert.Equal(t, models.EscrowLocked, trade.EscrowStatus)

	// Seller confirming payment is forbidden
	w = doRequest(t, router, http.MethodPost, "/trades/"+trade.ID+"/payment", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Buyer sends proof, confirms payment
	w = doRequest(t, router, http.MethodPost, "/trades/"+trade.ID+"/messages", bobToken, map[string]interface{}{
		"text": "receipt attached", "attachments": []string{"receipt.png"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodPost, "/trades/"+trade.ID+"/payment", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trade))
	assert.Equal(t, models.TradePaymentSent, trade.Status)

	// Confirming payment twice conflicts
	w = doRequest(t, router, http.MethodPost, "/trades/"+trade.ID+"/payment", bobToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Seller confirms receipt and escrow releases
	w = doRequest(t, router, http.MethodPost, "/trades/"+trade.ID+"/receipt", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trade))
	assert.Equal(t, models.TradePaymentConfirmed, trade.Status)
	assert.Equal(t, models.EscrowReleased, trade.EscrowStatus)
	assert.NotNil(t, trade.CompletedAt)

	// Both parties see the trade
	for _, token := range []string{aliceToken, bobToken} {
		w = doRequest(t, router, http.MethodGet, "/trades", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Trades []models.Trade `json:"trades"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Trades, 1)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	router := newTestRouter(t)
	aliceToken := registerAndLogin(t, router, "alice")
	bobToken := registerAndLogin(t, router, "bob")

	order := createSellOrder(t, router, aliceToken)

	w := doRequest(t, router, http.MethodDelete, "/orders/"+order.ID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/orders/"+order.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/orders/"+order.ID, aliceToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/orders/unknown", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelTradeEndpoint(t *testing.T) {
	router := newTestRouter(t)
	aliceToken := registerAndLogin(t, router, "alice")
	bobToken := registerAndLogin(t, router, "bob")

	order := createSellOrder(t, router, aliceToken)
	w := doRequest(t, router, http.MethodPost, "/orders/"+order.ID+"/accept", bobToken, map[string]interface{}{
		"amount": "500", "payment_method": "Bank Transfer",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var trade models.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trade))

	w = doRequest(t, router, http.MethodPost, "/trades/"+trade.ID+"/cancel", bobToken, map[string]string{
		"reason": "bank is down",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trade))
	assert.Equal(t, models.TradeCancelled, trade.Status)
	assert.Equal(t, models.EscrowRefunded, trade.EscrowStatus)
}
