package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/peertrade/internal/auth"
	"github.com/xtrntr/peertrade/internal/models"
	"github.com/xtrntr/peertrade/internal/p2p"
)

type contextKey string

const actorKey contextKey = "actor"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Service     *p2p.Service
	AuthService *auth.AuthService
	Log         *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *p2p.Service, authService *auth.AuthService, log *zap.Logger) *Handler {
	return &Handler{Service: svc, AuthService: authService, Log: log}
}

// writeError maps domain errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, p2p.ErrValidation),
		errors.Is(err, p2p.ErrAmountOutOfRange),
		errors.Is(err, p2p.ErrUnsupportedPaymentMethod):
		status = http.StatusBadRequest
	case errors.Is(err, p2p.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, p2p.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, p2p.ErrSelfTrade), errors.Is(err, p2p.ErrInvalidState):
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies bearer tokens and threads the resolved profile
// into the request context as the acting identity
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		user, err := h.AuthService.UserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actor(r *http.Request) (models.User, bool) {
	user, ok := r.Context().Value(actorKey).(models.User)
	return user, ok
}

// Me returns the acting identity's profile
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// CreateOrder publishes a new order
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Side             string          `json:"side"`
		Currency         string          `json:"currency"`
		Amount           decimal.Decimal `json:"amount"`
		Price            decimal.Decimal `json:"price"`
		PaymentMethods   []string        `json:"payment_methods"`
		MinAmount        decimal.Decimal `json:"min_amount"`
		MaxAmount        decimal.Decimal `json:"max_amount"`
		TimeLimitMinutes int             `json:"time_limit_minutes"`
		Terms            string          `json:"terms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	order, err := h.Service.CreateOrder(r.Context(), user, p2p.CreateOrderInput{
		Side:             req.Side,
		Currency:         req.Currency,
		Amount:           req.Amount,
		Price:            req.Price,
		PaymentMethods:   req.PaymentMethods,
		MinAmount:        req.MinAmount,
		MaxAmount:        req.MaxAmount,
		TimeLimitMinutes: req.TimeLimitMinutes,
		Terms:            req.Terms,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders returns active orders from other users, filtered and sorted by
// query parameters
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := &p2p.OrderFilter{
		Side:       q.Get("side"),
		Currency:   q.Get("currency"),
		SortBy:     q.Get("sort"),
		Descending: q.Get("dir") == "desc",
	}
	if v := q.Get("amount_from"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			http.Error(w, `{"error": "Invalid amount_from"}`, http.StatusBadRequest)
			return
		}
		filter.AmountFrom = d
	}
	if v := q.Get("amount_to"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			http.Error(w, `{"error": "Invalid amount_to"}`, http.StatusBadRequest)
			return
		}
		filter.AmountTo = d
	}

	orders := h.Service.ListOrders(r.Context(), user, filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// MyOrders returns all orders owned by the acting identity
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	orders := h.Service.ListMyOrders(r.Context(), user)
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// CancelOrder retires an active order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	order, err := h.Service.CancelOrder(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// AcceptOrder creates a trade from an order
func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount        decimal.Decimal `json:"amount"`
		PaymentMethod string          `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	trade, err := h.Service.AcceptOrder(r.Context(), user, chi.URLParam(r, "id"), req.Amount, req.PaymentMethod)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// GetTrade returns a trade by id
func (h *Handler) GetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.Service.GetTradeByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// MyTrades returns all trades where the acting identity is buyer or seller
func (h *Handler) MyTrades(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	trades := h.Service.ListMyTrades(r.Context(), user)
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// ConfirmPayment marks the buyer's payment as sent
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	trade, err := h.Service.ConfirmPayment(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// ConfirmReceipt settles the trade and releases escrow
func (h *Handler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	trade, err := h.Service.ConfirmReceipt(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// CancelTrade cancels a non-terminal trade
func (h *Handler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	trade, err := h.Service.CancelTrade(r.Context(), user, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// SendMessage appends a message to a trade's conversation
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Text        string   `json:"text"`
		Attachments []string `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	msg, err := h.Service.SendMessage(r.Context(), user, chi.URLParam(r, "id"), req.Text, req.Attachments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
