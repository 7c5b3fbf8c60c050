package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xtrntr/peertrade/internal/models"
	"github.com/xtrntr/peertrade/internal/store"
)

// OrderRepository owns the order collection
type OrderRepository interface {
	Load(ctx context.Context) error
	All() []models.Order
	Get(id string) (models.Order, bool)
	Put(ctx context.Context, order models.Order)
}

// TradeRepository owns the trade collection
type TradeRepository interface {
	Load(ctx context.Context) error
	All() []models.Trade
	Get(id string) (models.Trade, bool)
	Put(ctx context.Context, trade models.Trade)
}

// UserRepository owns the registered-identity collection
type UserRepository interface {
	Load(ctx context.Context) error
	All() []models.User
	Get(id string) (models.User, bool)
	GetByUsername(username string) (models.User, bool)
	Put(ctx context.Context, user models.User)
}

// orderRepo keeps orders in memory and writes the whole collection through
// to the store on every mutation. A failed write is logged, not rolled back.
type orderRepo struct {
	mu     sync.RWMutex
	orders []models.Order
	store  store.Store
	log    *zap.Logger
}

// NewOrderRepository creates an order repository backed by st
func NewOrderRepository(st store.Store, log *zap.Logger) OrderRepository {
	return &orderRepo{store: st, log: log}
}

func (r *orderRepo) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.store.Load(ctx, store.KeyOrders)
	if err != nil {
		return fmt.Errorf("failed to load orders: %w", err)
	}
	if data == nil {
		r.orders = nil
		return nil
	}
	var orders []models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return fmt.Errorf("failed to decode orders: %w", err)
	}
	r.orders = orders
	return nil
}

func (r *orderRepo) All() []models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Order, len(r.orders))
	copy(out, r.orders)
	return out
}

func (r *orderRepo) Get(id string) (models.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.ID == id {
			return o, true
		}
	}
	return models.Order{}, false
}

func (r *orderRepo) Put(ctx context.Context, order models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for i, o := range r.orders {
		if o.ID == order.ID {
			r.orders[i] = order
			replaced = true
			break
		}
	}
	if !replaced {
		r.orders = append(r.orders, order)
	}

	data, err := json.Marshal(r.orders)
	if err != nil {
		r.log.Error("failed to encode orders", zap.Error(err))
		return
	}
	if err := r.store.Save(ctx, store.KeyOrders, data); err != nil {
		r.log.Error("failed to persist orders", zap.Error(err))
	}
}

type tradeRepo struct {
	mu     sync.RWMutex
	trades []models.Trade
	store  store.Store
	log    *zap.Logger
}

// NewTradeRepository creates a trade repository backed by st
func NewTradeRepository(st store.Store, log *zap.Logger) TradeRepository {
	return &tradeRepo{store: st, log: log}
}

func (r *tradeRepo) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.store.Load(ctx, store.KeyTrades)
	if err != nil {
		return fmt.Errorf("failed to load trades: %w", err)
	}
	if data == nil {
		r.trades = nil
		return nil
	}
	var trades []models.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return fmt.Errorf("failed to decode trades: %w", err)
	}
	r.trades = trades
	return nil
}

func (r *tradeRepo) All() []models.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

func (r *tradeRepo) Get(id string) (models.Trade, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.trades {
		if t.ID == id {
			return t, true
		}
	}
	return models.Trade{}, false
}

func (r *tradeRepo) Put(ctx context.Context, trade models.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for i, t := range r.trades {
		if t.ID == trade.ID {
			r.trades[i] = trade
			replaced = true
			break
		}
	}
	if !replaced {
		r.trades = append(r.trades, trade)
	}

	data, err := json.Marshal(r.trades)
	if err != nil {
		r.log.Error("failed to encode trades", zap.Error(err))
		return
	}
	if err := r.store.Save(ctx, store.KeyTrades, data); err != nil {
		r.log.Error("failed to persist trades", zap.Error(err))
	}
}

type userRepo struct {
	mu    sync.RWMutex
	users []persistedUser
	store store.Store
	log   *zap.Logger
}

// persistedUser carries the password hash, which models.User hides from JSON
type persistedUser struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

// NewUserRepository creates a user repository backed by st
func NewUserRepository(st store.Store, log *zap.Logger) UserRepository {
	return &userRepo{store: st, log: log}
}

func (r *userRepo) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.store.Load(ctx, store.KeyUsers)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	if data == nil {
		r.users = nil
		return nil
	}
	var users []persistedUser
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("failed to decode users: %w", err)
	}
	r.users = users
	return nil
}

func (r *userRepo) All() []models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, r.toModel(u))
	}
	return out
}

func (r *userRepo) Get(id string) (models.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.ID == id {
			return r.toModel(u), true
		}
	}
	return models.User{}, false
}

func (r *userRepo) GetByUsername(username string) (models.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			return r.toModel(u), true
		}
	}
	return models.User{}, false
}

func (r *userRepo) Put(ctx context.Context, user models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pu := persistedUser{User: user, PasswordHash: user.PasswordHash}
	replaced := false
	for i, u := range r.users {
		if u.ID == user.ID {
			r.users[i] = pu
			replaced = true
			break
		}
	}
	if !replaced {
		r.users = append(r.users, pu)
	}

	data, err := json.Marshal(r.users)
	if err != nil {
		r.log.Error("failed to encode users", zap.Error(err))
		return
	}
	if err := r.store.Save(ctx, store.KeyUsers, data); err != nil {
		r.log.Error("failed to persist users", zap.Error(err))
	}
}

func (r *userRepo) toModel(u persistedUser) models.User {
	m := u.User
	m.PasswordHash = u.PasswordHash
	return m
}
