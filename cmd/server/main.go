package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/peertrade/internal/api"
	"github.com/xtrntr/peertrade/internal/auth"
	"github.com/xtrntr/peertrade/internal/config"
	"github.com/xtrntr/peertrade/internal/models"
	"github.com/xtrntr/peertrade/internal/p2p"
	"github.com/xtrntr/peertrade/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type orderFeed struct {
	svc       *p2p.Service
	log       *zap.Logger
	clientsMu sync.RWMutex
	clients   map[*wsClient]bool
}

func newOrderFeed(svc *p2p.Service, log *zap.Logger) *orderFeed {
	return &orderFeed{svc: svc, log: log, clients: make(map[*wsClient]bool)}
}

// broadcast pushes the active order list to every connected client
func (f *orderFeed) broadcast(ctx context.Context) {
	orders := f.svc.ActiveOrders(ctx)
	payload := struct {
		Orders []models.Order `json:"orders"`
	}{Orders: orders}
	data, err := json.Marshal(payload)
	if err != nil {
		f.log.Error("failed to marshal order feed", zap.Error(err))
		return
	}

	var dead []*wsClient
	f.clientsMu.RLock()
	for client := range f.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			dead = append(dead, client)
		}
	}
	f.clientsMu.RUnlock()

	if len(dead) > 0 {
		f.clientsMu.Lock()
		for _, client := range dead {
			delete(f.clients, client)
		}
		f.clientsMu.Unlock()
	}
}

func (f *orderFeed) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	f.clientsMu.Lock()
	f.clients[client] = true
	f.clientsMu.Unlock()

	// Send initial order list
	f.broadcast(r.Context())

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			f.clientsMu.Lock()
			delete(f.clients, client)
			f.clientsMu.Unlock()
			break
		}
	}
}

// Main entry point: sets up the store, repositories, service and HTTP server
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var st store.Store
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pg.Close(ctx)
		st = pg
	default:
		fs, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			logger.Fatal("failed to open file store", zap.Error(err))
		}
		st = fs
	}

	orders := p2p.NewOrderRepository(st, logger)
	trades := p2p.NewTradeRepository(st, logger)
	users := p2p.NewUserRepository(st, logger)
	if err := orders.Load(ctx); err != nil {
		logger.Fatal("failed to load orders", zap.Error(err))
	}
	if err := trades.Load(ctx); err != nil {
		logger.Fatal("failed to load trades", zap.Error(err))
	}
	if err := users.Load(ctx); err != nil {
		logger.Fatal("failed to load users", zap.Error(err))
	}

	svc := p2p.NewService(orders, trades, users, logger)
	authService := auth.NewAuthService(users, cfg.JWTSecret)
	handler := api.NewHandler(svc, authService, logger)
	feed := newOrderFeed(svc, logger)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket order feed
	r.Get("/ws", feed.handleWebSocket)

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
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

	// Start periodic order feed broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			feed.broadcast(ctx)
		}
	}()

	logger.Info("starting server", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
