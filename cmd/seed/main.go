package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/peertrade/internal/auth"
	"github.com/xtrntr/peertrade/internal/config"
	"github.com/xtrntr/peertrade/internal/models"
	"github.com/xtrntr/peertrade/internal/p2p"
	"github.com/xtrntr/peertrade/internal/store"
)

// Seed the store with test users, open orders and one settled trade
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	var st store.Store
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer pg.Close(ctx)
		st = pg
	default:
		fs, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			log.Fatalf("Failed to open file store: %v", err)
		}
		st = fs
	}

	orders := p2p.NewOrderRepository(st, logger)
	trades := p2p.NewTradeRepository(st, logger)
	users := p2p.NewUserRepository(st, logger)
	if err := orders.Load(ctx); err != nil {
		log.Fatalf("Failed to load orders: %v", err)
	}
	if err := trades.Load(ctx); err != nil {
		log.Fatalf("Failed to load trades: %v", err)
	}
	if err := users.Load(ctx); err != nil {
		log.Fatalf("Failed to load users: %v", err)
	}

	// First check if we already have orders
	if n := len(orders.All()); n > 0 {
		fmt.Printf("Store already has %d orders. No need to seed.\n", n)
		os.Exit(0)
	}

	svc := p2p.NewService(orders, trades, users, logger)
	authService := auth.NewAuthService(users, cfg.JWTSecret)

	trader1 := seedUser(ctx, authService, users, "trader1", 4.8, true, []string{"Bank Transfer", "Wise"})
	trader2 := seedUser(ctx, authService, users, "trader2", 4.5, false, []string{"Bank Transfer", "PayPal"})

	// Open orders from both sides of the book
	mustOrder(svc.CreateOrder(ctx, trader1, p2p.CreateOrderInput{
		Side:             models.SideSell,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(1000),
		Price:            decimal.RequireFromString("1.0952"),
		PaymentMethods:   []string{"Bank Transfer"},
		MinAmount:        decimal.NewFromInt(100),
		TimeLimitMinutes: 30,
		Terms:            "Payment reference must match the trade id.",
	}))
	mustOrder(svc.CreateOrder(ctx, trader2, p2p.CreateOrderInput{
		Side:             models.SideBuy,
		Currency:         "EUR",
		Amount:           decimal.NewFromInt(500),
		Price:            decimal.RequireFromString("0.9210"),
		PaymentMethods:   []string{"Bank Transfer", "PayPal"},
		MinAmount:        decimal.NewFromInt(50),
		TimeLimitMinutes: 45,
	}))

	// One fully settled trade for history
	histOrder := mustOrder(svc.CreateOrder(ctx, trader1, p2p.CreateOrderInput{
		Side:             models.SideSell,
		Currency:         "GBP",
		Amount:           decimal.NewFromInt(250),
		Price:            decimal.RequireFromString("1.2701"),
		PaymentMethods:   []string{"Wise"},
		TimeLimitMinutes: 15,
	}))
	trade, err := svc.AcceptOrder(ctx, trader2, histOrder.ID, decimal.NewFromInt(250), "Wise")
	if err != nil {
		log.Fatalf("Failed to accept order: %v", err)
	}
	if _, err := svc.SendMessage(ctx, trader2, trade.ID, "Sending now, reference attached.", []string{"receipt-0041.png"}); err != nil {
		log.Fatalf("Failed to send message: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, trader2, trade.ID); err != nil {
		log.Fatalf("Failed to confirm payment: %v", err)
	}
	if _, err := svc.ConfirmReceipt(ctx, trader1, trade.ID); err != nil {
		log.Fatalf("Failed to confirm receipt: %v", err)
	}

	fmt.Println("Successfully seeded the store!")
}

func seedUser(ctx context.Context, authService *auth.AuthService, users p2p.UserRepository, username string, rating float64, verified bool, paymentMethods []string) models.User {
	user, err := authService.Register(ctx, username, "password")
	if err != nil {
		log.Fatalf("Failed to create %s: %v", username, err)
	}
	user.Rating = rating
	user.Verified = verified
	user.PaymentMethods = paymentMethods
	user.PreferredCurrencies = []string{"USD", "EUR"}
	users.Put(ctx, user)
	return user
}

func mustOrder(order models.Order, err error) models.Order {
	if err != nil {
		log.Fatalf("Failed to create order: %v", err)
	}
	return order
}
