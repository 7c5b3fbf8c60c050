package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses
const (
	OrderActive     = "active"
	OrderProcessing = "processing"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
)

// Trade statuses
const (
	TradePending          = "pending"
	TradePaymentSent      = "payment_sent"
	TradePaymentConfirmed = "payment_confirmed"
	TradeCompleted        = "completed"
	TradeCancelled        = "cancelled"
	TradeDisputed         = "disputed"
)

// Escrow statuses
const (
	EscrowLocked   = "locked"
	EscrowReleased = "released"
	EscrowRefunded = "refunded"
)

// Message kinds
const (
	MessageText         = "text"
	MessagePaymentProof = "payment_proof"
	MessageSystem       = "system"
)

// SystemSenderID marks engine-authored conversation entries
const SystemSenderID = "system"

// User represents a registered identity
type User struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username"`
	PasswordHash        string    `json:"-"`
	Rating              float64   `json:"rating"`
	CompletedTrades     int       `json:"completed_trades"`
	Verified            bool      `json:"verified"`
	JoinDate            time.Time `json:"join_date"`
	PaymentMethods      []string  `json:"payment_methods"`
	PreferredCurrencies []string  `json:"preferred_currencies"`
}

// Order represents an advertised offer to buy or sell a currency amount at a price
type Order struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	OwnerUsername    string          `json:"owner_username"`
	Side             string          `json:"side"` // "buy" or "sell"
	Currency         string          `json:"currency"`
	Amount           decimal.Decimal `json:"amount"`
	Price            decimal.Decimal `json:"price"`
	TotalValue       decimal.Decimal `json:"total_value"` // amount * price
	PaymentMethods   []string        `json:"payment_methods"`
	MinAmount        decimal.Decimal `json:"min_amount"`
	MaxAmount        decimal.Decimal `json:"max_amount"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	TimeLimitMinutes int             `json:"time_limit_minutes"`
	Terms            string          `json:"terms,omitempty"`
	OwnerVerified    bool            `json:"owner_verified"`
	OwnerRating      float64         `json:"owner_rating"`
	OwnerTradeCount  int             `json:"owner_trade_count"`
}

// Trade represents a bilateral agreement instantiated from one order
type Trade struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	BuyerID        string          `json:"buyer_id"`
	BuyerUsername  string          `json:"buyer_username"`
	SellerID       string          `json:"seller_id"`
	SellerUsername string          `json:"seller_username"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	Price          decimal.Decimal `json:"price"`
	TotalValue     decimal.Decimal `json:"total_value"`
	PaymentMethod  string          `json:"payment_method"`
	Status         string          `json:"status"`
	EscrowStatus   string          `json:"escrow_status"`
	EscrowAmount   decimal.Decimal `json:"escrow_amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Messages       []Message       `json:"messages"`
}

// IsTerminal reports whether the trade has reached a final status
func (t Trade) IsTerminal() bool {
	switch t.Status {
	case TradePaymentConfirmed, TradeCompleted, TradeCancelled:
		return true
	}
	return false
}

// Participant reports whether the given user is the buyer or the seller
func (t Trade) Participant(userID string) bool {
	return t.BuyerID == userID || t.SellerID == userID
}

// Message represents one entry in a trade's conversation
type Message struct {
	ID             string    `json:"id"`
	TradeID        string    `json:"trade_id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Text           string    `json:"text"`
	Kind           string    `json:"kind"` // "text", "payment_proof" or "system"
	Timestamp      time.Time `json:"timestamp"`
	Attachments    []string  `json:"attachments,omitempty"`
}
