package p2p

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/peertrade/internal/models"
)

// DefaultFeeRate is the proportional platform fee charged on trade amount (0.1%)
var DefaultFeeRate = decimal.NewFromFloat(0.001)

// Service implements the order book, the trade engine and the conversation log.
// The acting identity is threaded explicitly into every call; there is no
// process-wide current user.
type Service struct {
	orders  OrderRepository
	trades  TradeRepository
	users   UserRepository
	feeRate decimal.Decimal
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a new service over the given repositories
func NewService(orders OrderRepository, trades TradeRepository, users UserRepository, log *zap.Logger) *Service {
	return &Service{
		orders:  orders,
		trades:  trades,
		users:   users,
		feeRate: DefaultFeeRate,
		log:     log,
		now:     time.Now,
	}
}

// CreateOrderInput holds the caller-supplied fields of a new order.
// MinAmount defaults to zero and MaxAmount to the full order amount.
type CreateOrderInput struct {
	Side             string
	Currency         string
	Amount           decimal.Decimal
	Price            decimal.Decimal
	PaymentMethods   []string
	MinAmount        decimal.Decimal
	MaxAmount        decimal.Decimal
	TimeLimitMinutes int
	Terms            string
}

// OrderFilter narrows and sorts the result of ListOrders. The amount range
// matches orders whose own [min, max] limits overlap [AmountFrom, AmountTo].
type OrderFilter struct {
	Side       string
	Currency   string
	AmountFrom decimal.Decimal
	AmountTo   decimal.Decimal
	SortBy     string // "price", "amount", "rating" or "created"
	Descending bool
}

// CreateOrder publishes a new order owned by actor. The owner's rating, trade
// count and verified flag are snapshotted so later profile changes do not
// alter already-published orders.
func (s *Service) CreateOrder(ctx context.Context, actor models.User, in CreateOrderInput) (models.Order, error) {
	if in.Side != models.SideBuy && in.Side != models.SideSell {
		return models.Order{}, fmt.Errorf("%w: side must be %q or %q", ErrValidation, models.SideBuy, models.SideSell)
	}
	if in.Currency == "" {
		return models.Order{}, fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return models.Order{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !in.Price.IsPositive() {
		return models.Order{}, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if len(in.PaymentMethods) == 0 {
		return models.Order{}, fmt.Errorf("%w: at least one payment method is required", ErrValidation)
	}
	if in.TimeLimitMinutes <= 0 {
		return models.Order{}, fmt.Errorf("%w: time limit must be positive", ErrValidation)
	}

	minAmount := in.MinAmount
	if minAmount.IsNegative() {
		return models.Order{}, fmt.Errorf("%w: min amount cannot be negative", ErrValidation)
	}
	maxAmount := in.MaxAmount
	if maxAmount.IsZero() {
		maxAmount = in.Amount
	}
	if minAmount.GreaterThan(maxAmount) {
		return models.Order{}, fmt.Errorf("%w: min amount exceeds max amount", ErrValidation)
	}
	if maxAmount.GreaterThan(in.Amount) {
		return models.Order{}, fmt.Errorf("%w: max amount exceeds order amount", ErrValidation)
	}

	order := models.Order{
		ID:               uuid.NewString(),
		OwnerID:          actor.ID,
		OwnerUsername:    actor.Username,
		Side:             in.Side,
		Currency:         in.Currency,
		Amount:           in.Amount,
		Price:            in.Price,
		TotalValue:       in.Amount.Mul(in.Price),
		PaymentMethods:   in.PaymentMethods,
		MinAmount:        minAmount,
		MaxAmount:        maxAmount,
		Status:           models.OrderActive,
		CreatedAt:        s.now(),
		TimeLimitMinutes: in.TimeLimitMinutes,
		Terms:            in.Terms,
		OwnerVerified:    actor.Verified,
		OwnerRating:      actor.Rating,
		OwnerTradeCount:  actor.CompletedTrades,
	}
	s.orders.Put(ctx, order)

	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("owner", actor.Username),
		zap.String("side", order.Side),
		zap.String("currency", order.Currency))
	return order, nil
}

// ListOrders returns active orders not owned by actor, optionally narrowed
// and sorted by filter. Ties sort stably in creation order.
func (s *Service) ListOrders(ctx context.Context, actor models.User, filter *OrderFilter) []models.Order {
	var out []models.Order
	for _, o := range s.orders.All() {
		if o.Status != models.OrderActive || o.OwnerID == actor.ID {
			continue
		}
		if filter != nil && !matchesFilter(o, filter) {
			continue
		}
		out = append(out, o)
	}
	if filter != nil {
		sortOrders(out, filter)
	}
	return out
}

func matchesFilter(o models.Order, f *OrderFilter) bool {
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Currency != "" && o.Currency != f.Currency {
		return false
	}
	// Amount range must overlap the order's own [min, max] limits.
	if !f.AmountFrom.IsZero() && o.MaxAmount.LessThan(f.AmountFrom) {
		return false
	}
	if !f.AmountTo.IsZero() && o.MinAmount.GreaterThan(f.AmountTo) {
		return false
	}
	return true
}

func sortOrders(orders []models.Order, f *OrderFilter) {
	var less func(a, b models.Order) bool
	switch f.SortBy {
	case "price":
		less = func(a, b models.Order) bool { return a.Price.LessThan(b.Price) }
	case "amount":
		less = func(a, b models.Order) bool { return a.Amount.LessThan(b.Amount) }
	case "rating":
		less = func(a, b models.Order) bool { return a.OwnerRating < b.OwnerRating }
	case "created":
		less = func(a, b models.Order) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default:
		return
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if f.Descending {
			return less(orders[j], orders[i])
		}
		return less(orders[i], orders[j])
	})
}

// ListMyOrders returns every order owned by actor regardless of status
func (s *Service) ListMyOrders(ctx context.Context, actor models.User) []models.Order {
	var out []models.Order
	for _, o := range s.orders.All() {
		if o.OwnerID == actor.ID {
			out = append(out, o)
		}
	}
	return out
}

// CancelOrder retires an active order. Only the owner may cancel, and only
// while the order is still active.
func (s *Service) CancelOrder(ctx context.Context, actor models.User, orderID string) (models.Order, error) {
	order, ok := s.orders.Get(orderID)
	if !ok {
		return models.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if order.OwnerID != actor.ID {
		return models.Order{}, fmt.Errorf("%w: only the owner can cancel an order", ErrUnauthorized)
	}
	if order.Status != models.OrderActive {
		return models.Order{}, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	order.Status = models.OrderCancelled
	s.orders.Put(ctx, order)

	s.log.Info("order cancelled", zap.String("order_id", order.ID), zap.String("owner", actor.Username))
	return order, nil
}

// ActiveOrders returns every active order, regardless of owner. Used by the
// order feed broadcast.
func (s *Service) ActiveOrders(ctx context.Context) []models.Order {
	var out []models.Order
	for _, o := range s.orders.All() {
		if o.Status == models.OrderActive {
			out = append(out, o)
		}
	}
	return out
}

// AcceptOrder creates a trade from an active order. Buyer and seller roles
// derive from the order side: the owner of a sell order is the seller and the
// acceptor the buyer, and vice versa. Escrow locks at creation: the traded
// amount for a sell order, its counter value for a buy order.
func (s *Service) AcceptOrder(ctx context.Context, actor models.User, orderID string, amount decimal.Decimal, paymentMethod string) (models.Trade, error) {
	if !amount.IsPositive() {
		return models.Trade{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	order, ok := s.orders.Get(orderID)
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if order.OwnerID == actor.ID {
		return models.Trade{}, ErrSelfTrade
	}
	if order.Status != models.OrderActive {
		return models.Trade{}, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}
	if amount.LessThan(order.MinAmount) || amount.GreaterThan(order.MaxAmount) {
		return models.Trade{}, fmt.Errorf("%w: amount must be between %s and %s",
			ErrAmountOutOfRange, order.MinAmount, order.MaxAmount)
	}
	if !contains(order.PaymentMethods, paymentMethod) {
		return models.Trade{}, fmt.Errorf("%w: %s", ErrUnsupportedPaymentMethod, paymentMethod)
	}

	var buyer, seller struct{ id, username string }
	if order.Side == models.SideSell {
		seller.id, seller.username = order.OwnerID, order.OwnerUsername
		buyer.id, buyer.username = actor.ID, actor.Username
	} else {
		buyer.id, buyer.username = order.OwnerID, order.OwnerUsername
		seller.id, seller.username = actor.ID, actor.Username
	}

	escrowAmount := amount
	if order.Side == models.SideBuy {
		escrowAmount = amount.Mul(order.Price)
	}

	now := s.now()
	trade := models.Trade{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		BuyerID:        buyer.id,
		BuyerUsername:  buyer.username,
		SellerID:       seller.id,
		SellerUsername: seller.username,
		Currency:       order.Currency,
		Amount:         amount,
		Price:          order.Price,
		TotalValue:     amount.Mul(order.Price),
		PaymentMethod:  paymentMethod,
		Status:         models.TradePending,
		EscrowStatus:   models.EscrowLocked,
		EscrowAmount:   escrowAmount,
		PlatformFee:    amount.Mul(s.feeRate),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(order.TimeLimitMinutes) * time.Minute),
	}
	trade.Messages = []models.Message{s.systemMessage(trade.ID,
		fmt.Sprintf("Escrow locked. %s must send payment within %d minutes.",
			trade.BuyerUsername, order.TimeLimitMinutes))}

	// A full take marks the order processing. Partial takes leave the order
	// active without reducing its amount; the remaining balance is not
	// tracked, so an order can be over-accepted.
	if amount.GreaterThanOrEqual(order.Amount) {
		order.Status = models.OrderProcessing
		s.orders.Put(ctx, order)
	}
	s.trades.Put(ctx, trade)

	s.log.Info("trade created",
		zap.String("trade_id", trade.ID),
		zap.String("order_id", order.ID),
		zap.String("buyer", trade.BuyerUsername),
		zap.String("seller", trade.SellerUsername),
		zap.String("amount", amount.String()))
	return trade, nil
}

// GetTradeByID returns a trade by id
func (s *Service) GetTradeByID(ctx context.Context, tradeID string) (models.Trade, error) {
	trade, ok := s.trades.Get(tradeID)
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
	}
	return trade, nil
}

// ListMyTrades returns every trade where actor is buyer or seller
func (s *Service) ListMyTrades(ctx context.Context, actor models.User) []models.Trade {
	var out []models.Trade
	for _, t := range s.trades.All() {
		if t.Participant(actor.ID) {
			out = append(out, t)
		}
	}
	return out
}

// ConfirmPayment marks the buyer's payment as sent. Buyer only, from pending.
func (s *Service) ConfirmPayment(ctx context.Context, actor models.User, tradeID string) (models.Trade, error) {
	trade, ok := s.trades.Get(tradeID)
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
	}
	if actor.ID != trade.BuyerID {
		return models.Trade{}, fmt.Errorf("%w: only the buyer can confirm payment", ErrUnauthorized)
	}
	if trade.Status != models.TradePending {
		return models.Trade{}, fmt.Errorf("%w: trade is %s", ErrInvalidState, trade.Status)
	}

	trade.Status = models.TradePaymentSent
	trade.Messages = append(trade.Messages, s.systemMessage(trade.ID,
		fmt.Sprintf("%s marked the payment as sent. Waiting for %s to confirm receipt.",
			trade.BuyerUsername, trade.SellerUsername)))
	s.trades.Put(ctx, trade)

	s.log.Info("payment confirmed", zap.String("trade_id", trade.ID), zap.String("buyer", actor.Username))
	return trade, nil
}

// ConfirmReceipt settles the trade and releases escrow. Seller only, from
// payment_sent. Both parties' completed trade counters increment.
func (s *Service) ConfirmReceipt(ctx context.Context, actor models.User, tradeID string) (models.Trade, error) {
	trade, ok := s.trades.Get(tradeID)
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
	}
	if actor.ID != trade.SellerID {
		return models.Trade{}, fmt.Errorf("%w: only the seller can confirm receipt", ErrUnauthorized)
	}
	if trade.Status != models.TradePaymentSent {
		return models.Trade{}, fmt.Errorf("%w: trade is %s", ErrInvalidState, trade.Status)
	}

	now := s.now()
	trade.Status = models.TradePaymentConfirmed
	trade.EscrowStatus = models.EscrowReleased
	trade.CompletedAt = &now
	trade.Messages = append(trade.Messages, s.systemMessage(trade.ID,
		fmt.Sprintf("%s confirmed receipt. Escrow released.", trade.SellerUsername)))
	s.trades.Put(ctx, trade)

	s.bumpCompletedTrades(ctx, trade.BuyerID)
	s.bumpCompletedTrades(ctx, trade.SellerID)

	s.log.Info("trade settled", zap.String("trade_id", trade.ID), zap.String("seller", actor.Username))
	return trade, nil
}

// CancelTrade cancels a non-terminal trade and refunds escrow. Either party
// may cancel from pending or payment_sent.
func (s *Service) CancelTrade(ctx context.Context, actor models.User, tradeID, reason string) (models.Trade, error) {
	trade, ok := s.trades.Get(tradeID)
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
	}
	if !trade.Participant(actor.ID) {
		return models.Trade{}, fmt.Errorf("%w: only a trade party can cancel", ErrUnauthorized)
	}
	if trade.Status != models.TradePending && trade.Status != models.TradePaymentSent {
		return models.Trade{}, fmt.Errorf("%w: trade is %s", ErrInvalidState, trade.Status)
	}

	trade.Status = models.TradeCancelled
	trade.EscrowStatus = models.EscrowRefunded
	trade.Messages = append(trade.Messages, s.systemMessage(trade.ID,
		fmt.Sprintf("Trade cancelled by %s: %s. Escrow refunded.", actor.Username, reason)))
	s.trades.Put(ctx, trade)

	s.log.Info("trade cancelled",
		zap.String("trade_id", trade.ID),
		zap.String("by", actor.Username),
		zap.String("reason", reason))
	return trade, nil
}

// SendMessage appends a user message to the trade's conversation. Messages
// with attachments are recorded as payment proof. Terminal trades still
// accept messages; restricting that is left to the caller.
func (s *Service) SendMessage(ctx context.Context, actor models.User, tradeID, text string, attachments []string) (models.Message, error) {
	trade, ok := s.trades.Get(tradeID)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
	}
	if !trade.Participant(actor.ID) {
		return models.Message{}, fmt.Errorf("%w: only a trade party can send messages", ErrUnauthorized)
	}

	kind := models.MessageText
	if len(attachments) > 0 {
		kind = models.MessagePaymentProof
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		TradeID:        trade.ID,
		SenderID:       actor.ID,
		SenderUsername: actor.Username,
		Text:           text,
		Kind:           kind,
		Timestamp:      s.now(),
		Attachments:    attachments,
	}
	trade.Messages = append(trade.Messages, msg)
	s.trades.Put(ctx, trade)
	return msg, nil
}

func (s *Service) systemMessage(tradeID, text string) models.Message {
	return models.Message{
		ID:             uuid.NewString(),
		TradeID:        tradeID,
		SenderID:       models.SystemSenderID,
		SenderUsername: models.SystemSenderID,
		Text:           text,
		Kind:           models.MessageSystem,
		Timestamp:      s.now(),
	}
}

func (s *Service) bumpCompletedTrades(ctx context.Context, userID string) {
	user, ok := s.users.Get(userID)
	if !ok {
		return
	}
	user.CompletedTrades++
	s.users.Put(ctx, user)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
