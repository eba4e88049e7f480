package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/qkart/internal/domain/order"
)

// DefaultCurrency is used when neither the request nor the options name one.
const DefaultCurrency = "usd"

// Transactor runs fn in a single unit of work.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Orders is the order side of payments.
type Orders interface {
	GetForUser(ctx context.Context, userID, id string) (*order.Order, error)
	ConfirmPending(ctx context.Context, id string) (*order.Order, bool, error)
}

// Options configure Service.
type Options struct {
	Currency string
	// Deduper is optional. Without it every delivery of an event is handled.
	Deduper Deduper
}

// Service creates payment intents and applies gateway webhook events.
type Service struct {
	gateway  Gateway
	payments Repository
	orders   Orders
	tx       Transactor
	dedup    Deduper
	currency string
	now      func() time.Time
}

// NewService creates a payment Service.
func NewService(gateway Gateway, payments Repository, orders Orders, tx Transactor, opts Options) *Service {
	currency := strings.ToLower(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Service{
		gateway:  gateway,
		payments: payments,
		orders:   orders,
		tx:       tx,
		dedup:    opts.Deduper,
		currency: currency,
		now:      time.Now,
	}
}

// CreateIntentRequest is the input of CreateIntent. When OrderID is set the
// order total is charged and Amount is ignored.
type CreateIntentRequest struct {
	UserID   string
	OrderID  string
	Amount   decimal.Decimal
	Currency string
}

// CreateIntent opens a gateway payment intent and stores it as PENDING.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Payment, error) {
	amount := req.Amount
	var orderID *string
	if req.OrderID != "" {
		o, err := s.orders.GetForUser(ctx, req.UserID, req.OrderID)
		if err != nil {
			return nil, errors.Wrap(err, "load order")
		}
		if o.Status.IsTerminal() {
			return nil, ErrOrderNotPayable.WithMessagef("Order in status %s cannot be paid", o.Status)
		}
		amount = o.TotalAmount
		orderID = &o.ID
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	id := uuid.New().String()
	metadata := map[string]string{
		"payment_id": id,
		"user_id":    req.UserID,
	}
	if orderID != nil {
		metadata["order_id"] = *orderID
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, IntentRequest{
		Amount:   amount,
		Currency: currency,
		Metadata: metadata,
	})
	if err != nil {
		zctx.From(ctx).Warn("Payment intent creation failed",
			zap.String("correlation_id", id),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("currency", currency),
			zap.Error(err),
		)
		return nil, &GatewayError{Amount: amount, Currency: currency, CorrelationID: id, Err: err}
	}

	now := s.now()
	p := &Payment{
		ID:           id,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		UserID:       req.UserID,
		OrderID:      orderID,
		Amount:       amount,
		Currency:     currency,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "store payment")
	}
	return p, nil
}

// Status returns the user's payment for a gateway intent.
func (s *Service) Status(ctx context.Context, userID, intentID string) (*Payment, error) {
	p, err := s.payments.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, errors.Wrap(err, "get payment")
	}
	if p.UserID != userID {
		return nil, ErrNotFound
	}
	return p, nil
}

// HandleWebhook verifies and applies a gateway event. Events for unknown
// intents and unhandled event types are acknowledged without effect.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		return errors.Wrap(err, "parse event")
	}
	lg := zctx.From(ctx).With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("intent_id", ev.IntentID),
	)

	var next Status
	switch ev.Type {
	case EventSucceeded:
		next = StatusSucceeded
	case EventFailed:
		next = StatusFailed
	case EventCanceled:
		next = StatusCancelled
	default:
		lg.Debug("Ignoring webhook event")
		return nil
	}

	if s.dedup != nil && ev.ID != "" {
		first, err := s.dedup.Claim(ctx, ev.ID)
		switch {
		case err != nil:
			lg.Warn("Webhook dedup unavailable", zap.Error(err))
		case !first:
			lg.Info("Duplicate webhook event skipped")
			return nil
		}
	}

	if err := s.apply(ctx, ev, next); err != nil {
		if s.dedup != nil && ev.ID != "" {
			if rerr := s.dedup.Release(ctx, ev.ID); rerr != nil {
				lg.Warn("Release webhook event", zap.Error(rerr))
			}
		}
		return errors.Wrap(err, "apply event")
	}
	return nil
}

func (s *Service) apply(ctx context.Context, ev *Event, next Status) error {
	lg := zctx.From(ctx)
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.LockByIntentID(ctx, ev.IntentID)
		if errors.Is(err, ErrNotFound) {
			lg.Warn("Webhook for unknown payment intent", zap.String("intent_id", ev.IntentID))
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lock payment")
		}
		if p.Status == StatusSucceeded {
			return nil
		}

		p.Status = next
		switch next {
		case StatusSucceeded:
			if ev.PaymentMethod != "" {
				p.PaymentMethod = &ev.PaymentMethod
			}
			p.FailureMessage = nil
		case StatusFailed:
			msg := ev.FailureMessage
			if msg == "" {
				msg = "Payment failed"
			}
			p.FailureMessage = &msg
		case StatusPending, StatusCancelled:
		}
		p.UpdatedAt = s.now()
		if err := s.payments.Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}

		if next == StatusSucceeded && p.OrderID != nil {
			o, confirmed, err := s.orders.ConfirmPending(ctx, *p.OrderID)
			if err != nil {
				return errors.Wrap(err, "confirm order")
			}
			if confirmed {
				lg.Info("Order confirmed by payment", zap.String("order_id", o.ID), zap.String("payment_id", p.ID))
			}
		}
		return nil
	})
}
