package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/apperr"
)

// Status of a payment attempt.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// EventType is a gateway webhook event type.
type EventType string

const (
	EventSucceeded EventType = "payment_intent.succeeded"
	EventFailed    EventType = "payment_intent.payment_failed"
	EventCanceled  EventType = "payment_intent.canceled"
)

var (
	ErrNotFound         = apperr.New(apperr.KindNotFound, "payment_not_found", "Payment not found")
	ErrInvalidAmount    = apperr.New(apperr.KindValidation, "payment_invalid_amount", "Payment amount must be greater than 0")
	ErrOrderNotPayable  = apperr.New(apperr.KindValidation, "payment_order_not_payable", "Order cannot be paid")
	ErrInvalidSignature = apperr.New(apperr.KindExternal, "webhook_signature", "Invalid webhook signature")
	ErrGateway          = apperr.New(apperr.KindExternal, "payment_gateway", "Payment gateway request failed")
)

// Payment is a stored payment intent, correlated to gateway events by
// IntentID.
type Payment struct {
	ID             string
	IntentID       string
	ClientSecret   string
	UserID         string
	OrderID        *string
	Amount         decimal.Decimal
	Currency       string
	Status         Status
	PaymentMethod  *string
	FailureMessage *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IntentRequest asks the gateway for a new payment intent.
type IntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

// Intent is a gateway payment intent.
type Intent struct {
	ID           string
	ClientSecret string
}

// Event is a verified gateway webhook event.
type Event struct {
	ID             string
	Type           EventType
	IntentID       string
	PaymentMethod  string
	FailureMessage string
}

// Gateway is the payment provider.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// ParseEvent verifies the payload signature and decodes the event.
	// Verification failures wrap ErrInvalidSignature.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// Repository persists payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)
	// LockByIntentID is GetByIntentID holding the row lock until the
	// surrounding transaction ends.
	LockByIntentID(ctx context.Context, intentID string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}

// Deduper remembers processed webhook event ids.
type Deduper interface {
	// Claim returns false if the event was already claimed.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets a claim so the event can be processed again.
	Release(ctx context.Context, eventID string) error
}

// GatewayError describes a failed gateway call with enough context to
// retry it.
type GatewayError struct {
	Amount        decimal.Decimal
	Currency      string
	CorrelationID string
	Err           error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: amount %s %s, correlation id %s: %v",
		e.Amount.StringFixed(2), e.Currency, e.CorrelationID, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return ErrGateway
}
