package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/apperr"
)

// Status is a step in the order lifecycle.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// lifecycle lists the forward path. CANCELLED sits outside it.
var lifecycle = [...]Status{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
}

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "order_not_found", "Order not found")
	ErrEmptyItems        = apperr.New(apperr.KindValidation, "order_empty_items", "Order must contain at least one item")
	ErrInvalidTransition = apperr.New(apperr.KindValidation, "order_invalid_transition", "Invalid order status transition")
	ErrInvalidStatus     = apperr.New(apperr.KindValidation, "order_invalid_status", "Invalid order status")
	ErrInvalidDiscount   = apperr.New(apperr.KindValidation, "order_invalid_discount", "Discount must be between 0 and the subtotal")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error {
	return ErrInvalidQuantity
}

// ErrInvalidQuantity classifies InvalidQuantityError.
var ErrInvalidQuantity = apperr.New(apperr.KindValidation, "order_invalid_quantity", "Quantity must be greater than 0")

// ParseStatus converts a stored or user-supplied value into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st == StatusCancelled || st.rank() >= 0 {
		return st, nil
	}
	return "", ErrInvalidStatus.WithMessagef("Invalid order status %q", s)
}

func (s Status) rank() int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order may move from one status to
// another: forward along the lifecycle, possibly skipping steps, or into
// CANCELLED from any non-terminal status.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	if to == StatusCancelled {
		return from.rank() >= 0
	}
	fromRank, toRank := from.rank(), to.rank()
	return fromRank >= 0 && toRank > fromRank
}

// Item is an order line. PriceAtPurchase is the unit price snapshotted at
// checkout and never updated.
type Item struct {
	ProductID       string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// LineTotal returns PriceAtPurchase * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the shipping address an order is delivered to.
type Address struct {
	FullName   string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// Order is a placed customer order. Items are immutable after creation;
// only status-related fields change afterwards. ShippingAddress is loaded
// alongside the order and is nil when it was not.
type Order struct {
	ID                    string
	UserID                string
	Items                 []Item
	ShippingAddressID     string
	ShippingAddress       *Address
	Subtotal              decimal.Decimal
	CouponCode            string
	DiscountAmount        decimal.Decimal
	TotalAmount           decimal.Decimal
	PaymentMethod         string
	Status                Status
	TrackingNumber        *string
	Carrier               *string
	EstimatedDeliveryDate *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ConfirmedAt           *time.Time
	ShippedAt             *time.Time
	DeliveredAt           *time.Time
	CancelledAt           *time.Time
}

// NewParams holds the input for New.
type NewParams struct {
	UserID            string
	ShippingAddressID string
	Items             []Item
	CouponCode        string
	DiscountAmount    decimal.Decimal
	PaymentMethod     string
	// Status is the initial status, PENDING or CONFIRMED.
	Status                Status
	EstimatedDeliveryDate *time.Time
}

// New builds an order, computing Subtotal from the items and TotalAmount as
// Subtotal minus DiscountAmount.
func New(p NewParams, now time.Time) (*Order, error) {
	if len(p.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if p.Status != StatusPending && p.Status != StatusConfirmed {
		return nil, ErrInvalidStatus.WithMessagef("Order cannot start in status %s", p.Status)
	}

	subtotal := decimal.Zero
	items := make([]Item, len(p.Items))
	for i, item := range p.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		items[i] = item
		subtotal = subtotal.Add(item.LineTotal())
	}
	subtotal = subtotal.Round(2)

	discount := p.DiscountAmount.Round(2)
	if discount.IsNegative() || discount.GreaterThan(subtotal) {
		return nil, ErrInvalidDiscount
	}

	o := &Order{
		ID:                    uuid.New().String(),
		UserID:                p.UserID,
		Items:                 items,
		ShippingAddressID:     p.ShippingAddressID,
		Subtotal:              subtotal,
		CouponCode:            p.CouponCode,
		DiscountAmount:        discount,
		TotalAmount:           subtotal.Sub(discount),
		PaymentMethod:         p.PaymentMethod,
		Status:                p.Status,
		EstimatedDeliveryDate: p.EstimatedDeliveryDate,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if p.Status == StatusConfirmed {
		o.ConfirmedAt = &now
	}
	return o, nil
}

// StatusUpdate carries optional shipment details set alongside a status
// change.
type StatusUpdate struct {
	TrackingNumber *string
	Carrier        *string
}

// SetStatus moves o to the given status and stamps the timestamp that
// belongs to it. Tracking details are applied whenever supplied.
func (o *Order) SetStatus(to Status, upd StatusUpdate, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return ErrInvalidTransition.WithMessagef("Cannot transition order from %s to %s", o.Status, to)
	}

	switch to {
	case StatusConfirmed:
		o.ConfirmedAt = &now
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	case StatusPending, StatusProcessing, StatusOutForDelivery:
	}

	if upd.TrackingNumber != nil {
		o.TrackingNumber = upd.TrackingNumber
	}
	if upd.Carrier != nil {
		o.Carrier = upd.Carrier
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// LockByID is Get holding the order row lock until the surrounding
	// transaction ends.
	LockByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	UpdateStatus(ctx context.Context, o *Order) error
}
