package checkout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/apperr"
	"github.com/xenking/qkart/internal/domain/coupon"
	"github.com/xenking/qkart/internal/domain/customer"
	"github.com/xenking/qkart/internal/domain/loyalty"
	"github.com/xenking/qkart/internal/domain/order"
	"github.com/xenking/qkart/internal/domain/product"
)

// DefaultDeliveryDays is the estimated delivery lead time for new orders.
const DefaultDeliveryDays = 5

// ErrEmptyCart is returned when the user's cart is missing or has no lines.
var ErrEmptyCart = apperr.New(apperr.KindValidation, "cart_empty", "Cart is empty")

// ProductNotFoundError indicates a cart line references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error {
	return product.ErrNotFound
}

// Request is the input of a checkout.
type Request struct {
	UserID            string
	ShippingAddressID string
	PaymentMethod     string
	// CouponCode is optional; blank means no coupon.
	CouponCode string
}

// Transactor runs fn in a single unit of work. Nested calls join the
// outer unit.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CouponRedeemer validates a coupon under its lock and records its use.
type CouponRedeemer interface {
	Reserve(ctx context.Context, code, userID string, amount decimal.Decimal) (*coupon.Result, error)
	Redeem(ctx context.Context, res *coupon.Result, userID, orderID string) error
}

// PointsEarner credits loyalty points for an order.
type PointsEarner interface {
	EarnPoints(ctx context.Context, userID string, orderTotal decimal.Decimal, orderID string) (*loyalty.Transaction, error)
}

// OrderStore persists new orders.
type OrderStore interface {
	Create(ctx context.Context, o *order.Order) error
}

// Notifier is told about orders after they are committed. It must not
// block on delivery.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *order.Order, u *customer.User)
}
