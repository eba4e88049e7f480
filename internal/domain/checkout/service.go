package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/qkart/internal/domain/apperr"
	"github.com/xenking/qkart/internal/domain/cart"
	"github.com/xenking/qkart/internal/domain/coupon"
	"github.com/xenking/qkart/internal/domain/customer"
	"github.com/xenking/qkart/internal/domain/order"
	"github.com/xenking/qkart/internal/domain/product"
)

const instrumentationName = "github.com/xenking/qkart/internal/domain/checkout"

// Deps are the collaborators of Service.
type Deps struct {
	Tx        Transactor
	Customers customer.Repository
	Carts     cart.Repository
	Products  product.Repository
	Orders    OrderStore
	Coupons   CouponRedeemer
	Loyalty   PointsEarner
	// Notifier is optional.
	Notifier Notifier
}

// Options configure Service.
type Options struct {
	DeliveryDays   int
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service turns a cart into a confirmed order.
type Service struct {
	deps         Deps
	deliveryDays int
	now          func() time.Time

	tracer            trace.Tracer
	completed         metric.Int64Counter
	failed            metric.Int64Counter
	couponRedemptions metric.Int64Counter
	pointsEarned      metric.Int64Counter
}

// NewService creates a checkout Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	if opts.DeliveryDays <= 0 {
		opts.DeliveryDays = DefaultDeliveryDays
	}
	if opts.TracerProvider == nil || opts.MeterProvider == nil {
		return nil, errors.New("tracer and meter providers are required")
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	s := &Service{
		deps:         deps,
		deliveryDays: opts.DeliveryDays,
		now:          time.Now,
		tracer:       opts.TracerProvider.Tracer(instrumentationName),
	}

	var err error
	if s.completed, err = meter.Int64Counter("qkart.checkout.completed",
		metric.WithDescription("Number of completed checkouts"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout.completed counter")
	}
	if s.failed, err = meter.Int64Counter("qkart.checkout.failed",
		metric.WithDescription("Number of failed checkouts by error kind"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout.failed counter")
	}
	if s.couponRedemptions, err = meter.Int64Counter("qkart.coupon.redemptions",
		metric.WithDescription("Number of coupons redeemed at checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "coupon.redemptions counter")
	}
	if s.pointsEarned, err = meter.Int64Counter("qkart.loyalty.points_earned",
		metric.WithDescription("Loyalty points credited at checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "loyalty.points_earned counter")
	}
	return s, nil
}

// Checkout places an order for the user's cart. Loading, pricing, coupon
// redemption, order creation, loyalty credit and clearing the cart happen
// in one unit of work: on any error nothing is persisted.
func (s *Service) Checkout(ctx context.Context, req Request) (*order.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.String("qkart.user_id", req.UserID)),
	)
	defer span.End()

	var (
		placed *order.Order
		user   *customer.User
		addr   *customer.Address
		earned int64
		code   string
	)
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if user, addr, err = s.loadCustomer(ctx, req); err != nil {
			return err
		}

		snap, err := s.deps.Carts.LoadForUpdate(ctx, req.UserID)
		switch {
		case errors.Is(err, cart.ErrNotFound):
			return ErrEmptyCart
		case err != nil:
			return errors.Wrap(err, "load cart")
		case snap.IsEmpty():
			return ErrEmptyCart
		}

		items, subtotal, err := s.priceLines(ctx, snap)
		if err != nil {
			return err
		}

		var applied *coupon.Result
		discount := decimal.Zero
		if c := strings.TrimSpace(req.CouponCode); c != "" {
			if applied, err = s.deps.Coupons.Reserve(ctx, c, req.UserID, subtotal); err != nil {
				return errors.Wrap(err, "apply coupon")
			}
			discount = applied.DiscountAmount
			code = applied.Coupon.Code
		}

		now := s.now()
		eta := now.AddDate(0, 0, s.deliveryDays)
		if placed, err = order.New(order.NewParams{
			UserID:                req.UserID,
			ShippingAddressID:     req.ShippingAddressID,
			Items:                 items,
			CouponCode:            code,
			DiscountAmount:        discount,
			PaymentMethod:         req.PaymentMethod,
			Status:                order.StatusConfirmed,
			EstimatedDeliveryDate: &eta,
		}, now); err != nil {
			return err
		}
		placed.ShippingAddress = &order.Address{
			FullName:   addr.FullName,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		}
		if err := s.deps.Orders.Create(ctx, placed); err != nil {
			return errors.Wrap(err, "create order")
		}

		if applied != nil {
			if err := s.deps.Coupons.Redeem(ctx, applied, req.UserID, placed.ID); err != nil {
				return errors.Wrap(err, "redeem coupon")
			}
		}

		t, err := s.deps.Loyalty.EarnPoints(ctx, req.UserID, placed.TotalAmount, placed.ID)
		if err != nil {
			return errors.Wrap(err, "earn points")
		}
		earned = t.Points

		if err := s.deps.Carts.Clear(ctx, snap.CartID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		return nil
	})
	if err != nil {
		kind := apperr.KindOf(err)
		s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		if kind == apperr.KindInternal {
			zctx.From(ctx).Error("Checkout failed", zap.String("user_id", req.UserID), zap.Error(err))
		}
		return nil, errors.Wrap(err, "checkout")
	}

	s.completed.Add(ctx, 1)
	s.pointsEarned.Add(ctx, earned)
	if code != "" {
		s.couponRedemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
	span.SetAttributes(attribute.String("qkart.order_id", placed.ID))

	zctx.From(ctx).Info("Checkout completed",
		zap.String("order_id", placed.ID),
		zap.String("user_id", req.UserID),
		zap.String("total", placed.TotalAmount.StringFixed(2)),
		zap.String("coupon", code),
		zap.Int64("points_earned", earned),
	)

	if s.deps.Notifier != nil {
		s.deps.Notifier.OrderConfirmed(ctx, placed, user)
	}
	return placed, nil
}

func (s *Service) loadCustomer(ctx context.Context, req Request) (*customer.User, *customer.Address, error) {
	user, err := s.deps.Customers.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load user")
	}
	addr, err := s.deps.Customers.GetAddress(ctx, req.ShippingAddressID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load address")
	}
	if addr.UserID != req.UserID {
		return nil, nil, customer.ErrAddressNotFound
	}
	return user, addr, nil
}

// priceLines snapshots the current price of every cart line.
func (s *Service) priceLines(ctx context.Context, snap *cart.Snapshot) ([]order.Item, decimal.Decimal, error) {
	products, err := s.deps.Products.GetByIDs(ctx, snap.ProductIDs())
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "load products")
	}
	prices := make(map[string]decimal.Decimal, len(products))
	for _, p := range products {
		prices[p.ID] = p.Price
	}

	items := make([]order.Item, 0, len(snap.Lines))
	subtotal := decimal.Zero
	for _, l := range snap.Lines {
		if l.Quantity <= 0 {
			return nil, decimal.Zero, &order.InvalidQuantityError{ProductID: l.ProductID}
		}
		price, ok := prices[l.ProductID]
		if !ok {
			return nil, decimal.Zero, &ProductNotFoundError{ProductID: l.ProductID}
		}
		item := order.Item{ProductID: l.ProductID, Quantity: l.Quantity, PriceAtPurchase: price}
		items = append(items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}
	return items, subtotal.Round(2), nil
}
