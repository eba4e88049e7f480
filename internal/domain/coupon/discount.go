package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Calculate returns the discount c grants on amount. The result is rounded
// half-up to cents, capped by MaximumDiscount and by amount itself, and is
// never negative.
func Calculate(c *Coupon, amount decimal.Decimal) (decimal.Decimal, error) {
	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = amount.Mul(c.DiscountValue).Div(hundred).Round(2)
	case DiscountFixed:
		discount = c.DiscountValue
	default:
		return zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	if c.MaximumDiscount.Valid {
		discount = decimal.Min(discount, c.MaximumDiscount.Decimal)
	}
	discount = decimal.Min(discount, amount)

	return floorAtZero(discount).Round(2), nil
}

// Evaluate runs the eligibility checks for c in order, short-circuiting on
// the first failure, and computes the discount on success. userUses is the
// number of times the user has already redeemed c.
func Evaluate(c *Coupon, userUses int, amount decimal.Decimal, now time.Time) (*Result, error) {
	if !c.Active {
		return nil, ErrInactive
	}
	if now.Before(c.ValidFrom) {
		return nil, ErrNotYetValid
	}
	if now.After(c.ValidUntil) {
		return nil, ErrExpired
	}
	if c.UsageLimit != nil && c.TimesUsed >= *c.UsageLimit {
		return nil, ErrGlobalLimitReached
	}
	if c.UsageLimitPerUser != nil && userUses >= *c.UsageLimitPerUser {
		return nil, ErrPerUserLimitReached
	}
	if c.MinimumOrderValue.Valid && amount.LessThan(c.MinimumOrderValue.Decimal) {
		return nil, ErrBelowMinimumOrder.WithMessagef(
			"Minimum order value of $%s required for this coupon",
			c.MinimumOrderValue.Decimal.StringFixed(2),
		)
	}

	discount, err := Calculate(c, amount)
	if err != nil {
		return nil, err
	}

	return &Result{
		Coupon:         c,
		OrderAmount:    amount,
		DiscountAmount: discount,
		FinalAmount:    amount.Sub(discount),
	}, nil
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
