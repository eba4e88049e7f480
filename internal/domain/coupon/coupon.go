package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/apperr"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed takes a fixed monetary amount off the order.
	DiscountFixed DiscountType = "FIXED"
)

// ParseDiscountType converts a stored or user-supplied value into a
// DiscountType. Matching is case-insensitive.
func ParseDiscountType(s string) (DiscountType, error) {
	switch t := DiscountType(strings.ToUpper(strings.TrimSpace(s))); t {
	case DiscountPercentage, DiscountFixed:
		return t, nil
	default:
		return "", ErrInvalidDefinition.WithMessagef("Unsupported discount type %q", s)
	}
}

var (
	// ErrNotFound is returned by repositories when no coupon has the code.
	ErrNotFound = apperr.New(apperr.KindNotFound, "coupon_not_found", "Coupon not found")

	ErrInvalidCode         = apperr.New(apperr.KindValidation, "coupon_invalid_code", "Invalid coupon code")
	ErrInactive            = apperr.New(apperr.KindValidation, "coupon_inactive", "This coupon is no longer active")
	ErrNotYetValid         = apperr.New(apperr.KindValidation, "coupon_not_yet_valid", "This coupon is not yet valid")
	ErrExpired             = apperr.New(apperr.KindValidation, "coupon_expired", "This coupon has expired")
	ErrGlobalLimitReached  = apperr.New(apperr.KindValidation, "coupon_usage_limit", "This coupon has reached its usage limit")
	ErrPerUserLimitReached = apperr.New(apperr.KindValidation, "coupon_user_limit", "You have already used this coupon the maximum number of times")
	// ErrBelowMinimumOrder is always returned specialised with the minimum
	// order value; match it with errors.Is.
	ErrBelowMinimumOrder = apperr.New(apperr.KindValidation, "coupon_below_minimum", "Minimum order value not met for this coupon")

	// ErrUsageConflict is returned when a concurrent order consumed the last
	// available use between validation and redemption.
	ErrUsageConflict = apperr.New(apperr.KindConflict, "coupon_usage_conflict", "Coupon usage limit was reached by a concurrent order")
	// ErrDuplicateCode is returned when creating a coupon whose code exists.
	ErrDuplicateCode = apperr.New(apperr.KindConflict, "coupon_duplicate_code", "Coupon code already exists")
	// ErrInUse is returned when deleting a coupon that orders already redeemed.
	ErrInUse = apperr.New(apperr.KindConflict, "coupon_in_use", "Coupon has been redeemed and cannot be deleted, deactivate it instead")
	// ErrInvalidDefinition is returned for malformed coupon definitions.
	ErrInvalidDefinition = apperr.New(apperr.KindValidation, "coupon_invalid_definition", "Invalid coupon definition")
)

// Coupon is a promotion rule redeemable by code.
type Coupon struct {
	ID                string
	Code              string
	Description       string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MinimumOrderValue decimal.NullDecimal
	MaximumDiscount   decimal.NullDecimal
	UsageLimit        *int
	UsageLimitPerUser *int
	ValidFrom         time.Time
	ValidUntil        time.Time
	Active            bool
	TimesUsed         int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Usage records one successful redemption of a coupon by an order.
type Usage struct {
	ID        string
	CouponID  string
	UserID    string
	OrderID   string
	CreatedAt time.Time
}

// Result is the outcome of a successful validation.
type Result struct {
	Coupon         *Coupon
	OrderAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

// Repository provides coupon persistence. Lookups by code are
// case-insensitive and return ErrNotFound when nothing matches.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// LockByCode is FindByCode holding a row lock until the surrounding
	// transaction ends.
	LockByCode(ctx context.Context, code string) (*Coupon, error)
	CountUserUsages(ctx context.Context, couponID, userID string) (int, error)
	// IncrementUsage bumps times_used only while it is below usage_limit and
	// returns ErrUsageConflict otherwise.
	IncrementUsage(ctx context.Context, couponID string) error
	// RecordUsage returns ErrUsageConflict if the order already has a usage row.
	RecordUsage(ctx context.Context, u *Usage) error
	FindByID(ctx context.Context, id string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	// Update replaces the definition of the coupon with c.ID. The usage
	// counter and creation time are left untouched.
	Update(ctx context.Context, c *Coupon) error
	// Delete returns ErrInUse if usage rows reference the coupon.
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]Coupon, error)
	ListActive(ctx context.Context, now time.Time) ([]Coupon, error)
	SetActive(ctx context.Context, code string, active bool) (*Coupon, error)
}

// NormalizeCode returns the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
