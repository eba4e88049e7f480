package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxCodeLen = 50

// CreateParams describes a new coupon.
type CreateParams struct {
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
}

// Service implements coupon administration.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create validates and stores a new coupon. The code is stored upper-case.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Coupon, error) {
	now := s.now()
	c := &Coupon{
		ID:                uuid.New().String(),
		Code:              NormalizeCode(p.Code),
		Description:       p.Description,
		DiscountType:      p.DiscountType,
		DiscountValue:     p.DiscountValue,
		MinimumOrderValue: p.MinimumOrderValue,
		MaximumDiscount:   p.MaximumDiscount,
		UsageLimit:        p.UsageLimit,
		UsageLimitPerUser: p.UsageLimitPerUser,
		ValidFrom:         p.ValidFrom,
		ValidUntil:        p.ValidUntil,
		Active:            p.Active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := CheckDefinition(c); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode.WithMessagef("Coupon code %s already exists", c.Code)
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Get returns the coupon with the given code.
func (s *Service) Get(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, errors.Wrap(err, "get coupon")
	}
	return c, nil
}

// GetByID returns the coupon with the given id.
func (s *Service) GetByID(ctx context.Context, id string) (*Coupon, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get coupon by id")
	}
	return c, nil
}

// ListAll returns every coupon regardless of state, ordered by code.
func (s *Service) ListAll(ctx context.Context) ([]Coupon, error) {
	list, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return list, nil
}

// Update replaces the definition of an existing coupon. Redemptions already
// counted are kept, so the usage limit cannot drop below them.
func (s *Service) Update(ctx context.Context, id string, p CreateParams) (*Coupon, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}

	c.Code = NormalizeCode(p.Code)
	c.Description = p.Description
	c.DiscountType = p.DiscountType
	c.DiscountValue = p.DiscountValue
	c.MinimumOrderValue = p.MinimumOrderValue
	c.MaximumDiscount = p.MaximumDiscount
	c.UsageLimit = p.UsageLimit
	c.UsageLimitPerUser = p.UsageLimitPerUser
	c.ValidFrom = p.ValidFrom
	c.ValidUntil = p.ValidUntil
	c.Active = p.Active
	c.UpdatedAt = s.now()

	if err := CheckDefinition(c); err != nil {
		return nil, err
	}
	if c.UsageLimit != nil && *c.UsageLimit < c.TimesUsed {
		return nil, ErrInvalidDefinition.WithMessagef("Usage limit cannot be below times used (%d)", c.TimesUsed)
	}

	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode.WithMessagef("Coupon code %s already exists", c.Code)
		}
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Delete removes a coupon that was never redeemed.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete coupon")
	}
	return nil
}

// ListActive returns coupons that are active and inside their validity window.
func (s *Service) ListActive(ctx context.Context) ([]Coupon, error) {
	list, err := s.repo.ListActive(ctx, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	return list, nil
}

// Deactivate turns a coupon off. Deactivating an inactive coupon is a no-op.
func (s *Service) Deactivate(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.repo.SetActive(ctx, NormalizeCode(code), false)
	if err != nil {
		return nil, errors.Wrap(err, "deactivate coupon")
	}
	return c, nil
}

// CheckDefinition reports whether c is a well-formed coupon definition.
func CheckDefinition(c *Coupon) error {
	switch {
	case c.Code == "":
		return ErrInvalidDefinition.WithMessage("Coupon code is required")
	case len(c.Code) > maxCodeLen:
		return ErrInvalidDefinition.WithMessagef("Coupon code must be at most %d characters", maxCodeLen)
	case !c.DiscountValue.IsPositive():
		return ErrInvalidDefinition.WithMessage("Discount value must be greater than 0")
	case !c.ValidUntil.After(c.ValidFrom):
		return ErrInvalidDefinition.WithMessage("Valid until must be after valid from")
	case c.MinimumOrderValue.Valid && c.MinimumOrderValue.Decimal.IsNegative():
		return ErrInvalidDefinition.WithMessage("Minimum order value must not be negative")
	case c.MaximumDiscount.Valid && !c.MaximumDiscount.Decimal.IsPositive():
		return ErrInvalidDefinition.WithMessage("Maximum discount must be greater than 0")
	case c.UsageLimit != nil && *c.UsageLimit <= 0:
		return ErrInvalidDefinition.WithMessage("Usage limit must be greater than 0")
	case c.UsageLimitPerUser != nil && *c.UsageLimitPerUser <= 0:
		return ErrInvalidDefinition.WithMessage("Per-user usage limit must be greater than 0")
	}

	switch c.DiscountType {
	case DiscountPercentage:
		if c.DiscountValue.GreaterThan(hundred) {
			return ErrInvalidDefinition.WithMessage("Percentage discount cannot exceed 100%")
		}
	case DiscountFixed:
	default:
		return ErrInvalidDefinition.WithMessagef("Unsupported discount type %q", c.DiscountType)
	}
	return nil
}
