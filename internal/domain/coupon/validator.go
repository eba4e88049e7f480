package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validator validates a coupon code for a user and order amount and returns
// the computed discount. Validation has no side effects.
type Validator interface {
	Validate(ctx context.Context, code, userID string, amount decimal.Decimal) (*Result, error)
}

// RepoValidator implements Validator by looking up coupons from a
// Repository. It also provides the locked Reserve/Redeem pair used by
// checkout.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon for code and checks it against the user's
// usage history and the order amount.
func (v *RepoValidator) Validate(ctx context.Context, code, userID string, amount decimal.Decimal) (*Result, error) {
	c, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	return v.evaluate(ctx, c, userID, amount)
}

// Reserve is Validate against a row-locked coupon. It must run inside a
// transaction; the lock is held until that transaction ends, so no other
// checkout can pass validation for the same coupon in between.
func (v *RepoValidator) Reserve(ctx context.Context, code, userID string, amount decimal.Decimal) (*Result, error) {
	c, err := v.repo.LockByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, errors.Wrap(err, "lock coupon")
	}
	return v.evaluate(ctx, c, userID, amount)
}

// Redeem records that orderID used the coupon in res. The usage counter is
// incremented conditionally, so a redemption that would exceed the global
// limit fails with ErrUsageConflict.
func (v *RepoValidator) Redeem(ctx context.Context, res *Result, userID, orderID string) error {
	if err := v.repo.IncrementUsage(ctx, res.Coupon.ID); err != nil {
		return errors.Wrap(err, "increment coupon usage")
	}

	u := &Usage{
		ID:        uuid.New().String(),
		CouponID:  res.Coupon.ID,
		UserID:    userID,
		OrderID:   orderID,
		CreatedAt: v.now(),
	}
	if err := v.repo.RecordUsage(ctx, u); err != nil {
		return errors.Wrap(err, "record coupon usage")
	}

	res.Coupon.TimesUsed++
	return nil
}

func (v *RepoValidator) evaluate(ctx context.Context, c *Coupon, userID string, amount decimal.Decimal) (*Result, error) {
	uses := 0
	if c.UsageLimitPerUser != nil && userID != "" {
		n, err := v.repo.CountUserUsages(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count coupon usages")
		}
		uses = n
	}
	return Evaluate(c, uses, amount, v.now())
}
