package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qkart/internal/domain/coupon"
)

const couponColumns = `id, code, description, discount_type, discount_value,
	minimum_order_value, maximum_discount, usage_limit, usage_limit_per_user,
	valid_from, valid_until, active, times_used, created_at, updated_at`

const (
	getCouponByCodeSQL  = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`
	getCouponByIDSQL    = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	lockCouponByCodeSQL = getCouponByCodeSQL + ` FOR UPDATE`

	countUserUsagesSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	incrementCouponUsageSQL = `UPDATE coupons SET times_used = times_used + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR times_used < usage_limit)`

	insertCouponUsageSQL = `INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	upsertCouponSQL = insertCouponSQL + `
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			minimum_order_value = EXCLUDED.minimum_order_value,
			maximum_discount = EXCLUDED.maximum_discount,
			usage_limit = EXCLUDED.usage_limit,
			usage_limit_per_user = EXCLUDED.usage_limit_per_user,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`

	updateCouponSQL = `UPDATE coupons SET
			code = $2, description = $3, discount_type = $4, discount_value = $5,
			minimum_order_value = $6, maximum_discount = $7, usage_limit = $8,
			usage_limit_per_user = $9, valid_from = $10, valid_until = $11,
			active = $12, updated_at = $13
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	listAllCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY code`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE active AND valid_from <= $1 AND valid_until >= $1
			AND (usage_limit IS NULL OR times_used < usage_limit)
		ORDER BY code`

	setCouponActiveSQL = `UPDATE coupons SET active = $2, updated_at = now()
		WHERE code = UPPER($1) RETURNING ` + couponColumns
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	conn
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{conn{pool: pool}}
}

// FindByCode looks up a coupon by its code (case-insensitive).
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponByCodeSQL, code)
}

// LockByCode is FindByCode with FOR UPDATE.
func (r *CouponRepository) LockByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, lockCouponByCodeSQL, code)
}

// FindByID looks up a coupon by its id.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) one(ctx context.Context, sql, key string) (*coupon.Coupon, error) {
	rows, err := r.querier(ctx).Query(ctx, sql, key)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}
	return &c, nil
}

// CountUserUsages returns how many orders of userID used the coupon.
func (r *CouponRepository) CountUserUsages(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := r.querier(ctx).QueryRow(ctx, countUserUsagesSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usages of coupon %q: %w", couponID, err)
	}
	return n, nil
}

// IncrementUsage bumps times_used unless the usage limit is already reached.
func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID string) error {
	tag, err := r.querier(ctx).Exec(ctx, incrementCouponUsageSQL, couponID)
	if err != nil {
		return fmt.Errorf("incrementing usage of coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageConflict
	}
	return nil
}

// RecordUsage inserts a usage row. A second row for the same coupon and
// order is a conflict.
func (r *CouponRepository) RecordUsage(ctx context.Context, u *coupon.Usage) error {
	_, err := r.querier(ctx).Exec(ctx, insertCouponUsageSQL, u.ID, u.CouponID, u.UserID, u.OrderID, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrUsageConflict
		}
		return fmt.Errorf("recording usage of coupon %q: %w", u.CouponID, err)
	}
	return nil
}

// Create inserts a coupon. A taken code yields coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.querier(ctx).Exec(ctx, insertCouponSQL, couponArgs(c)...)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update writes the definition of c. A code taken by another coupon yields
// coupon.ErrDuplicateCode.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.querier(ctx).Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderValue, c.MaximumDiscount, c.UsageLimit, c.UsageLimitPerUser,
		c.ValidFrom, c.ValidUntil, c.Active, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon. Coupons referenced by usage rows are kept.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.querier(ctx).Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		if isForeignKeyViolation(err, "") {
			return coupon.ErrInUse
		}
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// ListAll returns every coupon ordered by code.
func (r *CouponRepository) ListAll(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.querier(ctx).Query(ctx, listAllCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return list, nil
}

// Upsert inserts a coupon or replaces the definition of the coupon with the
// same code, keeping its id and usage counter. It reports whether a new row
// was inserted.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) (inserted bool, err error) {
	if err := r.querier(ctx).QueryRow(ctx, upsertCouponSQL, couponArgs(c)...).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return inserted, nil
}

// ListActive returns coupons redeemable at now, ordered by code.
func (r *CouponRepository) ListActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.querier(ctx).Query(ctx, listActiveCouponsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}
	return list, nil
}

// SetActive switches a coupon on or off and returns the updated coupon.
func (r *CouponRepository) SetActive(ctx context.Context, code string, active bool) (*coupon.Coupon, error) {
	rows, err := r.querier(ctx).Query(ctx, setCouponActiveSQL, code, active)
	if err != nil {
		return nil, fmt.Errorf("updating coupon %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("updating coupon %q: %w", code, err)
	}
	return &c, nil
}

func couponArgs(c *coupon.Coupon) []any {
	return []any{
		c.ID, c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderValue, c.MaximumDiscount, c.UsageLimit, c.UsageLimitPerUser,
		c.ValidFrom, c.ValidUntil, c.Active, c.TimesUsed, c.CreatedAt, c.UpdatedAt,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue,
		&c.MinimumOrderValue, &c.MaximumDiscount, &c.UsageLimit, &c.UsageLimitPerUser,
		&c.ValidFrom, &c.ValidUntil, &c.Active, &c.TimesUsed, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
