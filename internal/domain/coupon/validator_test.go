package coupon

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockCouponRepo struct {
	coupons   map[string]*Coupon
	usages    []Usage
	findErr   error
	countErr  error
	incErr    error
	recordErr error
	created   *Coupon
	createErr error

	locked []string
}

func newMockRepo(coupons ...*Coupon) *mockCouponRepo {
	m := &mockCouponRepo{coupons: make(map[string]*Coupon)}
	for _, c := range coupons {
		m.coupons[strings.ToUpper(c.Code)] = c
	}
	return m
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) LockByCode(ctx context.Context, code string) (*Coupon, error) {
	m.locked = append(m.locked, code)
	return m.FindByCode(ctx, code)
}

func (m *mockCouponRepo) CountUserUsages(_ context.Context, couponID, userID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, u := range m.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *mockCouponRepo) IncrementUsage(_ context.Context, couponID string) error {
	if m.incErr != nil {
		return m.incErr
	}
	for _, c := range m.coupons {
		if c.ID != couponID {
			continue
		}
		if c.UsageLimit != nil && c.TimesUsed >= *c.UsageLimit {
			return ErrUsageConflict
		}
		c.TimesUsed++
		return nil
	}
	return ErrNotFound
}

func (m *mockCouponRepo) RecordUsage(_ context.Context, u *Usage) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	for _, existing := range m.usages {
		if existing.CouponID == u.CouponID && existing.OrderID == u.OrderID {
			return ErrUsageConflict
		}
	}
	m.usages = append(m.usages, *u)
	return nil
}

func (m *mockCouponRepo) Create(_ context.Context, c *Coupon) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.coupons[c.Code]; ok {
		return ErrDuplicateCode
	}
	m.created = c
	m.coupons[c.Code] = c
	return nil
}

func (m *mockCouponRepo) FindByID(_ context.Context, id string) (*Coupon, error) {
	for _, c := range m.coupons {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockCouponRepo) Update(_ context.Context, c *Coupon) error {
	var current string
	for code, existing := range m.coupons {
		if existing.ID == c.ID {
			current = code
		} else if code == c.Code {
			return ErrDuplicateCode
		}
	}
	if current == "" {
		return ErrNotFound
	}
	delete(m.coupons, current)
	m.coupons[c.Code] = c
	return nil
}

func (m *mockCouponRepo) Delete(_ context.Context, id string) error {
	for code, c := range m.coupons {
		if c.ID != id {
			continue
		}
		for _, u := range m.usages {
			if u.CouponID == id {
				return ErrInUse
			}
		}
		delete(m.coupons, code)
		return nil
	}
	return ErrNotFound
}

func (m *mockCouponRepo) ListAll(context.Context) ([]Coupon, error) {
	out := make([]Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Coupon) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (m *mockCouponRepo) ListActive(_ context.Context, now time.Time) ([]Coupon, error) {
	var out []Coupon
	for _, c := range m.coupons {
		if c.Active && !now.Before(c.ValidFrom) && !now.After(c.ValidUntil) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockCouponRepo) SetActive(_ context.Context, code string, active bool) (*Coupon, error) {
	c, ok := m.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, ErrNotFound
	}
	c.Active = active
	cp := *c
	return &cp, nil
}

// --- Tests ---

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	save10 := func() *Coupon {
		return &Coupon{
			ID:            "c-save10",
			Code:          "SAVE10",
			DiscountType:  DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			ValidFrom:     fixedNow.Add(-24 * time.Hour),
			ValidUntil:    fixedNow.Add(24 * time.Hour),
			Active:        true,
		}
	}

	tests := []struct {
		name         string
		repo         *mockCouponRepo
		code         string
		userID       string
		amount       decimal.Decimal
		wantDiscount decimal.Decimal
		wantErr      error
	}{
		{
			name:         "valid code returns discount",
			repo:         newMockRepo(save10()),
			code:         "SAVE10",
			userID:       "u1",
			amount:       decimal.NewFromInt(250),
			wantDiscount: decimal.NewFromInt(25),
		},
		{
			name:         "lookup is case-insensitive and trims input",
			repo:         newMockRepo(save10()),
			code:         "  save10 ",
			userID:       "u1",
			amount:       decimal.NewFromInt(100),
			wantDiscount: decimal.NewFromInt(10),
		},
		{
			name:    "unknown code returns ErrInvalidCode",
			repo:    newMockRepo(),
			code:    "BOGUS",
			userID:  "u1",
			amount:  decimal.NewFromInt(100),
			wantErr: ErrInvalidCode,
		},
		{
			name: "per user limit uses usage history",
			repo: func() *mockCouponRepo {
				c := save10()
				c.UsageLimitPerUser = intPtr(1)
				m := newMockRepo(c)
				m.usages = []Usage{{CouponID: c.ID, UserID: "u1", OrderID: "o-old"}}
				return m
			}(),
			code:    "SAVE10",
			userID:  "u1",
			amount:  decimal.NewFromInt(100),
			wantErr: ErrPerUserLimitReached,
		},
		{
			name: "per user limit ignores other users",
			repo: func() *mockCouponRepo {
				c := save10()
				c.UsageLimitPerUser = intPtr(1)
				m := newMockRepo(c)
				m.usages = []Usage{{CouponID: c.ID, UserID: "u2", OrderID: "o-old"}}
				return m
			}(),
			code:         "SAVE10",
			userID:       "u1",
			amount:       decimal.NewFromInt(100),
			wantDiscount: decimal.NewFromInt(10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(tt.repo)
			v.now = func() time.Time { return fixedNow }
			usagesBefore := len(tt.repo.usages)

			res, err := v.Validate(context.Background(), tt.code, tt.userID, tt.amount)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantDiscount.Equal(res.DiscountAmount), "want %s, got %s", tt.wantDiscount, res.DiscountAmount)
			assert.Len(t, tt.repo.usages, usagesBefore, "validation must not record usage")
		})
	}
}

func TestRepoValidator_Validate_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.findErr = errors.New("connection refused")

	_, err := NewRepoValidator(repo).Validate(context.Background(), "X", "u1", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCode)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestRepoValidator_ReserveAndRedeem(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := &Coupon{
		ID:            "c-once",
		Code:          "ONCE",
		DiscountType:  DiscountFixed,
		DiscountValue: decimal.NewFromInt(5),
		UsageLimit:    intPtr(1),
		ValidFrom:     now.Add(-time.Hour),
		ValidUntil:    now.Add(time.Hour),
		Active:        true,
	}
	repo := newMockRepo(c)
	v := NewRepoValidator(repo)
	v.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := v.Reserve(ctx, "once", "u1", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Equal(t, []string{"ONCE"}, repo.locked)

	require.NoError(t, v.Redeem(ctx, res, "u1", "o1"))
	assert.Equal(t, 1, c.TimesUsed)
	require.Len(t, repo.usages, 1)
	assert.Equal(t, Usage{
		ID:        repo.usages[0].ID,
		CouponID:  "c-once",
		UserID:    "u1",
		OrderID:   "o1",
		CreatedAt: now,
	}, repo.usages[0])

	// The counter is exhausted now.
	_, err = v.Reserve(ctx, "ONCE", "u2", decimal.NewFromInt(20))
	require.ErrorIs(t, err, ErrGlobalLimitReached)

	// A stale reservation loses at the conditional increment.
	err = v.Redeem(ctx, res, "u2", "o2")
	require.ErrorIs(t, err, ErrUsageConflict)
	assert.Equal(t, 1, c.TimesUsed)
	assert.Len(t, repo.usages, 1)
}

func TestRepoValidator_Redeem_DuplicateOrder(t *testing.T) {
	c := &Coupon{ID: "c1", Code: "MANY"}
	repo := newMockRepo(c)
	repo.usages = []Usage{{CouponID: "c1", UserID: "u1", OrderID: "o1"}}

	err := NewRepoValidator(repo).Redeem(context.Background(), &Result{Coupon: c}, "u1", "o1")
	require.ErrorIs(t, err, ErrUsageConflict)
}
