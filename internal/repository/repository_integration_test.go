//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/qkart/internal/domain/checkout"
	"github.com/xenking/qkart/internal/domain/coupon"
	"github.com/xenking/qkart/internal/domain/loyalty"
	"github.com/xenking/qkart/internal/domain/order"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "qkart",
				"POSTGRES_PASSWORD": "qkart",
				"POSTGRES_DB":       "qkart",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://qkart:qkart@%s:%s/qkart?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

// --- Helpers ---

type fixture struct {
	userID    string
	addressID string
	productID string
}

func mustExec(t *testing.T, sql string, args ...any) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

// seedCustomer creates a user with an address and a cart holding qty units
// of a fresh product priced at price.
func seedCustomer(t *testing.T, price string, qty int) fixture {
	t.Helper()
	f := fixture{
		userID:    uuid.New().String(),
		addressID: uuid.New().String(),
		productID: uuid.New().String(),
	}
	cartID := uuid.New().String()

	mustExec(t, `INSERT INTO users (id, email, name) VALUES ($1, $2, 'Test')`, f.userID, f.userID+"@example.com")
	mustExec(t, `INSERT INTO addresses (id, user_id, line1, city, country) VALUES ($1, $2, '1 Main St', 'Springfield', 'US')`,
		f.addressID, f.userID)
	mustExec(t, `INSERT INTO products (id, name, price) VALUES ($1, 'Widget', $2)`, f.productID, decimal.RequireFromString(price))
	mustExec(t, `INSERT INTO carts (id, user_id) VALUES ($1, $2)`, cartID, f.userID)
	mustExec(t, `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)`, cartID, f.productID, qty)
	return f
}

func seedCoupon(t *testing.T, limit *int) *coupon.Coupon {
	t.Helper()
	now := time.Now()
	c := &coupon.Coupon{
		ID:            uuid.New().String(),
		Code:          "IT" + uuid.New().String()[:8],
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		UsageLimit:    limit,
		ValidFrom:     now.Add(-time.Hour),
		ValidUntil:    now.Add(24 * time.Hour),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.Code = coupon.NormalizeCode(c.Code)
	require.NoError(t, NewCouponRepository(testPool).Create(context.Background(), c))
	return c
}

func newCheckoutService(t *testing.T) *checkout.Service {
	t.Helper()
	tx := NewTransactor(testPool)
	svc, err := checkout.NewService(checkout.Deps{
		Tx:        tx,
		Customers: NewCustomerRepository(testPool),
		Carts:     NewCartRepository(testPool),
		Products:  NewProductRepository(testPool),
		Orders:    NewOrderRepository(testPool),
		Coupons:   coupon.NewRepoValidator(NewCouponRepository(testPool)),
		Loyalty:   loyalty.NewLedger(NewLoyaltyRepository(testPool), tx),
	}, checkout.Options{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	})
	require.NoError(t, err)
	return svc
}

func intPtr(v int) *int { return &v }

// --- Tests ---

func TestCheckout_Postgres(t *testing.T) {
	ctx := context.Background()
	f := seedCustomer(t, "125.00", 2)
	c := seedCoupon(t, nil)

	o, err := newCheckoutService(t).Checkout(ctx, checkout.Request{
		UserID:            f.userID,
		ShippingAddressID: f.addressID,
		PaymentMethod:     "card",
		CouponCode:        c.Code,
	})
	require.NoError(t, err)
	assert.Equal(t, "225.00", o.TotalAmount.StringFixed(2))

	stored, err := NewOrderRepository(testPool).Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)
	assert.Equal(t, c.Code, stored.CouponCode)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "125.00", stored.Items[0].PriceAtPurchase.StringFixed(2))
	require.NotNil(t, stored.ShippingAddress)
	assert.Equal(t, "Springfield", stored.ShippingAddress.City)
	assert.Equal(t, "1 Main St", stored.ShippingAddress.Line1)

	listed, err := NewOrderRepository(testPool).ListByUser(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].ShippingAddress)
	assert.Equal(t, "US", listed[0].ShippingAddress.Country)

	snap, err := NewCartRepository(testPool).LoadForUpdate(ctx, f.userID)
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())

	acct, err := NewLoyaltyRepository(testPool).GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2250), acct.PointsBalance)

	_, err = newCheckoutService(t).Checkout(ctx, checkout.Request{UserID: f.userID, ShippingAddressID: f.addressID})
	assert.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestCheckout_Postgres_UsageLimitRace(t *testing.T) {
	ctx := context.Background()
	c := seedCoupon(t, intPtr(1))
	customers := []fixture{
		seedCustomer(t, "40.00", 1),
		seedCustomer(t, "40.00", 1),
		seedCustomer(t, "40.00", 1),
	}
	svc := newCheckoutService(t)

	errs := make([]error, len(customers))
	var g errgroup.Group
	for i, f := range customers {
		g.Go(func() error {
			_, errs[i] = svc.Checkout(ctx, checkout.Request{
				UserID:            f.userID,
				ShippingAddressID: f.addressID,
				CouponCode:        c.Code,
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, coupon.ErrGlobalLimitReached) || errors.Is(err, coupon.ErrUsageConflict),
			"unexpected error: %v", err,
		)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := NewCouponRepository(testPool).FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TimesUsed)

	var usages int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1`, c.ID).Scan(&usages))
	assert.Equal(t, 1, usages)
}

func TestLoyalty_Postgres_ConcurrentEarn(t *testing.T) {
	ctx := context.Background()
	f := seedCustomer(t, "1.00", 1)
	tx := NewTransactor(testPool)
	repo := NewLoyaltyRepository(testPool)
	ledger := loyalty.NewLedger(repo, tx)

	const workers = 10
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := ledger.EarnPoints(ctx, f.userID, decimal.NewFromInt(10), "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	acct, err := repo.GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), acct.PointsBalance)

	txs, err := ledger.Transactions(ctx, f.userID, 0)
	require.NoError(t, err)
	require.Len(t, txs, workers)

	seen := make(map[int64]bool, workers)
	for _, lt := range txs {
		assert.False(t, seen[lt.BalanceAfter], "balance %d recorded twice", lt.BalanceAfter)
		seen[lt.BalanceAfter] = true
	}
}

func TestLoyalty_Postgres_ConcurrentFirstAccess(t *testing.T) {
	ctx := context.Background()
	f := seedCustomer(t, "1.00", 1)
	repo := NewLoyaltyRepository(testPool)

	var (
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			a, err := repo.GetOrCreate(ctx, f.userID)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[a.ID] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ids, 1)
}

func TestOrder_Postgres_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := seedCustomer(t, "10.00", 3)
	o, err := newCheckoutService(t).Checkout(ctx, checkout.Request{UserID: f.userID, ShippingAddressID: f.addressID})
	require.NoError(t, err)

	svc := order.NewService(NewOrderRepository(testPool), NewTransactor(testPool))
	tracking := "1Z-TEST"
	updated, err := svc.UpdateStatus(ctx, o.ID, order.StatusShipped, order.StatusUpdate{TrackingNumber: &tracking})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, updated.Status)

	stored, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status)
	require.NotNil(t, stored.ShippedAt)
	assert.Equal(t, tracking, *stored.TrackingNumber)

	_, err = svc.UpdateStatus(ctx, o.ID, order.StatusConfirmed, order.StatusUpdate{})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	list, err := svc.ListByUser(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 1)
}

func TestCoupon_Postgres_CreateAndUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testPool)
	c := seedCoupon(t, nil)

	dup := *c
	dup.ID = uuid.New().String()
	assert.ErrorIs(t, repo.Create(ctx, &dup), coupon.ErrDuplicateCode)

	dup.DiscountValue = decimal.NewFromInt(15)
	inserted, err := repo.Upsert(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
	assert.Equal(t, "15.00", stored.DiscountValue.StringFixed(2))

	off, err := repo.SetActive(ctx, c.Code, false)
	require.NoError(t, err)
	assert.False(t, off.Active)

	_, err = repo.SetActive(ctx, "NO-SUCH-CODE", false)
	assert.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestCoupon_Postgres_AdminLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testPool)
	c := seedCoupon(t, nil)

	byID, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Code, byID.Code)
	_, err = repo.FindByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, coupon.ErrNotFound)

	other := seedCoupon(t, nil)
	taken := *byID
	taken.Code = other.Code
	assert.ErrorIs(t, repo.Update(ctx, &taken), coupon.ErrDuplicateCode)

	renamed := *byID
	renamed.Code = coupon.NormalizeCode("it-" + uuid.New().String()[:8])
	renamed.DiscountType = coupon.DiscountFixed
	renamed.DiscountValue = decimal.NewFromInt(150)
	renamed.UpdatedAt = time.Now()
	require.NoError(t, repo.Update(ctx, &renamed))

	stored, err := repo.FindByCode(ctx, renamed.Code)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
	assert.Equal(t, "150.00", stored.DiscountValue.StringFixed(2))

	missing := renamed
	missing.ID = uuid.New().String()
	missing.Code = "IT-MISSING"
	assert.ErrorIs(t, repo.Update(ctx, &missing), coupon.ErrNotFound)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	ids := make(map[string]bool, len(all))
	for _, a := range all {
		ids[a.ID] = true
	}
	assert.True(t, ids[c.ID])
	assert.True(t, ids[other.ID])

	require.NoError(t, repo.Delete(ctx, other.ID))
	assert.ErrorIs(t, repo.Delete(ctx, other.ID), coupon.ErrNotFound)
}

func TestCoupon_Postgres_DeleteRedeemed(t *testing.T) {
	ctx := context.Background()
	f := seedCustomer(t, "50.00", 1)
	c := seedCoupon(t, nil)

	_, err := newCheckoutService(t).Checkout(ctx, checkout.Request{
		UserID:            f.userID,
		ShippingAddressID: f.addressID,
		CouponCode:        c.Code,
	})
	require.NoError(t, err)

	repo := NewCouponRepository(testPool)
	assert.ErrorIs(t, repo.Delete(ctx, c.ID), coupon.ErrInUse)
	_, err = repo.FindByID(ctx, c.ID)
	assert.NoError(t, err)
}

func TestCoupon_Postgres_SchemaConstraints(t *testing.T) {
	ctx := context.Background()
	insert := `INSERT INTO coupons (id, code, discount_type, discount_value, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, now(), now() + interval '1 day')`

	_, err := testPool.Exec(ctx, insert, uuid.New().String(), "IT-PCT-"+uuid.New().String()[:8], "PERCENTAGE", 101)
	assert.Error(t, err, "percentage above 100")

	_, err = testPool.Exec(ctx, insert, uuid.New().String(), "IT-FIX-"+uuid.New().String()[:8], "FIXED", 101)
	assert.NoError(t, err, "fixed amounts are not capped")

	c := seedCoupon(t, nil)
	_, err = testPool.Exec(ctx, insert, uuid.New().String(), strings.ToLower(c.Code), "FIXED", 1)
	assert.True(t, isUniqueViolation(err), "codes are unique regardless of case: %v", err)

	_, err = testPool.Exec(ctx, `UPDATE coupons SET valid_until = valid_from WHERE id = $1`, c.ID)
	assert.Error(t, err, "empty validity window")
}

func TestLoyalty_Postgres_UnknownUser(t *testing.T) {
	ctx := context.Background()
	repo := NewLoyaltyRepository(testPool)
	ledger := loyalty.NewLedger(repo, NewTransactor(testPool))
	ghost := uuid.New().String()

	_, err := repo.GetOrCreate(ctx, ghost)
	assert.ErrorIs(t, err, loyalty.ErrUserNotFound)

	_, err = ledger.EarnPoints(ctx, ghost, decimal.NewFromInt(10), "")
	assert.ErrorIs(t, err, loyalty.ErrUserNotFound)

	_, err = ledger.RedeemPoints(ctx, ghost, 100, "")
	assert.ErrorIs(t, err, loyalty.ErrUserNotFound)
}
