package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/auth"
	"github.com/xenking/qkart/internal/domain/coupon"
	"github.com/xenking/qkart/internal/repository"
)

type seedUser struct {
	ID, Email, Name string
	AddressID, City string
}

type seedProduct struct {
	ID, Name string
	Price    string
}

var (
	users = []seedUser{
		{ID: "user-alice", Email: "alice@example.com", Name: "Alice Moreau", AddressID: "addr-alice", City: "Lyon"},
		{ID: "user-bob", Email: "bob@example.com", Name: "Bob Okafor", AddressID: "addr-bob", City: "Leeds"},
		{ID: "user-chen", Email: "chen@example.com", Name: "Chen Wei", AddressID: "addr-chen", City: "Toronto"},
	}

	products = []seedProduct{
		{ID: "prod-headphones", Name: "Wireless Headphones", Price: "129.99"},
		{ID: "prod-keyboard", Name: "Mechanical Keyboard", Price: "89.50"},
		{ID: "prod-mug", Name: "Ceramic Mug", Price: "12.00"},
		{ID: "prod-backpack", Name: "Commuter Backpack", Price: "64.25"},
	}

	// carts maps user id to product id and quantity.
	carts = map[string]map[string]int{
		"user-alice": {"prod-headphones": 1, "prod-mug": 2},
		"user-bob":   {"prod-keyboard": 1},
		"user-chen":  {"prod-backpack": 1, "prod-mug": 4},
	}
)

func seedCoupons(now time.Time) []coupon.Coupon {
	intp := func(v int) *int { return &v }
	money := func(s string) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.RequireFromString(s)) }
	year := now.AddDate(1, 0, 0)

	return []coupon.Coupon{
		{
			Code:          "SAVE10",
			Description:   "10% off any order",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			ValidFrom:     now,
			ValidUntil:    year,
		},
		{
			Code:              "WELCOME5",
			Description:       "$5 off your first order",
			DiscountType:      coupon.DiscountFixed,
			DiscountValue:     decimal.NewFromInt(5),
			UsageLimitPerUser: intp(1),
			ValidFrom:         now,
			ValidUntil:        year,
		},
		{
			Code:              "FREESHIP",
			Description:       "$7.99 off orders over $50",
			DiscountType:      coupon.DiscountFixed,
			DiscountValue:     decimal.RequireFromString("7.99"),
			MinimumOrderValue: money("50"),
			ValidFrom:         now,
			ValidUntil:        year,
		},
		{
			Code:              "BIGSPENDER",
			Description:       "20% off orders over $200, up to $60",
			DiscountType:      coupon.DiscountPercentage,
			DiscountValue:     decimal.NewFromInt(20),
			MinimumOrderValue: money("200"),
			MaximumDiscount:   money("60"),
			ValidFrom:         now,
			ValidUntil:        year,
		},
		{
			Code:              "FLASH50",
			Description:       "50% off, first 100 orders",
			DiscountType:      coupon.DiscountPercentage,
			DiscountValue:     decimal.NewFromInt(50),
			MaximumDiscount:   money("25"),
			UsageLimit:        intp(100),
			UsageLimitPerUser: intp(1),
			ValidFrom:         now,
			ValidUntil:        now.AddDate(0, 0, 7),
		},
	}
}

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or QKART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or QKART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("QKART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or QKART_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("QKART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	seeded, err := upsertCoupons(ctx, repository.NewCouponRepository(pool))
	if err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	printCoupons(seeded)
	return nil
}

// seedCatalog inserts users, addresses, products and carts. Existing rows
// are left untouched so re-running never resets a cart in use.
func seedCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	for _, u := range users {
		if _, err := pool.Exec(ctx,
			`INSERT INTO users (id, email, name) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			u.ID, u.Email, u.Name,
		); err != nil {
			return errors.Wrapf(err, "insert user %s", u.ID)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO addresses (id, user_id, full_name, line1, city, postal_code, country)
			 VALUES ($1, $2, $3, '1 Market Street', $4, '00000', 'US')
			 ON CONFLICT (id) DO NOTHING`,
			u.AddressID, u.ID, u.Name, u.City,
		); err != nil {
			return errors.Wrapf(err, "insert address %s", u.AddressID)
		}
		slog.Info("seeded user", slog.String("id", u.ID), slog.String("email", u.Email))
	}

	for _, p := range products {
		if _, err := pool.Exec(ctx,
			`INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`,
			p.ID, p.Name, decimal.RequireFromString(p.Price),
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	for userID, lines := range carts {
		cartID := "cart-" + userID
		tag, err := pool.Exec(ctx,
			`INSERT INTO carts (id, user_id) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
			cartID, userID,
		)
		if err != nil {
			return errors.Wrapf(err, "insert cart for %s", userID)
		}
		if tag.RowsAffected() == 0 {
			slog.Info("cart exists, skipping", slog.String("user_id", userID))
			continue
		}
		for productID, qty := range lines {
			if _, err := pool.Exec(ctx,
				`INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)`,
				cartID, productID, qty,
			); err != nil {
				return errors.Wrapf(err, "insert cart item %s/%s", cartID, productID)
			}
		}
		slog.Info("seeded cart", slog.String("user_id", userID), slog.Int("lines", len(lines)))
	}
	return nil
}

func upsertCoupons(ctx context.Context, repo *repository.CouponRepository) ([]coupon.Coupon, error) {
	slog.Info("seeding coupons")

	now := time.Now().UTC().Truncate(time.Second)
	list := seedCoupons(now)
	for i := range list {
		c := &list[i]
		c.ID = "coupon-" + c.Code
		c.Active = true
		c.CreatedAt, c.UpdatedAt = now, now
		if err := coupon.CheckDefinition(c); err != nil {
			return nil, errors.Wrapf(err, "coupon %s", c.Code)
		}

		inserted, err := repo.Upsert(ctx, c)
		if err != nil {
			return nil, err
		}
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.Bool("inserted", inserted))
	}
	return list, nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	info := &auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}
	if err := repo.Save(ctx, info); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}

func printCoupons(list []coupon.Coupon) {
	optional := func(v decimal.NullDecimal) string {
		if !v.Valid {
			return "-"
		}
		return v.Decimal.StringFixed(2)
	}
	limit := func(v *int) string {
		if v == nil {
			return "-"
		}
		return strconv.Itoa(*v)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Code", "Type", "Value", "Min order", "Max discount", "Limit", "Per user", "Valid until")
	for _, c := range list {
		if err := table.Append([]string{
			c.Code,
			string(c.DiscountType),
			c.DiscountValue.StringFixed(2),
			optional(c.MinimumOrderValue),
			optional(c.MaximumDiscount),
			limit(c.UsageLimit),
			limit(c.UsageLimitPerUser),
			c.ValidUntil.Format(time.DateOnly),
		}); err != nil {
			slog.Warn("render coupon row", slog.String("code", c.Code), slog.String("error", err.Error()))
		}
	}
	if err := table.Render(); err != nil {
		slog.Warn("render coupon table", slog.String("error", err.Error()))
	}
}
