// Package loyalty implements the per-user points ledger and tier progression.
package loyalty

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/apperr"
)

const (
	// PointsPerDollar is the base earn rate before the tier multiplier.
	PointsPerDollar = 10
	// PointsPerDollarRedeemed is how many points buy one dollar of discount.
	PointsPerDollarRedeemed = 100
	// BirthdayBonusPoints is credited once per calendar year.
	BirthdayBonusPoints = 500
)

var (
	// ErrUserNotFound is returned when the account owner does not exist.
	ErrUserNotFound           = apperr.New(apperr.KindNotFound, "loyalty_user_not_found", "User not found")
	ErrInsufficientBalance    = apperr.New(apperr.KindValidation, "loyalty_insufficient_balance", "Insufficient points balance")
	ErrInvalidAmount          = apperr.New(apperr.KindValidation, "loyalty_invalid_amount", "Points to redeem must be greater than 0")
	ErrBirthdayNotSet         = apperr.New(apperr.KindValidation, "loyalty_birthday_not_set", "Birthday not set")
	ErrNotBirthdayToday       = apperr.New(apperr.KindValidation, "loyalty_not_birthday", "Birthday bonus can only be claimed on your birthday")
	ErrAlreadyClaimedThisYear = apperr.New(apperr.KindValidation, "loyalty_bonus_claimed", "Birthday bonus already claimed this year")
	ErrInvalidBirthday        = apperr.New(apperr.KindValidation, "loyalty_invalid_birthday", "Birthday cannot be in the future")
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionEarned     TransactionType = "EARNED"
	TransactionRedeemed   TransactionType = "REDEEMED"
	TransactionBonus      TransactionType = "BONUS"
	TransactionExpired    TransactionType = "EXPIRED"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
)

// Account is a user's points ledger head. Tier is derived from
// LifetimePoints and never stored.
type Account struct {
	ID                string
	UserID            string
	PointsBalance     int64
	LifetimePoints    int64
	Birthday          *time.Time
	BirthdayBonusYear *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Tier returns the account's current tier.
func (a *Account) Tier() Tier {
	return TierFor(a.LifetimePoints)
}

// Transaction is an append-only ledger entry. Points are negative for
// redemptions.
type Transaction struct {
	ID                string
	AccountID         string
	Points            int64
	Type              TransactionType
	Description       string
	OrderID           *string
	MultiplierApplied decimal.NullDecimal
	BalanceAfter      int64
	CreatedAt         time.Time
}

// Summary is the account view shown to customers.
type Summary struct {
	Account                *Account
	Tier                   Tier
	NextTier               *Tier
	PointsToNextTier       int64
	BirthdayBonusAvailable bool
	RedeemableValue        decimal.Decimal
}

// Repository persists loyalty accounts and their transactions.
type Repository interface {
	// GetOrCreate returns the user's account, creating an empty one when
	// missing. Concurrent first access creates exactly one account.
	GetOrCreate(ctx context.Context, userID string) (*Account, error)
	// LockByUser is GetOrCreate holding the account row lock until the
	// surrounding transaction ends.
	LockByUser(ctx context.Context, userID string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	AppendTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}

// Transactor runs fn in a single unit of work.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CalculateDiscount returns the dollar value of points.
func CalculateDiscount(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Div(decimal.NewFromInt(PointsPerDollarRedeemed)).Round(2)
}

// PointsNeeded returns the points worth a dollar amount, truncated to whole
// points.
func PointsNeeded(dollars decimal.Decimal) int64 {
	return dollars.Mul(decimal.NewFromInt(PointsPerDollarRedeemed)).IntPart()
}
