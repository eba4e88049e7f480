package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 200
)

var pointsPerDollar = decimal.NewFromInt(PointsPerDollar)

// Ledger implements the loyalty operations. Every mutation locks the
// account row inside a unit of work, so mutations of one account are
// serialised and BalanceAfter reflects that order.
type Ledger struct {
	repo Repository
	tx   Transactor
	now  func() time.Time
}

// NewLedger creates a Ledger.
func NewLedger(repo Repository, tx Transactor) *Ledger {
	return &Ledger{repo: repo, tx: tx, now: time.Now}
}

// GetOrCreate returns the user's account, creating it on first access.
func (l *Ledger) GetOrCreate(ctx context.Context, userID string) (*Account, error) {
	a, err := l.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get loyalty account")
	}
	return a, nil
}

// Summary returns the account with its derived tier progress.
func (l *Ledger) Summary(ctx context.Context, userID string) (*Summary, error) {
	a, err := l.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return summarize(a, l.now()), nil
}

// EarnPoints credits floor(orderTotal*10) base points scaled by the
// multiplier of the tier held before the credit.
func (l *Ledger) EarnPoints(ctx context.Context, userID string, orderTotal decimal.Decimal, orderID string) (*Transaction, error) {
	if orderTotal.IsNegative() {
		return nil, ErrInvalidAmount.WithMessage("Order total must not be negative")
	}
	base := orderTotal.Mul(pointsPerDollar).Floor()

	var t *Transaction
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := l.repo.LockByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "lock account")
		}

		multiplier := a.Tier().Multiplier()
		earned := base.Mul(multiplier).Floor().IntPart()

		t = &Transaction{
			Points:            earned,
			Type:              TransactionEarned,
			Description:       fmt.Sprintf("Earned %d points for order %s", earned, orderID),
			OrderID:           optional(orderID),
			MultiplierApplied: decimal.NewNullDecimal(multiplier),
		}
		return l.apply(ctx, a, t, true)
	})
	if err != nil {
		return nil, errors.Wrap(err, "earn points")
	}
	return t, nil
}

// RedeemPoints debits points from the balance. Lifetime points and
// therefore tier are unaffected.
func (l *Ledger) RedeemPoints(ctx context.Context, userID string, points int64, orderID string) (*Transaction, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}

	var t *Transaction
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := l.repo.LockByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "lock account")
		}
		if points > a.PointsBalance {
			return ErrInsufficientBalance.WithMessagef(
				"Insufficient points balance: requested %d, available %d", points, a.PointsBalance,
			)
		}

		t = &Transaction{
			Points:      -points,
			Type:        TransactionRedeemed,
			Description: fmt.Sprintf("Redeemed %d points for $%s", points, CalculateDiscount(points).StringFixed(2)),
			OrderID:     optional(orderID),
		}
		return l.apply(ctx, a, t, false)
	})
	if err != nil {
		return nil, errors.Wrap(err, "redeem points")
	}
	return t, nil
}

// ClaimBirthdayBonus credits the yearly birthday bonus on the user's birthday.
func (l *Ledger) ClaimBirthdayBonus(ctx context.Context, userID string) (*Transaction, error) {
	var t *Transaction
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := l.repo.LockByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "lock account")
		}

		now := l.now()
		if err := checkBirthdayBonus(a, now); err != nil {
			return err
		}

		year := now.Year()
		a.BirthdayBonusYear = &year
		t = &Transaction{
			Points:      BirthdayBonusPoints,
			Type:        TransactionBonus,
			Description: fmt.Sprintf("Birthday bonus %d", year),
		}
		return l.apply(ctx, a, t, true)
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim birthday bonus")
	}
	return t, nil
}

// SetBirthday stores the user's birthday. Only the date part is kept.
func (l *Ledger) SetBirthday(ctx context.Context, userID string, birthday time.Time) (*Account, error) {
	day := time.Date(birthday.Year(), birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
	now := l.now()
	if day.After(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)) {
		return nil, ErrInvalidBirthday
	}

	var a *Account
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = l.repo.LockByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "lock account")
		}
		a.Birthday = &day
		a.UpdatedAt = now
		return l.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, errors.Wrap(err, "set birthday")
	}
	return a, nil
}

// Transactions returns the user's most recent ledger entries, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	switch {
	case limit <= 0:
		limit = defaultTransactionsLimit
	case limit > maxTransactionsLimit:
		limit = maxTransactionsLimit
	}

	a, err := l.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	list, err := l.repo.ListTransactions(ctx, a.ID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	return list, nil
}

// apply adjusts the locked account by t.Points, stamps t, and persists both.
func (l *Ledger) apply(ctx context.Context, a *Account, t *Transaction, countsTowardLifetime bool) error {
	now := l.now()

	a.PointsBalance += t.Points
	if countsTowardLifetime {
		a.LifetimePoints += t.Points
	}
	a.UpdatedAt = now

	t.ID = uuid.New().String()
	t.AccountID = a.ID
	t.BalanceAfter = a.PointsBalance
	t.CreatedAt = now

	if err := l.repo.Update(ctx, a); err != nil {
		return errors.Wrap(err, "update account")
	}
	if err := l.repo.AppendTransaction(ctx, t); err != nil {
		return errors.Wrap(err, "append transaction")
	}
	return nil
}

func checkBirthdayBonus(a *Account, now time.Time) error {
	if a.Birthday == nil {
		return ErrBirthdayNotSet
	}
	if !isBirthday(*a.Birthday, now) {
		return ErrNotBirthdayToday
	}
	if a.BirthdayBonusYear != nil && *a.BirthdayBonusYear == now.Year() {
		return ErrAlreadyClaimedThisYear
	}
	return nil
}

// isBirthday reports whether now falls on birthday's month and day. A
// 29 February birthday is celebrated on 28 February in non-leap years.
func isBirthday(birthday, now time.Time) bool {
	month, day := birthday.Month(), birthday.Day()
	if month == time.February && day == 29 && !isLeap(now.Year()) {
		day = 28
	}
	return now.Month() == month && now.Day() == day
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func summarize(a *Account, now time.Time) *Summary {
	tier := a.Tier()
	s := &Summary{
		Account:                a,
		Tier:                   tier,
		BirthdayBonusAvailable: checkBirthdayBonus(a, now) == nil,
		RedeemableValue:        CalculateDiscount(a.PointsBalance),
	}
	if next, ok := tier.Next(); ok {
		s.NextTier = &next
		s.PointsToNextTier = next.RequiredPoints() - a.LifetimePoints
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
