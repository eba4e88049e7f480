package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qkart/internal/domain/loyalty"
)

const (
	accountColumns = `id, user_id, points_balance, lifetime_points, birthday,
		birthday_bonus_year, created_at, updated_at`

	ensureAccountSQL = `INSERT INTO loyalty_accounts (id, user_id)
		VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`

	getAccountSQL  = `SELECT ` + accountColumns + ` FROM loyalty_accounts WHERE user_id = $1`
	lockAccountSQL = getAccountSQL + ` FOR UPDATE`

	updateAccountSQL = `UPDATE loyalty_accounts SET points_balance = $2, lifetime_points = $3,
		birthday = $4, birthday_bonus_year = $5, updated_at = $6
		WHERE id = $1`

	insertLoyaltyTransactionSQL = `INSERT INTO loyalty_transactions
		(id, account_id, points, type, description, order_id, multiplier_applied, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listLoyaltyTransactionsSQL = `SELECT id, account_id, points, type, description, order_id,
		multiplier_applied, balance_after, created_at
		FROM loyalty_transactions WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
)

var _ loyalty.Repository = (*LoyaltyRepository)(nil)

// LoyaltyRepository implements loyalty.Repository backed by PostgreSQL.
type LoyaltyRepository struct {
	conn
}

// NewLoyaltyRepository returns a LoyaltyRepository that uses the given pool.
func NewLoyaltyRepository(pool *pgxpool.Pool) *LoyaltyRepository {
	return &LoyaltyRepository{conn{pool: pool}}
}

// GetOrCreate returns the user's account. The insert is a no-op when the
// account exists, so concurrent first access yields a single row. An
// unknown user yields loyalty.ErrUserNotFound.
func (r *LoyaltyRepository) GetOrCreate(ctx context.Context, userID string) (*loyalty.Account, error) {
	return r.account(ctx, getAccountSQL, userID)
}

// LockByUser is GetOrCreate with FOR UPDATE on the account row.
func (r *LoyaltyRepository) LockByUser(ctx context.Context, userID string) (*loyalty.Account, error) {
	return r.account(ctx, lockAccountSQL, userID)
}

func (r *LoyaltyRepository) account(ctx context.Context, sql, userID string) (*loyalty.Account, error) {
	q := r.querier(ctx)
	if _, err := q.Exec(ctx, ensureAccountSQL, uuid.New().String(), userID); err != nil {
		if isForeignKeyViolation(err, "loyalty_accounts_user_id_fkey") {
			return nil, loyalty.ErrUserNotFound
		}
		return nil, fmt.Errorf("creating loyalty account for %q: %w", userID, err)
	}

	rows, err := q.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("loading loyalty account for %q: %w", userID, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		return nil, fmt.Errorf("loading loyalty account for %q: %w", userID, err)
	}
	return &a, nil
}

// Update stores the mutable account fields.
func (r *LoyaltyRepository) Update(ctx context.Context, a *loyalty.Account) error {
	_, err := r.querier(ctx).Exec(ctx, updateAccountSQL,
		a.ID, a.PointsBalance, a.LifetimePoints, a.Birthday, a.BirthdayBonusYear, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating loyalty account %q: %w", a.ID, err)
	}
	return nil
}

// AppendTransaction inserts a ledger entry.
func (r *LoyaltyRepository) AppendTransaction(ctx context.Context, t *loyalty.Transaction) error {
	_, err := r.querier(ctx).Exec(ctx, insertLoyaltyTransactionSQL,
		t.ID, t.AccountID, t.Points, string(t.Type), t.Description, t.OrderID,
		t.MultiplierApplied, t.BalanceAfter, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting loyalty transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the newest entries of the account.
func (r *LoyaltyRepository) ListTransactions(ctx context.Context, accountID string, limit int) ([]loyalty.Transaction, error) {
	rows, err := r.querier(ctx).Query(ctx, listLoyaltyTransactionsSQL, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing loyalty transactions: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanLoyaltyTransaction)
	if err != nil {
		return nil, fmt.Errorf("listing loyalty transactions: %w", err)
	}
	return list, nil
}

func scanAccount(row pgx.CollectableRow) (loyalty.Account, error) {
	var a loyalty.Account
	err := row.Scan(
		&a.ID, &a.UserID, &a.PointsBalance, &a.LifetimePoints, &a.Birthday,
		&a.BirthdayBonusYear, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func scanLoyaltyTransaction(row pgx.CollectableRow) (loyalty.Transaction, error) {
	var (
		t   loyalty.Transaction
		typ string
	)
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Points, &typ, &t.Description, &t.OrderID,
		&t.MultiplierApplied, &t.BalanceAfter, &t.CreatedAt,
	)
	t.Type = loyalty.TransactionType(typ)
	return t, err
}
