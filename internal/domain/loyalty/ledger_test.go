package loyalty

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/qkart/internal/domain/apperr"
)

// --- Mock implementations ---

// memRepo stores accounts by value so that an aborted unit of work which
// never calls Update leaves the stored account untouched.
type memRepo struct {
	mu       sync.Mutex
	accounts map[string]Account
	txs      []Transaction
	// unknown users have no row to own an account.
	unknown map[string]bool
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: make(map[string]Account)}
}

func (m *memRepo) GetOrCreate(_ context.Context, userID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unknown[userID] {
		return nil, ErrUserNotFound
	}
	a, ok := m.accounts[userID]
	if !ok {
		a = Account{ID: "acc-" + userID, UserID: userID}
		m.accounts[userID] = a
	}
	return &a, nil
}

func (m *memRepo) LockByUser(ctx context.Context, userID string) (*Account, error) {
	return m.GetOrCreate(ctx, userID)
}

func (m *memRepo) Update(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.UserID] = *a
	return nil
}

func (m *memRepo) AppendTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, *t)
	return nil
}

func (m *memRepo) ListTransactions(_ context.Context, accountID string, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Transaction
	for i := len(m.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txs[i].AccountID == accountID {
			out = append(out, m.txs[i])
		}
	}
	return out, nil
}

func (m *memRepo) account(userID string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[userID]
}

// lockingTx serialises units of work the way a row lock would.
type lockingTx struct {
	mu    sync.Mutex
	calls int
}

func (l *lockingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return fn(ctx)
}

func newTestLedger(now time.Time) (*Ledger, *memRepo) {
	repo := newMemRepo()
	l := NewLedger(repo, &lockingTx{})
	l.now = func() time.Time { return now }
	return l, repo
}

func seed(repo *memRepo, a Account) {
	if a.ID == "" {
		a.ID = "acc-" + a.UserID
	}
	repo.accounts[a.UserID] = a
}

// --- Tests ---

func TestLedger_EarnPoints(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		lifetime     int64
		total        string
		wantEarned   int64
		wantMultiple string
	}{
		{name: "bronze 100.00", lifetime: 0, total: "100.00", wantEarned: 1000, wantMultiple: "1"},
		{name: "silver 100.00", lifetime: 1000, total: "100.00", wantEarned: 1250, wantMultiple: "1.25"},
		{name: "gold 100.00", lifetime: 5000, total: "100.00", wantEarned: 1500, wantMultiple: "1.5"},
		{name: "platinum 100.00", lifetime: 10000, total: "100.00", wantEarned: 2000, wantMultiple: "2"},
		{name: "base points floored", lifetime: 0, total: "19.99", wantEarned: 199, wantMultiple: "1"},
		{name: "multiplied points floored", lifetime: 1000, total: "0.30", wantEarned: 3, wantMultiple: "1.25"},
		{name: "zero total", lifetime: 0, total: "0", wantEarned: 0, wantMultiple: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, repo := newTestLedger(now)
			seed(repo, Account{UserID: "u1", PointsBalance: 40, LifetimePoints: tt.lifetime})

			tx, err := l.EarnPoints(context.Background(), "u1", decimal.RequireFromString(tt.total), "o1")
			require.NoError(t, err)

			assert.Equal(t, tt.wantEarned, tx.Points)
			assert.Equal(t, TransactionEarned, tx.Type)
			require.True(t, tx.MultiplierApplied.Valid)
			assert.True(t, decimal.RequireFromString(tt.wantMultiple).Equal(tx.MultiplierApplied.Decimal))
			assert.Equal(t, 40+tt.wantEarned, tx.BalanceAfter)
			require.NotNil(t, tx.OrderID)
			assert.Equal(t, "o1", *tx.OrderID)
			assert.Equal(t, now, tx.CreatedAt)

			a := repo.account("u1")
			assert.Equal(t, 40+tt.wantEarned, a.PointsBalance)
			assert.Equal(t, tt.lifetime+tt.wantEarned, a.LifetimePoints)
			require.Len(t, repo.txs, 1)
		})
	}
}

func TestLedger_EarnPoints_UsesTierBeforeCredit(t *testing.T) {
	l, repo := newTestLedger(time.Now())
	seed(repo, Account{UserID: "u1", LifetimePoints: 999})

	// 999 + 1000 crosses into SILVER, but the credit itself is at BRONZE.
	tx, err := l.EarnPoints(context.Background(), "u1", decimal.NewFromInt(100), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), tx.Points)
	assert.Equal(t, TierSilver, TierFor(repo.account("u1").LifetimePoints))
}

func TestLedger_EarnPoints_CreatesAccount(t *testing.T) {
	l, repo := newTestLedger(time.Now())

	_, err := l.EarnPoints(context.Background(), "new-user", decimal.NewFromInt(10), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), repo.account("new-user").PointsBalance)
}

func TestLedger_UnknownUser(t *testing.T) {
	l, repo := newTestLedger(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	repo.unknown = map[string]bool{"ghost": true}
	ctx := context.Background()

	_, err := l.EarnPoints(ctx, "ghost", decimal.NewFromInt(10), "o1")
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = l.RedeemPoints(ctx, "ghost", 100, "")
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	assert.Empty(t, repo.txs)
}

func TestLedger_EarnPoints_NegativeTotal(t *testing.T) {
	l, repo := newTestLedger(time.Now())
	_, err := l.EarnPoints(context.Background(), "u1", decimal.NewFromInt(-1), "o1")
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Empty(t, repo.txs)
}

func TestLedger_RedeemPoints(t *testing.T) {
	tests := []struct {
		name        string
		balance     int64
		points      int64
		wantErr     error
		wantBalance int64
	}{
		{name: "partial", balance: 500, points: 200, wantBalance: 300},
		{name: "entire balance", balance: 500, points: 500, wantBalance: 0},
		{name: "more than balance", balance: 500, points: 501, wantErr: ErrInsufficientBalance, wantBalance: 500},
		{name: "zero", balance: 500, points: 0, wantErr: ErrInvalidAmount, wantBalance: 500},
		{name: "negative", balance: 500, points: -10, wantErr: ErrInvalidAmount, wantBalance: 500},
		{name: "invalid amount checked before balance", balance: 0, points: 0, wantErr: ErrInvalidAmount, wantBalance: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, repo := newTestLedger(time.Now())
			seed(repo, Account{UserID: "u1", PointsBalance: tt.balance, LifetimePoints: 7000})

			tx, err := l.RedeemPoints(context.Background(), "u1", tt.points, "")
			a := repo.account("u1")
			assert.Equal(t, tt.wantBalance, a.PointsBalance)
			assert.Equal(t, int64(7000), a.LifetimePoints, "lifetime points never change on redeem")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, repo.txs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, -tt.points, tx.Points)
			assert.Equal(t, TransactionRedeemed, tx.Type)
			assert.Equal(t, tt.wantBalance, tx.BalanceAfter)
			assert.Nil(t, tx.OrderID)
			assert.False(t, tx.MultiplierApplied.Valid)
		})
	}
}

func TestLedger_ClaimBirthdayBonus(t *testing.T) {
	birthday := time.Date(1990, 7, 14, 0, 0, 0, 0, time.UTC)
	onBirthday := time.Date(2025, 7, 14, 9, 30, 0, 0, time.UTC)
	lastYear := 2024
	thisYear := 2025

	tests := []struct {
		name     string
		account  Account
		now      time.Time
		wantErr  error
		wantBal  int64
		wantLife int64
	}{
		{
			name:     "credits bonus",
			account:  Account{UserID: "u1", Birthday: &birthday, PointsBalance: 10, LifetimePoints: 10},
			now:      onBirthday,
			wantBal:  510,
			wantLife: 510,
		},
		{
			name:     "claimed last year",
			account:  Account{UserID: "u1", Birthday: &birthday, BirthdayBonusYear: &lastYear},
			now:      onBirthday,
			wantBal:  500,
			wantLife: 500,
		},
		{
			name:    "no birthday",
			account: Account{UserID: "u1"},
			now:     onBirthday,
			wantErr: ErrBirthdayNotSet,
		},
		{
			name:    "not today",
			account: Account{UserID: "u1", Birthday: &birthday},
			now:     onBirthday.AddDate(0, 0, 1),
			wantErr: ErrNotBirthdayToday,
		},
		{
			name:    "already claimed",
			account: Account{UserID: "u1", Birthday: &birthday, BirthdayBonusYear: &thisYear, PointsBalance: 500},
			now:     onBirthday,
			wantErr: ErrAlreadyClaimedThisYear,
			wantBal: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, repo := newTestLedger(tt.now)
			seed(repo, tt.account)

			tx, err := l.ClaimBirthdayBonus(context.Background(), "u1")
			a := repo.account("u1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.account.PointsBalance, a.PointsBalance)
				assert.Empty(t, repo.txs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(BirthdayBonusPoints), tx.Points)
			assert.Equal(t, TransactionBonus, tx.Type)
			assert.Equal(t, tt.wantBal, a.PointsBalance)
			assert.Equal(t, tt.wantLife, a.LifetimePoints)
			require.NotNil(t, a.BirthdayBonusYear)
			assert.Equal(t, 2025, *a.BirthdayBonusYear)
		})
	}
}

func TestLedger_ClaimBirthdayBonus_Twice(t *testing.T) {
	birthday := time.Date(1990, 7, 14, 0, 0, 0, 0, time.UTC)
	l, repo := newTestLedger(time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC))
	seed(repo, Account{UserID: "u1", Birthday: &birthday})
	ctx := context.Background()

	_, err := l.ClaimBirthdayBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), repo.account("u1").PointsBalance)

	_, err = l.ClaimBirthdayBonus(ctx, "u1")
	require.ErrorIs(t, err, ErrAlreadyClaimedThisYear)
	assert.Equal(t, int64(500), repo.account("u1").PointsBalance)
	assert.Len(t, repo.txs, 1)
}

func TestLedger_LeapDayBirthday(t *testing.T) {
	leap := time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC)
	l, repo := newTestLedger(time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC))
	seed(repo, Account{UserID: "u1", Birthday: &leap})

	_, err := l.ClaimBirthdayBonus(context.Background(), "u1")
	require.NoError(t, err)
}

func TestLedger_SetBirthday(t *testing.T) {
	now := time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC)
	l, repo := newTestLedger(now)

	a, err := l.SetBirthday(context.Background(), "u1", time.Date(1990, 7, 14, 18, 45, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, a.Birthday)
	assert.Equal(t, time.Date(1990, 7, 14, 0, 0, 0, 0, time.UTC), *a.Birthday)
	assert.NotNil(t, repo.account("u1").Birthday)

	_, err = l.SetBirthday(context.Background(), "u1", now.AddDate(0, 0, 1))
	require.ErrorIs(t, err, ErrInvalidBirthday)
}

func TestLedger_Summary(t *testing.T) {
	birthday := time.Date(1990, 7, 14, 0, 0, 0, 0, time.UTC)
	l, repo := newTestLedger(time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC))
	seed(repo, Account{UserID: "u1", PointsBalance: 250, LifetimePoints: 1200, Birthday: &birthday})

	s, err := l.Summary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, TierSilver, s.Tier)
	require.NotNil(t, s.NextTier)
	assert.Equal(t, TierGold, *s.NextTier)
	assert.Equal(t, int64(3800), s.PointsToNextTier)
	assert.True(t, s.BirthdayBonusAvailable)
	assert.Equal(t, "2.50", s.RedeemableValue.StringFixed(2))

	seed(repo, Account{UserID: "u2", LifetimePoints: 20000})
	s, err = l.Summary(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, TierPlatinum, s.Tier)
	assert.Nil(t, s.NextTier)
	assert.Zero(t, s.PointsToNextTier)
	assert.False(t, s.BirthdayBonusAvailable)
}

func TestLedger_Transactions(t *testing.T) {
	l, repo := newTestLedger(time.Now())
	ctx := context.Background()

	for range 3 {
		_, err := l.EarnPoints(ctx, "u1", decimal.NewFromInt(1), "")
		require.NoError(t, err)
	}
	_, err := l.RedeemPoints(ctx, "u1", 5, "")
	require.NoError(t, err)

	list, err := l.Transactions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, TransactionRedeemed, list[0].Type, "newest first")

	list, err = l.Transactions(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Len(t, repo.txs, 4)
}

func TestLedger_ConcurrentMutationsSerialised(t *testing.T) {
	l, repo := newTestLedger(time.Now())
	seed(repo, Account{UserID: "u1", PointsBalance: 1000})
	ctx := context.Background()

	g, ctx := errgroup.WithContext(ctx)
	for i := range 40 {
		g.Go(func() error {
			if i%2 == 0 {
				_, err := l.EarnPoints(ctx, "u1", decimal.NewFromInt(1), "")
				return err
			}
			_, err := l.RedeemPoints(ctx, "u1", 5, "")
			if errors.Is(err, ErrInsufficientBalance) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	// 20 earns of 10 points and 20 redeems of 5 points.
	assert.Equal(t, int64(1000+20*10-20*5), repo.account("u1").PointsBalance)

	// Replaying the log reproduces every BalanceAfter snapshot.
	require.Len(t, repo.txs, 40)
	running := int64(1000)
	for _, tx := range repo.txs {
		running += tx.Points
		assert.Equal(t, running, tx.BalanceAfter)
	}
}
