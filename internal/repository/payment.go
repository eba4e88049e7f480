package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qkart/internal/domain/payment"
)

const paymentColumns = `id, intent_id, client_secret, user_id, order_id, amount, currency,
	status, payment_method, failure_message, created_at, updated_at`

const (
	createPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getPaymentByIntentSQL  = `SELECT ` + paymentColumns + ` FROM payments WHERE intent_id = $1`
	lockPaymentByIntentSQL = getPaymentByIntentSQL + ` FOR UPDATE`

	updatePaymentSQL = `UPDATE payments SET status = $2, payment_method = $3, failure_message = $4,
		updated_at = $5 WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	conn
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{conn{pool: pool}}
}

// Create stores a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.querier(ctx).Exec(ctx, createPaymentSQL,
		p.ID, p.IntentID, p.ClientSecret, p.UserID, p.OrderID, p.Amount, p.Currency,
		string(p.Status), p.PaymentMethod, p.FailureMessage, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// GetByIntentID returns the payment for a gateway intent.
func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentByIntentSQL, intentID)
}

// LockByIntentID is GetByIntentID with FOR UPDATE.
func (r *PaymentRepository) LockByIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	return r.one(ctx, lockPaymentByIntentSQL, intentID)
}

func (r *PaymentRepository) one(ctx context.Context, sql, intentID string) (*payment.Payment, error) {
	rows, err := r.querier(ctx).Query(ctx, sql, intentID)
	if err != nil {
		return nil, fmt.Errorf("getting payment for intent %q: %w", intentID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment for intent %q: %w", intentID, err)
	}
	return &p, nil
}

// Update stores the status fields of a payment.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	_, err := r.querier(ctx).Exec(ctx, updatePaymentSQL,
		p.ID, string(p.Status), p.PaymentMethod, p.FailureMessage, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	return nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.IntentID, &p.ClientSecret, &p.UserID, &p.OrderID, &p.Amount, &p.Currency,
		&status, &p.PaymentMethod, &p.FailureMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = payment.Status(status)
	return p, err
}
