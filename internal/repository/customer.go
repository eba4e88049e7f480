package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qkart/internal/domain/customer"
)

const (
	getUserSQL    = `SELECT id, email, name FROM users WHERE id = $1`
	getAddressSQL = `SELECT id, user_id, full_name, line1, line2, city, postal_code, country
		FROM addresses WHERE id = $1`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	conn
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{conn{pool: pool}}
}

// GetUser returns a user by id.
func (r *CustomerRepository) GetUser(ctx context.Context, id string) (*customer.User, error) {
	var u customer.User
	err := r.querier(ctx).QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Email, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &u, nil
}

// GetAddress returns an address by id.
func (r *CustomerRepository) GetAddress(ctx context.Context, id string) (*customer.Address, error) {
	var a customer.Address
	err := r.querier(ctx).QueryRow(ctx, getAddressSQL, id).Scan(
		&a.ID, &a.UserID, &a.FullName, &a.Line1, &a.Line2, &a.City, &a.PostalCode, &a.Country,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}
