package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qkart/internal/domain/cart"
)

const (
	lockCartSQL = `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`

	listCartItemsSQL = `SELECT product_id, quantity FROM cart_items
		WHERE cart_id = $1 ORDER BY added_at, product_id`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`
	touchCartSQL      = `UPDATE carts SET updated_at = now() WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	conn
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{conn{pool: pool}}
}

// LoadForUpdate locks the user's cart row and reads its lines.
func (r *CartRepository) LoadForUpdate(ctx context.Context, userID string) (*cart.Snapshot, error) {
	q := r.querier(ctx)

	snap := &cart.Snapshot{UserID: userID}
	if err := q.QueryRow(ctx, lockCartSQL, userID).Scan(&snap.CartID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("locking cart of %q: %w", userID, err)
	}

	rows, err := q.Query(ctx, listCartItemsSQL, snap.CartID)
	if err != nil {
		return nil, fmt.Errorf("loading cart %q: %w", snap.CartID, err)
	}
	snap.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Quantity)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading cart %q: %w", snap.CartID, err)
	}
	return snap, nil
}

// Clear deletes every item of the cart.
func (r *CartRepository) Clear(ctx context.Context, cartID string) error {
	q := r.querier(ctx)
	if _, err := q.Exec(ctx, clearCartItemsSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %q: %w", cartID, err)
	}
	if _, err := q.Exec(ctx, touchCartSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %q: %w", cartID, err)
	}
	return nil
}
