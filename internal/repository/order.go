package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qkart/internal/domain/order"
)

const orderColumns = `id, user_id, shipping_address_id, subtotal, coupon_code, discount_amount,
	total_amount, payment_method, status, tracking_number, carrier, estimated_delivery_date,
	created_at, updated_at, confirmed_at, shipped_at, delivered_at, cancelled_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	createOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, quantity, price_at_purchase)
		VALUES ($1, $2, $3, $4, $5)`

	getOrderSQL   = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	lockOrderSQL  = getOrderSQL + ` FOR UPDATE`
	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listOrderItemsSQL = `SELECT order_id, product_id, quantity, price_at_purchase
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	listOrderAddressesSQL = `SELECT id, full_name, line1, line2, city, postal_code, country
		FROM addresses WHERE id = ANY($1)`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, tracking_number = $3, carrier = $4,
		updated_at = $5, confirmed_at = $6, shipped_at = $7, delivered_at = $8, cancelled_at = $9
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	conn
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{conn{pool: pool}}
}

// Create persists a new order with its items in one batch.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(createOrderSQL,
		o.ID, o.UserID, o.ShippingAddressID, o.Subtotal, nullString(o.CouponCode), o.DiscountAmount,
		o.TotalAmount, o.PaymentMethod, string(o.Status), o.TrackingNumber, o.Carrier, o.EstimatedDeliveryDate,
		o.CreatedAt, o.UpdatedAt, o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt,
	)
	for i, item := range o.Items {
		batch.Queue(createOrderItemSQL, o.ID, i, item.ProductID, item.Quantity, item.PriceAtPurchase)
	}

	if err := r.querier(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderSQL, id)
}

// LockByID is Get with FOR UPDATE on the order row.
func (r *OrderRepository) LockByID(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, lockOrderSQL, id)
}

func (r *OrderRepository) one(ctx context.Context, sql, id string) (*order.Order, error) {
	rows, err := r.querier(ctx).Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	list := []order.Order{o}
	if err := r.attachItems(ctx, list); err != nil {
		return nil, err
	}
	if err := r.attachAddresses(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.querier(ctx).Query(ctx, listOrdersSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	list, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	if err := r.attachItems(ctx, list); err != nil {
		return nil, err
	}
	if err := r.attachAddresses(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateStatus stores the status, tracking and timestamp fields.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := r.querier(ctx).Exec(ctx, updateOrderStatusSQL,
		o.ID, string(o.Status), o.TrackingNumber, o.Carrier,
		o.UpdatedAt, o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.querier(ctx).Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    order.Item
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.PriceAtPurchase); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}
	return nil
}

func (r *OrderRepository) attachAddresses(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ShippingAddressID)
	}

	rows, err := r.querier(ctx).Query(ctx, listOrderAddressesSQL, ids)
	if err != nil {
		return fmt.Errorf("loading shipping addresses: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*order.Address, len(ids))
	for rows.Next() {
		var (
			id   string
			addr order.Address
		)
		if err := rows.Scan(&id, &addr.FullName, &addr.Line1, &addr.Line2, &addr.City, &addr.PostalCode, &addr.Country); err != nil {
			return fmt.Errorf("scanning shipping address: %w", err)
		}
		byID[id] = &addr
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading shipping addresses: %w", err)
	}
	for i := range orders {
		orders[i].ShippingAddress = byID[orders[i].ShippingAddressID]
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o          order.Order
		couponCode *string
		status     string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.ShippingAddressID, &o.Subtotal, &couponCode, &o.DiscountAmount,
		&o.TotalAmount, &o.PaymentMethod, &status, &o.TrackingNumber, &o.Carrier, &o.EstimatedDeliveryDate,
		&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	o.CouponCode = derefString(couponCode)
	o.Status = order.Status(status)
	return o, err
}
