package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Transactor runs fn in a single unit of work.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service exposes order queries and lifecycle transitions.
type Service struct {
	orders Repository
	tx     Transactor
	now    func() time.Time
}

// NewService creates an order Service.
func NewService(orders Repository, tx Transactor) *Service {
	return &Service{orders: orders, tx: tx, now: time.Now}
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// GetForUser returns an order owned by userID. Orders of other users are
// reported as not found.
func (s *Service) GetForUser(ctx context.Context, userID, id string) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	list, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

// UpdateStatus transitions an order under its row lock.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, upd StatusUpdate) (*Order, error) {
	var o *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.LockByID(ctx, id); err != nil {
			return errors.Wrap(err, "lock order")
		}
		if err := o.SetStatus(to, upd, s.now()); err != nil {
			return err
		}
		return s.orders.UpdateStatus(ctx, o)
	})
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	return o, nil
}

// ConfirmPending confirms an order awaiting payment. Orders in any other
// status are returned unchanged with confirmed set to false.
func (s *Service) ConfirmPending(ctx context.Context, id string) (o *Order, confirmed bool, err error) {
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.LockByID(ctx, id); err != nil {
			return errors.Wrap(err, "lock order")
		}
		if o.Status != StatusPending {
			return nil
		}
		if err := o.SetStatus(StatusConfirmed, StatusUpdate{}, s.now()); err != nil {
			return err
		}
		confirmed = true
		return s.orders.UpdateStatus(ctx, o)
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "confirm order")
	}
	return o, confirmed, nil
}
