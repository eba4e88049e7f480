package cart

import (
	"context"

	"github.com/xenking/qkart/internal/domain/apperr"
)

// ErrNotFound is returned when the user has no cart.
var ErrNotFound = apperr.New(apperr.KindNotFound, "cart_not_found", "Cart not found")

// Line is one product entry in a cart.
type Line struct {
	ProductID string
	Quantity  int
}

// Snapshot is the cart content read at checkout.
type Snapshot struct {
	CartID string
	UserID string
	Lines  []Line
}

// IsEmpty reports whether the cart has no lines.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// ProductIDs returns the distinct product ids in line order.
func (s *Snapshot) ProductIDs() []string {
	seen := make(map[string]struct{}, len(s.Lines))
	ids := make([]string, 0, len(s.Lines))
	for _, l := range s.Lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

// Repository is the cart collaborator used by checkout.
type Repository interface {
	// LoadForUpdate returns the user's cart and locks it until the
	// surrounding transaction ends.
	LoadForUpdate(ctx context.Context, userID string) (*Snapshot, error)
	// Clear removes every line from the cart.
	Clear(ctx context.Context, cartID string) error
}
