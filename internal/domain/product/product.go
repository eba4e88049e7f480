package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.New(apperr.KindNotFound, "product_not_found", "Product not found")

// Product is the part of a catalog item checkout needs: its current price.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Repository provides price lookups for the product catalog.
type Repository interface {
	// GetByIDs returns the products that exist among ids, in no particular
	// order. Missing ids are simply absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
