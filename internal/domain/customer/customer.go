package customer

import (
	"context"

	"github.com/xenking/qkart/internal/domain/apperr"
)

var (
	ErrUserNotFound    = apperr.New(apperr.KindNotFound, "user_not_found", "User not found")
	ErrAddressNotFound = apperr.New(apperr.KindNotFound, "address_not_found", "Address not found")
)

// User is the account placing orders.
type User struct {
	ID    string
	Email string
	Name  string
}

// Address is a shipping address from the user's address book.
type Address struct {
	ID         string
	UserID     string
	FullName   string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// Repository is the user and address-book collaborator.
type Repository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetAddress(ctx context.Context, id string) (*Address, error)
}
