package contract

import (
	"context"
	"errors"
)

var ErrContactNotFound = errors.New("customer contact address not found")

// Repository provides read access to contracts. The reminder run never writes through it.
type Repository interface {
	ListPublished(ctx context.Context) ([]*Contract, error)
}

// CustomerDirectory resolves the registered contact address (phone, chat id, email) of a customer.
type CustomerDirectory interface {
	ContactAddress(ctx context.Context, customerID int64) (string, error)
}
