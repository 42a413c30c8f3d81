package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidProduct     = errors.New("invalid product")
	ErrStockBelowReserved = errors.New("stock cannot drop below reserved units")
	ErrHasReservations    = errors.New("cannot remove product with reserved stock")
	ErrHoldClosed         = errors.New("hold already released or committed")
	ErrInvariant          = errors.New("inventory invariant violated")
)

// StockError names the product a reservation or availability check failed for.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

func notFound(productID string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, productID)
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
