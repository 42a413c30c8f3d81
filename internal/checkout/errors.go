package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrItemUnavailable   = errors.New("item no longer available")
	ErrAlreadyTerminal   = errors.New("order already delivered or cancelled")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAddress    = errors.New("invalid shipping address")
	ErrInvalidPayment    = errors.New("unsupported payment method")
	ErrInvalidShipping   = errors.New("unsupported shipping method")
)

// ItemError names a cart line whose product vanished from the catalog.
type ItemError struct {
	ProductID string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("product %s is no longer available", e.ProductID)
}

func (e *ItemError) Unwrap() error { return ErrItemUnavailable }

// AddressError lists the required address fields left blank.
type AddressError struct {
	Missing []string
}

func (e *AddressError) Error() string {
	return "missing address fields: " + strings.Join(e.Missing, ", ")
}

func (e *AddressError) Unwrap() error { return ErrInvalidAddress }
