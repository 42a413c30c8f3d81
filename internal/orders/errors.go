package orders

import "errors"

var (
	ErrNotFound       = errors.New("order not found")
	ErrStatusConflict = errors.New("order status changed concurrently")
	ErrDuplicate      = errors.New("order already exists")
)
