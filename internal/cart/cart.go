// Package cart holds each user's working set of intended purchases. A cart
// only reads the inventory ledger to check availability; it never reserves.
package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/pricing"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must not be negative")
	ErrItemNotInCart   = errors.New("item not in cart")
	ErrInvalidCart     = errors.New("invalid cart")
)

type Item struct {
	ProductID      string            `json:"product_id"`
	Name           string            `json:"name"`
	Image          string            `json:"image,omitempty"`
	Price          decimal.Decimal   `json:"price"`
	Quantity       int               `json:"quantity"`
	Specifications map[string]string `json:"specifications,omitempty"`
	AddedAt        time.Time         `json:"added_at"`
}

type Cart struct {
	OwnerID string `json:"owner_id"`
	Items   []Item `json:"items"`
	// PendingOrderID is set while a checkout for this cart is in flight.
	PendingOrderID string    `json:"pending_order_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Cart) index(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Quantity returns how many units of productID the cart holds.
func (c *Cart) Quantity(productID string) int {
	if i := c.index(productID); i >= 0 {
		return c.Items[i].Quantity
	}
	return 0
}

func (c *Cart) remove(productID string) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}

func (c *Cart) Empty() bool { return len(c.Items) == 0 }

// Validate checks that product IDs are unique and every quantity is >= 1.
func (c *Cart) Validate() error {
	seen := make(map[string]struct{}, len(c.Items))
	for _, it := range c.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("%w: %s has quantity %d", ErrInvalidCart, it.ProductID, it.Quantity)
		}
		if _, dup := seen[it.ProductID]; dup {
			return fmt.Errorf("%w: duplicate line for %s", ErrInvalidCart, it.ProductID)
		}
		seen[it.ProductID] = struct{}{}
	}
	return nil
}

func (c Cart) clone() Cart {
	items := make([]Item, len(c.Items))
	for i, it := range c.Items {
		it.Specifications = copySpecs(it.Specifications)
		items[i] = it
	}
	c.Items = items
	return c
}

func copySpecs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergeSpecs overlays non-empty values from next onto cur.
func mergeSpecs(cur, next map[string]string) map[string]string {
	if len(next) == 0 {
		return cur
	}
	out := copySpecs(cur)
	if out == nil {
		out = make(map[string]string, len(next))
	}
	for k, v := range next {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

type Line struct {
	Item
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available int             `json:"available"`
	InStock   bool            `json:"in_stock"`
}

type View struct {
	OwnerID   string         `json:"owner_id"`
	Items     []Line         `json:"items"`
	Totals    pricing.Totals `json:"totals"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// Count returns the total units across all lines.
func (v View) Count() int {
	n := 0
	for _, l := range v.Items {
		n += l.Quantity
	}
	return n
}
