// Package inventory is the single source of truth for per-product stock
// counters. Available is always derived as Stock - Reserved and never stored.
//
// Every reservation is recorded as a Hold under a reference (the order id),
// so reserve and release are idempotent per (ref, product) and orphaned
// reservations can be found after a crash.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Reserved  int             `json:"reserved"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (p Product) Available() int { return p.Stock - p.Reserved }

// check validates the counters. Every mutation runs it on the candidate
// state before committing.
func (p Product) check() error {
	if p.Stock < 0 || p.Reserved < 0 || p.Reserved > p.Stock {
		return fmt.Errorf("%w: product %s stock=%d reserved=%d", ErrInvariant, p.ID, p.Stock, p.Reserved)
	}
	return nil
}

type ProductInput struct {
	ID    string
	Name  string
	Image string
	Price decimal.Decimal
	Stock int
}

// Validate checks the fields catalog management must supply.
func (in ProductInput) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidProduct)
	}
	if !in.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidProduct)
	}
	if in.Stock < 0 {
		return fmt.Errorf("%w: stock must be >= 0", ErrInvalidProduct)
	}
	return nil
}

type HoldStatus string

const (
	HoldReserved  HoldStatus = "RESERVED"
	HoldReleased  HoldStatus = "RELEASED"
	HoldCommitted HoldStatus = "COMMITTED"
)

type Hold struct {
	Ref       string     `json:"ref"`
	ProductID string     `json:"product_id"`
	Quantity  int        `json:"quantity"`
	Status    HoldStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Reader is the read-only side used by carts.
type Reader interface {
	Product(ctx context.Context, productID string) (Product, error)
	CheckAvailable(ctx context.Context, productID string, qty int) (bool, error)
	Available(ctx context.Context, productID string) (int, error)
}

type Ledger interface {
	Reader

	// Reserve: if available >= qty then reserved += qty, recorded as hold (ref, productID).
	Reserve(ctx context.Context, ref, productID string, qty int) error
	// Release: flips the hold to released and gives its units back. Returns
	// the units released; 0 when there was nothing to release.
	Release(ctx context.Context, ref, productID string) (int, error)
	// Commit: the held units leave the warehouse (stock and reserved both drop).
	Commit(ctx context.Context, ref, productID string) error

	Holds(ctx context.Context, ref string) ([]Hold, error)
	StaleHolds(ctx context.Context, before time.Time) ([]Hold, error)
}

// Catalog is how catalog management feeds products and stock levels in.
type Catalog interface {
	Upsert(ctx context.Context, in ProductInput) (Product, error)
	Remove(ctx context.Context, productID string) error
}

type Store interface {
	Ledger
	Catalog
}
