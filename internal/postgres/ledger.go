package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger keeps stock counters in the products table and the hold journal in
// holds. Each operation is one transaction; reserve is a conditional UPDATE
// so two buyers can never both take the last units.
type Ledger struct {
	DB  *pgxpool.Pool
	Log *zap.Logger
}

var _ inventory.Store = (*Ledger)(nil)

const productCols = `id, name, image, price::text, stock, reserved, updated_at`

func scanProduct(row pgx.Row) (inventory.Product, error) {
	var (
		p     inventory.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Image, &price, &p.Stock, &p.Reserved, &p.UpdatedAt); err != nil {
		return inventory.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return inventory.Product{}, fmt.Errorf("product %s price %q: %w", p.ID, price, err)
	}
	p.Price = d
	return p, nil
}

func notFound(productID string) error {
	return fmt.Errorf("%w: %s", inventory.ErrNotFound, productID)
}

func (l *Ledger) log() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

func (l *Ledger) Product(ctx context.Context, productID string) (inventory.Product, error) {
	p, err := scanProduct(l.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, notFound(productID)
	}
	return p, err
}

func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	var n int
	err := l.DB.QueryRow(ctx, `SELECT stock - reserved FROM products WHERE id=$1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, notFound(productID)
	}
	return n, err
}

func (l *Ledger) CheckAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	n, err := l.Available(ctx, productID)
	if errors.Is(err, inventory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= qty, nil
}

// errHoldRace aborts a reserve that lost a race to create the same hold.
var errHoldRace = errors.New("hold created concurrently")

func (l *Ledger) Reserve(ctx context.Context, ref, productID string, qty int) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	err := inTx(ctx, l.DB, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM holds WHERE ref=$1 AND product_id=$2 FOR UPDATE`, ref, productID).Scan(&status)
		switch {
		case err == nil:
			if inventory.HoldStatus(status) == inventory.HoldReserved {
				return nil
			}
			return inventory.ErrHoldClosed
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		ct, err := tx.Exec(ctx, `
			UPDATE products SET reserved = reserved + $2, updated_at = now()
			WHERE id=$1 AND stock - reserved >= $2`, productID, qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			var avail int
			err := tx.QueryRow(ctx, `SELECT stock - reserved FROM products WHERE id=$1`, productID).Scan(&avail)
			if errors.Is(err, pgx.ErrNoRows) {
				return notFound(productID)
			}
			if err != nil {
				return err
			}
			return &inventory.StockError{ProductID: productID, Requested: qty, Available: avail}
		}

		ct, err = tx.Exec(ctx, `
			INSERT INTO holds(ref, product_id, qty, status, created_at)
			VALUES ($1, $2, $3, 'RESERVED', now())
			ON CONFLICT (ref, product_id) DO NOTHING`, ref, productID, qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return errHoldRace
		}
		return nil
	})
	if errors.Is(err, errHoldRace) {
		// the concurrent call holds the units; undo ours by rolling back
		return nil
	}
	return err
}

// settle closes a reserved hold. Returns the held quantity, 0 if there was
// nothing to close.
func (l *Ledger) settle(ctx context.Context, ref, productID string, to inventory.HoldStatus) (int, error) {
	var qty int
	err := inTx(ctx, l.DB, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT qty FROM holds
			WHERE ref=$1 AND product_id=$2 AND status='RESERVED'
			FOR UPDATE`, ref, productID).Scan(&qty)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, productID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return notFound(productID)
			}
			return nil
		}
		if err != nil {
			return err
		}

		var stock, reserved int
		if err := tx.QueryRow(ctx,
			`SELECT stock, reserved FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock, &reserved); err != nil {
			return err
		}

		switch to {
		case inventory.HoldReleased:
			if reserved < qty {
				l.log().Warn("release would push reserved below zero, clamping",
					zap.String("product_id", productID),
					zap.String("ref", ref),
					zap.Int("reserved", reserved),
					zap.Int("quantity", qty))
			}
			_, err = tx.Exec(ctx, `
				UPDATE products SET reserved = GREATEST(reserved - $2, 0), updated_at = now()
				WHERE id=$1`, productID, qty)
		case inventory.HoldCommitted:
			if reserved < qty || stock < qty {
				return fmt.Errorf("%w: commit %d of product %s with stock=%d reserved=%d",
					inventory.ErrInvariant, qty, productID, stock, reserved)
			}
			_, err = tx.Exec(ctx, `
				UPDATE products SET stock = stock - $2, reserved = reserved - $2, updated_at = now()
				WHERE id=$1`, productID, qty)
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE holds SET status=$3 WHERE ref=$1 AND product_id=$2`, ref, productID, string(to))
		return err
	})
	if err != nil {
		return 0, err
	}
	return qty, nil
}

func (l *Ledger) Release(ctx context.Context, ref, productID string) (int, error) {
	return l.settle(ctx, ref, productID, inventory.HoldReleased)
}

func (l *Ledger) Commit(ctx context.Context, ref, productID string) error {
	_, err := l.settle(ctx, ref, productID, inventory.HoldCommitted)
	return err
}

func (l *Ledger) Holds(ctx context.Context, ref string) ([]inventory.Hold, error) {
	return l.queryHolds(ctx, `
		SELECT ref, product_id, qty, status, created_at FROM holds
		WHERE ref=$1 ORDER BY created_at, product_id`, ref)
}

func (l *Ledger) StaleHolds(ctx context.Context, before time.Time) ([]inventory.Hold, error) {
	return l.queryHolds(ctx, `
		SELECT ref, product_id, qty, status, created_at FROM holds
		WHERE status='RESERVED' AND created_at < $1
		ORDER BY created_at, ref, product_id`, before)
}

func (l *Ledger) queryHolds(ctx context.Context, sql string, args ...any) ([]inventory.Hold, error) {
	rows, err := l.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Hold
	for rows.Next() {
		var (
			h      inventory.Hold
			status string
		)
		if err := rows.Scan(&h.Ref, &h.ProductID, &h.Quantity, &status, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Status = inventory.HoldStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (l *Ledger) Upsert(ctx context.Context, in inventory.ProductInput) (inventory.Product, error) {
	if err := in.Validate(); err != nil {
		return inventory.Product{}, err
	}
	p, err := scanProduct(l.DB.QueryRow(ctx, `
		INSERT INTO products(id, name, image, price, stock, reserved, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, 0, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			image = EXCLUDED.image,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			updated_at = now()
		WHERE products.reserved <= EXCLUDED.stock
		RETURNING `+productCols,
		in.ID, in.Name, in.Image, in.Price.String(), in.Stock))
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, inventory.ErrStockBelowReserved
	}
	return p, err
}

func (l *Ledger) Remove(ctx context.Context, productID string) error {
	ct, err := l.DB.Exec(ctx, `DELETE FROM products WHERE id=$1 AND reserved = 0`, productID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := l.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return inventory.ErrHasReservations
	}
	return notFound(productID)
}
