package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Orders stores orders with their items, pricing and history as JSONB.
// Status changes are compare-and-set on the status column.
type Orders struct {
	DB *pgxpool.Pool
}

var _ orders.Repository = (*Orders)(nil)

const orderCols = `id, number, owner_id, items, pricing, shipping, payment, status, history, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                                          orders.Order
		status                                     string
		items, pricing, shipping, payment, history []byte
	)
	err := row.Scan(&o.ID, &o.Number, &o.OwnerID, &items, &pricing, &shipping, &payment, &status, &history, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{items, &o.Items},
		{pricing, &o.Pricing},
		{shipping, &o.Shipping},
		{payment, &o.Payment},
		{history, &o.History},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return orders.Order{}, fmt.Errorf("decode order %s: %w", o.ID, err)
		}
	}
	return o, nil
}

func (r *Orders) Create(ctx context.Context, o orders.Order) error {
	args := []any{o.ID, o.Number, o.OwnerID}
	for _, v := range []any{o.Items, o.Pricing, o.Shipping, o.Payment} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode order %s: %w", o.ID, err)
		}
		args = append(args, string(b))
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	args = append(args, string(o.Status), string(history), o.CreatedAt, o.UpdatedAt)

	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders(`+orderCols+`)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7::jsonb, $8, $9::jsonb, $10, $11)`, args...)
	if isUniqueViolation(err) {
		return orders.ErrDuplicate
	}
	return err
}

func (r *Orders) Get(ctx context.Context, id string) (orders.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, err
}

func (r *Orders) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

func (r *Orders) ListByOwner(ctx context.Context, ownerID string) ([]orders.Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE owner_id=$1 ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]orders.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Orders) UpdateStatus(ctx context.Context, id string, from orders.Status, entry orders.StatusEntry) (orders.Order, error) {
	b, err := json.Marshal([]orders.StatusEntry{entry})
	if err != nil {
		return orders.Order{}, err
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET status=$3, history = history || $4::jsonb, updated_at=$5
		WHERE id=$1 AND status=$2
		RETURNING `+orderCols,
		id, string(from), string(entry.Status), string(b), entry.At))
	if !errors.Is(err, pgx.ErrNoRows) {
		return o, err
	}

	ok, err := r.Exists(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return orders.Order{}, orders.ErrStatusConflict
}
