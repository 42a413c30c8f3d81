package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		image      TEXT NOT NULL DEFAULT '',
		price      NUMERIC(12,2) NOT NULL CHECK (price > 0),
		stock      INT NOT NULL CHECK (stock >= 0),
		reserved   INT NOT NULL DEFAULT 0 CHECK (reserved >= 0 AND reserved <= stock),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS holds (
		ref        TEXT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		qty        INT NOT NULL CHECK (qty > 0),
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (ref, product_id)
	)`,
	`CREATE INDEX IF NOT EXISTS holds_reserved_created_idx ON holds (created_at) WHERE status = 'RESERVED'`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         TEXT PRIMARY KEY,
		number     TEXT NOT NULL UNIQUE,
		owner_id   TEXT NOT NULL,
		items      JSONB NOT NULL,
		pricing    JSONB NOT NULL,
		shipping   JSONB NOT NULL,
		payment    JSONB NOT NULL,
		status     TEXT NOT NULL,
		history    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_owner_created_idx ON orders (owner_id, created_at DESC)`,
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
