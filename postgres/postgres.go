// Package postgres backs the marketplace store and the settlement journal
// with PostgreSQL via pgx connection pools.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const listingsDDL = `
CREATE TABLE IF NOT EXISTS listings (
	id UUID PRIMARY KEY,
	seller_address TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price_algo DOUBLE PRECISION NOT NULL,
	media_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'AVAILABLE',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings (status);
`

const tradesDDL = `
CREATE TABLE IF NOT EXISTS trades (
	id UUID PRIMARY KEY,
	listing_id UUID NOT NULL REFERENCES listings (id),
	buyer_address TEXT NOT NULL,
	seller_address TEXT NOT NULL,
	amount_algo DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	txn_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (listing_id, txn_id)
);
`

const journalDDL = `
CREATE TABLE IF NOT EXISTS settlement_journal (
	txn_id TEXT PRIMARY KEY,
	listing_id UUID NOT NULL,
	buyer_address TEXT NOT NULL,
	seller_address TEXT NOT NULL,
	amount_algo DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_journal_status ON settlement_journal (status);
`

// Migrate creates the schema when it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{listingsDDL, tradesDDL, journalDDL} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
