package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	algomart "github.com/algomart-labs/algomart-go"
)

// Store implements algomart.Store over a pgx pool. The conditional status
// update is a single UPDATE guarded by the expected status; its row count
// is the claim arbiter under concurrent buyers.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connected pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const listingColumns = `id, seller_address, title, description, price_algo, media_hash, status, created_at, updated_at`

func scanListing(row pgx.Row) (*algomart.Listing, error) {
	var l algomart.Listing
	err := row.Scan(&l.ID, &l.SellerAddress, &l.Title, &l.Description, &l.PriceAlgo, &l.MediaHash, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, algomart.ErrNotFound
		}
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return &l, nil
}

func (s *Store) SelectListing(ctx context.Context, id uuid.UUID) (*algomart.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

func (s *Store) InsertListing(ctx context.Context, listing *algomart.Listing) error {
	now := time.Now().UTC()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	if listing.UpdatedAt.IsZero() {
		listing.UpdatedAt = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (id, seller_address, title, description, price_algo, media_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		listing.ID, listing.SellerAddress, listing.Title, listing.Description,
		listing.PriceAlgo, listing.MediaHash, listing.Status, listing.CreatedAt, listing.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (s *Store) AvailableListings(ctx context.Context) ([]algomart.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE status = $1 ORDER BY created_at DESC`, algomart.ListingAvailable)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []algomart.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// ConditionalUpdateListingStatus transitions the listing status only when
// the current status matches expected. Returns false without error when
// another writer got there first.
func (s *Store) ConditionalUpdateListingStatus(ctx context.Context, id uuid.UUID, expected, next algomart.ListingStatus) (bool, error) {
	if !algomart.ValidListingTransition(expected, next) {
		return false, fmt.Errorf("invalid listing transition %s -> %s", expected, next)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`, next, id, expected)
	if err != nil {
		return false, fmt.Errorf("update listing status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateListingStatus(ctx context.Context, id uuid.UUID, next algomart.ListingStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings SET status = $1, updated_at = now() WHERE id = $2`, next, id)
	if err != nil {
		return fmt.Errorf("update listing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return algomart.ErrNotFound
	}
	return nil
}

// InsertTrade records a trade. Idempotent on (listing_id, txn_id): a
// replay returns the previously recorded trade instead of a duplicate.
// Zero timestamps are stamped here; bound parameters bypass the column
// defaults.
func (s *Store) InsertTrade(ctx context.Context, trade *algomart.Trade) (*algomart.Trade, error) {
	now := time.Now().UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	if trade.UpdatedAt.IsZero() {
		trade.UpdatedAt = now
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, listing_id, buyer_address, seller_address, amount_algo, status, txn_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (listing_id, txn_id) DO NOTHING`,
		trade.ID, trade.ListingID, trade.BuyerAddress, trade.SellerAddress,
		trade.AmountAlgo, trade.Status, trade.TxnID, trade.CreatedAt, trade.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return trade, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, listing_id, buyer_address, seller_address, amount_algo, status, txn_id, created_at, updated_at
		FROM trades WHERE listing_id = $1 AND txn_id = $2`, trade.ListingID, trade.TxnID)
	return scanTrade(row)
}

func scanTrade(row pgx.Row) (*algomart.Trade, error) {
	var t algomart.Trade
	err := row.Scan(&t.ID, &t.ListingID, &t.BuyerAddress, &t.SellerAddress, &t.AmountAlgo, &t.Status, &t.TxnID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, algomart.ErrNotFound
		}
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	return &t, nil
}

func (s *Store) SelectTrade(ctx context.Context, listingID uuid.UUID, buyerAddress string) (*algomart.Trade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, listing_id, buyer_address, seller_address, amount_algo, status, txn_id, created_at, updated_at
		FROM trades WHERE listing_id = $1 AND buyer_address = $2
		ORDER BY created_at DESC LIMIT 1`, listingID, buyerAddress)
	return scanTrade(row)
}

// Trades lists all trades, most recent first.
func (s *Store) Trades(ctx context.Context) ([]algomart.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, listing_id, buyer_address, seller_address, amount_algo, status, txn_id, created_at, updated_at
		FROM trades ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []algomart.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}
