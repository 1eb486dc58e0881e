package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	algomart "github.com/algomart-labs/algomart-go"
)

// Journal implements algomart.Journal over the settlement_journal table,
// keyed by transaction ID so crash-replay records collapse into one row.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal wraps a connected pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Record upserts the entry by txn_id. A resolved entry is never demoted
// back to a pending status.
func (j *Journal) Record(ctx context.Context, entry algomart.JournalEntry) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO settlement_journal (txn_id, listing_id, buyer_address, seller_address, amount_algo, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (txn_id) DO UPDATE
		SET status = EXCLUDED.status, reason = EXCLUDED.reason, updated_at = now()
		WHERE settlement_journal.status <> $8`,
		entry.TxID, entry.ListingID, entry.BuyerAddress, entry.SellerAddress,
		entry.AmountAlgo, entry.Status, entry.Reason, algomart.JournalResolved)
	if err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// Resolve marks the entry final.
func (j *Journal) Resolve(ctx context.Context, txid string) error {
	tag, err := j.pool.Exec(ctx, `
		UPDATE settlement_journal SET status = $1, updated_at = now()
		WHERE txn_id = $2`, algomart.JournalResolved, txid)
	if err != nil {
		return fmt.Errorf("resolve journal entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return algomart.ErrNotFound
	}
	return nil
}

const journalColumns = `txn_id, listing_id, buyer_address, seller_address, amount_algo, status, reason`

func scanJournalEntry(row pgx.Row) (algomart.JournalEntry, error) {
	var e algomart.JournalEntry
	err := row.Scan(&e.TxID, &e.ListingID, &e.BuyerAddress, &e.SellerAddress, &e.AmountAlgo, &e.Status, &e.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return algomart.JournalEntry{}, algomart.ErrNotFound
		}
		return algomart.JournalEntry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	return e, nil
}

// Pending returns unresolved entries, oldest first, so reconciliation
// replays them in arrival order.
func (j *Journal) Pending(ctx context.Context) ([]algomart.JournalEntry, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT `+journalColumns+` FROM settlement_journal
		WHERE status <> $1 ORDER BY created_at ASC`, algomart.JournalResolved)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []algomart.JournalEntry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Get(ctx context.Context, txid string) (*algomart.JournalEntry, error) {
	row := j.pool.QueryRow(ctx, `
		SELECT `+journalColumns+` FROM settlement_journal WHERE txn_id = $1`, txid)
	e, err := scanJournalEntry(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
