package algomart

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// The conditional update is linearizable under the store mutex, matching
// the compare-and-swap semantics a relational backend provides with
// `UPDATE ... WHERE status = $expected`.
type MemoryStore struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*Listing
	trades   map[uuid.UUID][]*Trade
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[uuid.UUID]*Listing),
		trades:   make(map[uuid.UUID][]*Trade),
	}
}

// SelectListing returns a copy of the listing or ErrNotFound.
func (s *MemoryStore) SelectListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *listing
	return &clone, nil
}

// InsertListing stores the listing, assigning an ID and timestamps when
// they are zero.
func (s *MemoryStore) InsertListing(ctx context.Context, listing *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	if listing.Status == "" {
		listing.Status = ListingAvailable
	}
	now := time.Now().UTC()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.UpdatedAt = now

	clone := *listing
	s.listings[listing.ID] = &clone
	return nil
}

// AvailableListings returns all AVAILABLE listings, newest first.
func (s *MemoryStore) AvailableListings(ctx context.Context) ([]Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listings := make([]Listing, 0)
	for _, listing := range s.listings {
		if listing.Status == ListingAvailable {
			listings = append(listings, *listing)
		}
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})
	return listings, nil
}

// ConditionalUpdateListingStatus performs the claim compare-and-swap.
// Returns false when the stored status no longer equals expected.
func (s *MemoryStore) ConditionalUpdateListingStatus(ctx context.Context, id uuid.UUID, expected, next ListingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[id]
	if !ok {
		return false, ErrNotFound
	}
	if listing.Status != expected {
		return false, nil
	}
	if !ValidListingTransition(listing.Status, next) {
		return false, nil
	}
	listing.Status = next
	listing.UpdatedAt = time.Now().UTC()
	return true, nil
}

// UpdateListingStatus sets the status unconditionally.
func (s *MemoryStore) UpdateListingStatus(ctx context.Context, id uuid.UUID, status ListingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[id]
	if !ok {
		return ErrNotFound
	}
	listing.Status = status
	listing.UpdatedAt = time.Now().UTC()
	return nil
}

// InsertTrade records a trade, deduplicating on (listing_id, txn_id): a
// retried insert with the same txid returns the existing row.
func (s *MemoryStore) InsertTrade(ctx context.Context, trade *Trade) (*Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trade.TxnID != "" {
		for _, existing := range s.trades[trade.ListingID] {
			if existing.TxnID == trade.TxnID {
				clone := *existing
				return &clone, nil
			}
		}
	}

	clone := *trade
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	now := time.Now().UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.trades[clone.ListingID] = append(s.trades[clone.ListingID], &clone)

	result := clone
	return &result, nil
}

// SelectTrade returns the trade for a listing and buyer, or ErrNotFound.
func (s *MemoryStore) SelectTrade(ctx context.Context, listingID uuid.UUID, buyerAddress string) (*Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, trade := range s.trades[listingID] {
		if trade.BuyerAddress == buyerAddress {
			clone := *trade
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

// Trades returns every recorded trade across all listings.
func (s *MemoryStore) Trades(ctx context.Context) ([]Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trades []Trade
	for _, listingTrades := range s.trades {
		for _, trade := range listingTrades {
			trades = append(trades, *trade)
		}
	}
	return trades, nil
}

// TradesForListing returns all trades recorded against a listing.
func (s *MemoryStore) TradesForListing(ctx context.Context, listingID uuid.UUID) ([]Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := make([]Trade, 0, len(s.trades[listingID]))
	for _, trade := range s.trades[listingID] {
		trades = append(trades, *trade)
	}
	return trades, nil
}
