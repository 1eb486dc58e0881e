package algomart

import (
	"time"

	"github.com/google/uuid"
)

// ListingStatus is the lifecycle state of a catalog listing.
type ListingStatus string

const (
	// ListingAvailable means the listing can be claimed by a buyer.
	ListingAvailable ListingStatus = "AVAILABLE"
	// ListingPendingSale means a buyer holds the claim while payment settles.
	// This is the only status that may revert to AVAILABLE (compensation).
	ListingPendingSale ListingStatus = "PENDING_SALE"
	// ListingSold is terminal.
	ListingSold ListingStatus = "SOLD"
	// ListingCancelled is terminal.
	ListingCancelled ListingStatus = "CANCELLED"
)

// ValidListingTransition reports whether a listing may move from one status
// to another. SOLD and CANCELLED are terminal; PENDING_SALE may revert to
// AVAILABLE when a settlement attempt is compensated.
func ValidListingTransition(from, to ListingStatus) bool {
	switch from {
	case ListingAvailable:
		return to == ListingPendingSale || to == ListingSold || to == ListingCancelled
	case ListingPendingSale:
		return to == ListingAvailable || to == ListingSold
	default:
		return false
	}
}

// Listing is an item offered for sale. The price is denominated in whole
// Algos; the media hash is a content-addressed IPFS reference.
type Listing struct {
	ID            uuid.UUID     `json:"id"`
	SellerAddress string        `json:"seller_address"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	PriceAlgo     float64       `json:"price_algo"`
	MediaHash     string        `json:"media_hash"`
	Status        ListingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	TradeInitiated    TradeStatus = "INITIATED"
	TradeFunded       TradeStatus = "FUNDED"
	TradeCompleted    TradeStatus = "COMPLETED"
	TradeRefundNeeded TradeStatus = "REFUND_NEEDED"
	TradeRefunded     TradeStatus = "REFUNDED"
)

// Trade records a settled (or settling) purchase. Both party addresses are
// carried so the record stays auditable independent of listing mutation.
// TxnID is set once a signed payment is submitted and is immutable after.
type Trade struct {
	ID            uuid.UUID   `json:"id"`
	ListingID     uuid.UUID   `json:"listing_id"`
	BuyerAddress  string      `json:"buyer_address"`
	SellerAddress string      `json:"seller_address"`
	AmountAlgo    float64     `json:"amount_algo"`
	Status        TradeStatus `json:"status"`
	TxnID         string      `json:"txn_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// PaymentIntent describes a single payment attempt. Built fresh per attempt,
// never persisted; suggested network params are attached at build time.
type PaymentIntent struct {
	From             string
	To               string
	AmountMicroAlgos uint64
	Note             []byte
}

// Receipt is the finalized result of a confirmed payment.
type Receipt struct {
	TxID           string `json:"txid"`
	ConfirmedRound uint64 `json:"confirmed_round"`
}

// Session is a snapshot of the wallet session state. The invariant
// Connected == (AccountAddress != "") holds for every snapshot handed out.
type Session struct {
	AccountAddress string `json:"account_address,omitempty"`
	Connected      bool   `json:"connected"`
}
