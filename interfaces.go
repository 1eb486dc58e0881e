package algomart

import (
	"context"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/google/uuid"
)

// SigningSession is the coordinator-facing view of a wallet session.
// Implemented by wallet.Manager.
type SigningSession interface {
	// Session returns a snapshot of the current session state.
	Session() Session

	// SignTransaction requests a signature from the external signing agent.
	// Blocks until the user approves, declines, or ctx is cancelled.
	SignTransaction(ctx context.Context, txn types.Transaction) ([]byte, error)

	// Disconnected returns a channel that is closed when the session ends,
	// whether locally or by an out-of-band signal from the agent. The
	// coordinator selects on it so "session vanished mid-flow" is a normal,
	// recoverable input rather than an unhandled callback.
	Disconnected() <-chan struct{}
}

// Ledger abstracts payment building, submission, and confirmation against
// the Algorand network. Implemented by ledger.Watcher.
type Ledger interface {
	// BuildPayment builds an unsigned payment transaction from the intent,
	// fetching suggested network params for this attempt.
	BuildPayment(ctx context.Context, intent PaymentIntent) (types.Transaction, error)

	// SubmitAndConfirm submits the signed payload once and polls pending
	// status round-by-round until confirmed, rejected by the pool, or
	// timeoutRounds rounds elapse. A confirmation_timeout error means the
	// outcome is unknown, not that the payment failed. Never resubmits.
	SubmitAndConfirm(ctx context.Context, signedTxn []byte, timeoutRounds uint64) (*Receipt, error)

	// ConfirmOnly resumes confirmation polling for an already-submitted
	// transaction identifier.
	ConfirmOnly(ctx context.Context, txid string, timeoutRounds uint64) (*Receipt, error)
}

// Store is the mutable catalog/trade record. The conditional listing update
// must be atomic at the store: it is the sole mechanism preventing two
// concurrent buyers from both proceeding to payment for the same listing.
type Store interface {
	SelectListing(ctx context.Context, id uuid.UUID) (*Listing, error)
	InsertListing(ctx context.Context, listing *Listing) error
	AvailableListings(ctx context.Context) ([]Listing, error)

	// ConditionalUpdateListingStatus transitions the listing status only if
	// its current stored status equals expected (compare-and-swap). Returns
	// false when zero rows were affected, i.e. the claim was lost.
	ConditionalUpdateListingStatus(ctx context.Context, id uuid.UUID, expected, next ListingStatus) (bool, error)

	// UpdateListingStatus sets the status unconditionally. Used only to
	// finalize a listing the caller already holds the claim on.
	UpdateListingStatus(ctx context.Context, id uuid.UUID, status ListingStatus) error

	// InsertTrade records a trade. Idempotent on (listing_id, txn_id): a
	// retried insert with the same txid returns the existing row instead of
	// double-recording.
	InsertTrade(ctx context.Context, trade *Trade) (*Trade, error)

	SelectTrade(ctx context.Context, listingID uuid.UUID, buyerAddress string) (*Trade, error)
}

// JournalStatus classifies an unresolved settlement outcome.
type JournalStatus string

const (
	// JournalPendingConfirmation means a payment was submitted but its
	// outcome is unknown (timeout or abandoned mid-confirmation).
	JournalPendingConfirmation JournalStatus = "PENDING_CONFIRMATION"
	// JournalReconcileNeeded means the payment confirmed on-chain but the
	// off-chain bookkeeping did not complete.
	JournalReconcileNeeded JournalStatus = "RECONCILE_NEEDED"
	// JournalResolved is terminal.
	JournalResolved JournalStatus = "RESOLVED"
)

// JournalEntry records an on-chain payment whose off-chain bookkeeping is
// incomplete. The txid is the dedup key for idempotent retries.
type JournalEntry struct {
	TxID          string        `json:"txid"`
	ListingID     uuid.UUID     `json:"listing_id"`
	BuyerAddress  string        `json:"buyer_address"`
	SellerAddress string        `json:"seller_address"`
	AmountAlgo    float64       `json:"amount_algo"`
	Status        JournalStatus `json:"status"`
	Reason        string        `json:"reason,omitempty"`
}

// Journal durably records settlement outcomes that need out-of-band
// resolution. Entries are never retried against the ledger; only the
// off-chain write is redone, keyed by txid.
type Journal interface {
	// Record stores an entry. Idempotent by TxID: recording an existing
	// txid updates its status and reason but never duplicates it.
	Record(ctx context.Context, entry JournalEntry) error

	// Resolve marks the entry for txid as resolved.
	Resolve(ctx context.Context, txid string) error

	// Pending returns all unresolved entries.
	Pending(ctx context.Context) ([]JournalEntry, error)

	Get(ctx context.Context, txid string) (*JournalEntry, error)
}
