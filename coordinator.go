package algomart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a coordinator state machine position. A purchase attempt runs
// IDLE -> CLAIMING -> PAYMENT_REQUESTED -> SUBMITTING -> CONFIRMING ->
// RECORDING -> COMPLETE, with failure exits for each way the flow can end
// early.
type State string

const (
	StateIdle             State = "IDLE"
	StateClaiming         State = "CLAIMING"
	StatePaymentRequested State = "PAYMENT_REQUESTED"
	StateSubmitting       State = "SUBMITTING"
	StateConfirming       State = "CONFIRMING"
	StateRecording        State = "RECORDING"
	StateComplete         State = "COMPLETE"

	StateClaimDenied       State = "CLAIM_DENIED"
	StateSigningDenied     State = "SIGNING_DENIED"
	StateRejected          State = "REJECTED"
	StateTimeoutUnresolved State = "TIMEOUT_UNRESOLVED"
	StateReconcileNeeded   State = "RECONCILE_NEEDED"
)

// DefaultTimeoutRounds matches the network's typical confirmation window.
const DefaultTimeoutRounds uint64 = 4

// Coordinator orchestrates a purchase: verify purchasability, optimistically
// claim the listing, build and sign the payment, submit and confirm it, and
// record the trade — compensating the claim whenever a later step fails
// before any value moved.
type Coordinator struct {
	store   Store
	wallet  SigningSession
	ledger  Ledger
	journal Journal
	log     *zap.Logger

	timeoutRounds uint64
	stateHooks    []StateHook
}

// CoordinatorOption configures the coordinator
type CoordinatorOption func(*Coordinator)

// WithTimeoutRounds sets the confirmation window in rounds.
func WithTimeoutRounds(rounds uint64) CoordinatorOption {
	return func(c *Coordinator) {
		if rounds > 0 {
			c.timeoutRounds = rounds
		}
	}
}

// WithJournal sets the reconciliation journal backend.
func WithJournal(journal Journal) CoordinatorOption {
	return func(c *Coordinator) {
		c.journal = journal
	}
}

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(log *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator creates a trade settlement coordinator.
func NewCoordinator(store Store, wallet SigningSession, ledger Ledger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:         store,
		wallet:        wallet,
		ledger:        ledger,
		journal:       NewMemoryJournal(),
		log:           zap.NewNop(),
		timeoutRounds: DefaultTimeoutRounds,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// PurchaseResult reports where a purchase attempt ended up. Trade and
// Receipt are set only on the paths that produced them; the UI must not
// report success unless State == StateComplete.
type PurchaseResult struct {
	State   State    `json:"state"`
	Listing *Listing `json:"listing,omitempty"`
	Trade   *Trade   `json:"trade,omitempty"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

// Purchase runs one settlement attempt for the listing. Concurrent attempts
// for the same listing are serialized solely by the store's conditional
// claim update; at most one reaches PAYMENT_REQUESTED.
func (c *Coordinator) Purchase(ctx context.Context, listingID uuid.UUID) (*PurchaseResult, error) {
	res := &PurchaseResult{State: StateIdle}

	// Preconditions: fail fast, no side effects.
	session := c.wallet.Session()
	if !session.Connected {
		return res, NewSettleError(ErrCodeSessionLost, "no active wallet session", nil)
	}

	listing, err := c.store.SelectListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return res, fmt.Errorf("listing %s: %w", listingID, ErrNotFound)
		}
		return res, NewSettleError(ErrCodeStoreUnavailable, "could not load listing", map[string]interface{}{
			"listing_id": listingID.String(),
			"cause":      err.Error(),
		})
	}
	res.Listing = listing

	if session.AccountAddress == listing.SellerAddress {
		return res, ErrSelfPurchase
	}
	if listing.Status != ListingAvailable {
		return res, NewSettleError(ErrCodeClaimDenied, "listing is no longer available", map[string]interface{}{
			"status": string(listing.Status),
		})
	}

	// CLAIMING: the store-side compare-and-swap is the only thing standing
	// between two concurrent buyers and a double sale.
	c.setState(res, listingID, StateClaiming)
	claimed, err := c.store.ConditionalUpdateListingStatus(ctx, listingID, ListingAvailable, ListingPendingSale)
	if err != nil {
		// Fail closed: no payment is attempted when the store is down.
		return res, NewSettleError(ErrCodeStoreUnavailable, "could not claim listing", map[string]interface{}{
			"listing_id": listingID.String(),
			"cause":      err.Error(),
		})
	}
	if !claimed {
		c.setState(res, listingID, StateClaimDenied)
		return res, NewSettleError(ErrCodeClaimDenied, "listing was claimed by another buyer", nil)
	}

	// PAYMENT_REQUESTED: build the payment for the exact listing price and
	// ask the wallet for a signature. Everything from here until submission
	// compensates the claim on failure.
	c.setState(res, listingID, StatePaymentRequested)
	c.log.Info("payment requested",
		zap.String("listing_id", listing.ID.String()),
		zap.String("buyer", FormatAddress(session.AccountAddress)),
		zap.String("seller", FormatAddress(listing.SellerAddress)),
		zap.Float64("amount_algo", listing.PriceAlgo))
	intent := PaymentIntent{
		From:             session.AccountAddress,
		To:               listing.SellerAddress,
		AmountMicroAlgos: AlgosToMicroAlgos(listing.PriceAlgo),
		Note:             PurchaseNote(listing.ID),
	}

	txn, err := c.ledger.BuildPayment(ctx, intent)
	if err != nil {
		c.compensate(context.WithoutCancel(ctx), listingID)
		c.setState(res, listingID, StateSigningDenied)
		return res, fmt.Errorf("failed to build payment: %w", err)
	}

	type signResult struct {
		signed []byte
		err    error
	}
	signCh := make(chan signResult, 1)
	go func() {
		signed, serr := c.wallet.SignTransaction(ctx, txn)
		signCh <- signResult{signed, serr}
	}()

	var signed []byte
	select {
	case r := <-signCh:
		if r.err != nil {
			c.compensate(context.WithoutCancel(ctx), listingID)
			c.setState(res, listingID, StateSigningDenied)
			if CodeOf(r.err) != "" {
				return res, r.err
			}
			return res, NewSettleError(ErrCodeSigningDenied, "signature request declined", map[string]interface{}{
				"cause": r.err.Error(),
			})
		}
		signed = r.signed
	case <-c.wallet.Disconnected():
		c.compensate(context.WithoutCancel(ctx), listingID)
		c.setState(res, listingID, StateSigningDenied)
		return res, NewSettleError(ErrCodeSessionLost, "wallet session ended before signing", nil)
	case <-ctx.Done():
		// Abandonment before submission compensates like a signing denial.
		c.compensate(context.WithoutCancel(ctx), listingID)
		c.setState(res, listingID, StateSigningDenied)
		return res, NewSettleError(ErrCodeSigningDenied, "purchase abandoned before submission", map[string]interface{}{
			"cause": ctx.Err().Error(),
		})
	}

	// SUBMITTING / CONFIRMING: one submission, then round-by-round polling.
	// Retry policy is ours, and ours is: no automatic retry — resubmitting a
	// payment is itself a state-changing action on the ledger.
	c.setState(res, listingID, StateSubmitting)
	c.setState(res, listingID, StateConfirming)
	receipt, err := c.ledger.SubmitAndConfirm(ctx, signed, c.timeoutRounds)
	if err != nil {
		switch CodeOf(err) {
		case ErrCodeTransactionRejected:
			// The ledger never moved value: release the claim.
			c.compensate(context.WithoutCancel(ctx), listingID)
			c.setState(res, listingID, StateRejected)
			return res, err
		case ErrCodeConfirmationTimeout:
			// Unknown outcome. The payment may still land, so the claim
			// stays and the attempt is journaled for later resolution.
			c.setState(res, listingID, StateTimeoutUnresolved)
			c.journalUnknown(context.WithoutCancel(ctx), listing, session.AccountAddress, TxIDOf(err), err)
			return res, err
		default:
			// No verdict from the network: treat like a timeout, never like
			// a failure.
			c.setState(res, listingID, StateTimeoutUnresolved)
			c.journalUnknown(context.WithoutCancel(ctx), listing, session.AccountAddress, TxIDOf(err), err)
			return res, NewSettleError(ErrCodeConfirmationTimeout, "confirmation outcome unknown", map[string]interface{}{
				"cause": err.Error(),
			})
		}
	}
	res.Receipt = receipt

	// RECORDING: the payment is irrevocable now. A store failure here must
	// surface as a reconciliation need, never disappear, and never trigger a
	// ledger retry.
	c.setState(res, listingID, StateRecording)
	now := time.Now().UTC()
	trade := &Trade{
		ID:            uuid.New(),
		ListingID:     listing.ID,
		BuyerAddress:  session.AccountAddress,
		SellerAddress: listing.SellerAddress,
		AmountAlgo:    listing.PriceAlgo,
		Status:        TradeCompleted,
		TxnID:         receipt.TxID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	recorded, err := c.store.InsertTrade(ctx, trade)
	if err == nil {
		err = c.store.UpdateListingStatus(ctx, listing.ID, ListingSold)
	}
	if err != nil {
		c.setState(res, listingID, StateReconcileNeeded)
		entry := JournalEntry{
			TxID:          receipt.TxID,
			ListingID:     listing.ID,
			BuyerAddress:  session.AccountAddress,
			SellerAddress: listing.SellerAddress,
			AmountAlgo:    listing.PriceAlgo,
			Status:        JournalReconcileNeeded,
			Reason:        err.Error(),
		}
		if jerr := c.journal.Record(context.WithoutCancel(ctx), entry); jerr != nil {
			c.log.Error("failed to journal reconcile entry",
				zap.String("txid", receipt.TxID),
				zap.Error(jerr))
		}
		return res, NewSettleError(ErrCodeReconcileNeeded, "payment confirmed but trade record incomplete", map[string]interface{}{
			"txid":  receipt.TxID,
			"cause": err.Error(),
		})
	}
	res.Trade = recorded

	c.setState(res, listingID, StateComplete)
	return res, nil
}

// ResumeConfirmation finishes the bookkeeping for a journaled settlement:
// pending confirmations are re-polled, reconcile entries get their off-chain
// writes redone. The journal txid is the dedup key throughout, so resuming
// is idempotent.
func (c *Coordinator) ResumeConfirmation(ctx context.Context, entry JournalEntry) (*PurchaseResult, error) {
	switch entry.Status {
	case JournalReconcileNeeded:
		return c.finishRecording(ctx, entry, nil)

	case JournalPendingConfirmation:
		receipt, err := c.ledger.ConfirmOnly(ctx, entry.TxID, c.timeoutRounds)
		if err != nil {
			if CodeOf(err) == ErrCodeTransactionRejected {
				// The payment never landed: release the claim and close out.
				cleanupCtx := context.WithoutCancel(ctx)
				c.compensate(cleanupCtx, entry.ListingID)
				if rerr := c.journal.Resolve(cleanupCtx, entry.TxID); rerr != nil {
					c.log.Error("failed to resolve journal entry",
						zap.String("txid", entry.TxID),
						zap.Error(rerr))
				}
				return &PurchaseResult{State: StateRejected}, err
			}
			// Still unknown; the entry stays pending.
			return &PurchaseResult{State: StateTimeoutUnresolved}, err
		}
		return c.finishRecording(ctx, entry, receipt)

	default:
		return nil, fmt.Errorf("journal entry %s is already resolved", entry.TxID)
	}
}

// finishRecording redoes the off-chain writes for a confirmed payment.
func (c *Coordinator) finishRecording(ctx context.Context, entry JournalEntry, receipt *Receipt) (*PurchaseResult, error) {
	res := &PurchaseResult{State: StateRecording, Receipt: receipt}

	status := TradeCompleted
	finalized, err := c.store.ConditionalUpdateListingStatus(ctx, entry.ListingID, ListingPendingSale, ListingSold)
	if err != nil {
		return res, NewSettleError(ErrCodeStoreUnavailable, "could not finalize listing", map[string]interface{}{
			"listing_id": entry.ListingID.String(),
			"cause":      err.Error(),
		})
	}
	if !finalized {
		listing, lerr := c.store.SelectListing(ctx, entry.ListingID)
		if lerr != nil || listing.Status != ListingSold {
			// The payment confirmed but the item can no longer be delivered
			// (e.g. the listing was cancelled while the outcome was
			// unknown). Flag the refund need; no automation beyond that.
			status = TradeRefundNeeded
		}
	}

	now := time.Now().UTC()
	trade := &Trade{
		ID:            uuid.New(),
		ListingID:     entry.ListingID,
		BuyerAddress:  entry.BuyerAddress,
		SellerAddress: entry.SellerAddress,
		AmountAlgo:    entry.AmountAlgo,
		Status:        status,
		TxnID:         entry.TxID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	recorded, err := c.store.InsertTrade(ctx, trade)
	if err != nil {
		escalated := entry
		escalated.Status = JournalReconcileNeeded
		escalated.Reason = err.Error()
		if jerr := c.journal.Record(ctx, escalated); jerr != nil {
			c.log.Error("failed to escalate journal entry",
				zap.String("txid", entry.TxID),
				zap.Error(jerr))
		}
		return res, NewSettleError(ErrCodeReconcileNeeded, "trade record still incomplete", map[string]interface{}{
			"txid":  entry.TxID,
			"cause": err.Error(),
		})
	}
	res.Trade = recorded

	if err := c.journal.Resolve(ctx, entry.TxID); err != nil {
		c.log.Error("failed to resolve journal entry",
			zap.String("txid", entry.TxID),
			zap.Error(err))
	}

	res.State = StateComplete
	return res, nil
}

// compensate reverts a held claim so the listing is not stuck unsellable.
// Only PENDING_SALE reverts; a claim that already moved on is left alone.
func (c *Coordinator) compensate(ctx context.Context, listingID uuid.UUID) {
	reverted, err := c.store.ConditionalUpdateListingStatus(ctx, listingID, ListingPendingSale, ListingAvailable)
	if err != nil {
		c.log.Error("failed to revert listing claim",
			zap.String("listing_id", listingID.String()),
			zap.Error(err))
		return
	}
	if !reverted {
		c.log.Warn("listing claim already released",
			zap.String("listing_id", listingID.String()))
	}
}

// journalUnknown records an unknown payment outcome for later resolution.
func (c *Coordinator) journalUnknown(ctx context.Context, listing *Listing, buyer, txid string, cause error) {
	if txid == "" {
		// Without a txid there is nothing to resume against; all we can do
		// is make noise.
		c.log.Error("payment outcome unknown and no txid recorded",
			zap.String("listing_id", listing.ID.String()),
			zap.Error(cause))
		return
	}
	entry := JournalEntry{
		TxID:          txid,
		ListingID:     listing.ID,
		BuyerAddress:  buyer,
		SellerAddress: listing.SellerAddress,
		AmountAlgo:    listing.PriceAlgo,
		Status:        JournalPendingConfirmation,
		Reason:        cause.Error(),
	}
	if err := c.journal.Record(ctx, entry); err != nil {
		c.log.Error("failed to journal pending confirmation",
			zap.String("txid", txid),
			zap.Error(err))
	}
}

func (c *Coordinator) setState(res *PurchaseResult, listingID uuid.UUID, to State) {
	from := res.State
	res.State = to
	c.log.Debug("settlement state change",
		zap.String("listing_id", listingID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	for _, hook := range c.stateHooks {
		hook(StateChange{ListingID: listingID, From: from, To: to})
	}
}
