package algomart

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func testEntry(txid string, status JournalStatus) JournalEntry {
	return JournalEntry{
		TxID:          txid,
		ListingID:     uuid.New(),
		BuyerAddress:  buyerAddr,
		SellerAddress: sellerAddr,
		AmountAlgo:    1.0,
		Status:        status,
	}
}

func TestMemoryJournalRecordIdempotent(t *testing.T) {
	journal := NewMemoryJournal()
	ctx := context.Background()

	entry := testEntry("TX1", JournalPendingConfirmation)
	if err := journal.Record(ctx, entry); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Re-recording the same txid escalates, never duplicates.
	entry.Status = JournalReconcileNeeded
	entry.Reason = "store write failed"
	if err := journal.Record(ctx, entry); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	pending, err := journal.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d entries, want 1", len(pending))
	}
	if pending[0].Status != JournalReconcileNeeded {
		t.Fatalf("status = %s, want %s", pending[0].Status, JournalReconcileNeeded)
	}
}

func TestMemoryJournalResolve(t *testing.T) {
	journal := NewMemoryJournal()
	ctx := context.Background()

	if err := journal.Record(ctx, testEntry("TX1", JournalPendingConfirmation)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := journal.Resolve(ctx, "TX1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pending, _ := journal.Pending(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending = %d entries, want 0", len(pending))
	}

	// Resolved entries are never demoted back to pending.
	if err := journal.Record(ctx, testEntry("TX1", JournalPendingConfirmation)); err != nil {
		t.Fatalf("re-record resolved: %v", err)
	}
	pending, _ = journal.Pending(ctx)
	if len(pending) != 0 {
		t.Fatalf("resolved entry reopened: %d pending", len(pending))
	}
}

func TestMemoryJournalResolveMissing(t *testing.T) {
	journal := NewMemoryJournal()
	if err := journal.Resolve(context.Background(), "TXNONE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryJournalPendingOrder(t *testing.T) {
	journal := NewMemoryJournal()
	ctx := context.Background()

	for _, txid := range []string{"TXA", "TXB", "TXC"} {
		if err := journal.Record(ctx, testEntry(txid, JournalPendingConfirmation)); err != nil {
			t.Fatalf("record %s: %v", txid, err)
		}
	}
	if err := journal.Resolve(ctx, "TXB"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pending, _ := journal.Pending(ctx)
	if len(pending) != 2 || pending[0].TxID != "TXA" || pending[1].TxID != "TXC" {
		t.Fatalf("pending = %v, want [TXA TXC] in order", pending)
	}
}
