package algomart

import (
	"context"
	"sync"
)

// MemoryJournal is an in-memory Journal. Suitable for tests and for flows
// where a process restart losing pending entries is acceptable; production
// deployments should use the postgres-backed journal so reconciliation
// needs survive crashes.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]JournalEntry
	order   []string
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		entries: make(map[string]JournalEntry),
	}
}

// Record stores an entry keyed by txid. Re-recording an existing txid
// updates status and reason in place; it never duplicates the entry and
// never reopens a resolved one.
func (j *MemoryJournal) Record(ctx context.Context, entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, ok := j.entries[entry.TxID]
	if !ok {
		j.entries[entry.TxID] = entry
		j.order = append(j.order, entry.TxID)
		return nil
	}
	if existing.Status == JournalResolved {
		return nil
	}
	existing.Status = entry.Status
	existing.Reason = entry.Reason
	j.entries[entry.TxID] = existing
	return nil
}

// Resolve marks the entry for txid as resolved.
func (j *MemoryJournal) Resolve(ctx context.Context, txid string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, ok := j.entries[txid]
	if !ok {
		return ErrNotFound
	}
	entry.Status = JournalResolved
	j.entries[txid] = entry
	return nil
}

// Pending returns unresolved entries in recording order.
func (j *MemoryJournal) Pending(ctx context.Context) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	pending := make([]JournalEntry, 0)
	for _, txid := range j.order {
		if entry := j.entries[txid]; entry.Status != JournalResolved {
			pending = append(pending, entry)
		}
	}
	return pending, nil
}

// Get returns the entry for txid, or ErrNotFound.
func (j *MemoryJournal) Get(ctx context.Context, txid string) (*JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, ok := j.entries[txid]
	if !ok {
		return nil, ErrNotFound
	}
	clone := entry
	return &clone, nil
}
