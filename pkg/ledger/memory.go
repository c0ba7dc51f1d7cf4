package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is the in-process Ledger. It keeps the full chain in memory
// and serializes records under one lock, so concurrent submissions of the
// same operation id resolve to exactly one winner.
type MemoryLedger struct {
	mu       sync.RWMutex
	byOp     map[string]*Entry
	entries  []*Entry
	headHash string
	clock    func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byOp:     make(map[string]*Entry),
		entries:  make([]*Entry, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// Record appends entry and assigns its chain fields.
func (l *MemoryLedger) Record(ctx context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byOp[entry.OperationID]; ok {
		return ErrConflict
	}

	entry.Sequence = uint64(len(l.entries)) + 1
	entry.PrevHash = l.headHash
	entry.Timestamp = l.clock()

	hash, err := ChainHash(entry, l.headHash)
	if err != nil {
		return err
	}
	entry.ContentHash = hash

	// Store a copy so later caller mutation cannot reach the chain.
	stored := entry.Clone()
	l.byOp[stored.OperationID] = stored
	l.entries = append(l.entries, stored)
	l.headHash = hash

	return nil
}

// Lookup returns a copy of the recorded entry, or ErrNotFound.
func (l *MemoryLedger) Lookup(ctx context.Context, operationID string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.byOp[operationID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

// Head returns the current head hash.
func (l *MemoryLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *MemoryLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the whole chain in sequence order.
func (l *MemoryLedger) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Verify checks the integrity of the entire chain.
func (l *MemoryLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := ChainHash(entry, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}
