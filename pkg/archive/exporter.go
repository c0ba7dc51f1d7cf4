package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/accord/pkg/ledger"
)

// Snapshot is one archived view of the result chain.
type Snapshot struct {
	ExportedAt time.Time       `json:"exported_at"`
	Head       string          `json:"head"`
	Length     int             `json:"length"`
	Entries    []*ledger.Entry `json:"entries"`
}

// Exporter writes ledger snapshots into a Store as canonical JSON.
type Exporter struct {
	store Store
	clock func() time.Time
}

// NewExporter creates an exporter over the given store.
func NewExporter(store Store) *Exporter {
	return &Exporter{store: store, clock: time.Now}
}

// WithClock overrides clock for testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Export archives the chain and returns the snapshot's content key.
// Entries must be in sequence order; the head is the last content hash.
func (e *Exporter) Export(ctx context.Context, entries []*ledger.Entry) (string, error) {
	if e.store == nil {
		return "", errors.New("archive: no store configured")
	}

	head := "genesis"
	if len(entries) > 0 {
		head = entries[len(entries)-1].ContentHash
	}
	snap := Snapshot{
		ExportedAt: e.clock(),
		Head:       head,
		Length:     len(entries),
		Entries:    entries,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}
	// Canonical form: identical chain states archive to identical keys.
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("archive: canonicalize snapshot: %w", err)
	}

	return e.store.Put(ctx, canonical)
}

// Read fetches and decodes an archived snapshot.
func (e *Exporter) Read(ctx context.Context, key string) (*Snapshot, error) {
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("archive: decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}
