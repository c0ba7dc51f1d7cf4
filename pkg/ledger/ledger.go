// Package ledger is the append-only result ledger, keyed by operation id.
//
// Every entry is hash-chained to its predecessor. Entries exist only for
// operations that finished (accepted or exhausted); recording the same
// operation id twice is a conflict, and nothing is ever mutated or deleted.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
)

var (
	// ErrConflict means the operation id already has a recorded entry.
	ErrConflict = errors.New("ledger: operation already recorded")
	// ErrNotFound means no entry exists for the operation id.
	ErrNotFound = errors.New("ledger: entry not found")
)

// Rejection records one declined agreement attempt.
type Rejection struct {
	Level  agreement.Level `json:"level"`
	Detail string          `json:"detail"`
}

// Entry is one immutable operation result.
type Entry struct {
	OperationID string          `json:"operation_id"`
	Accepted    bool            `json:"accepted"`
	Value       string          `json:"value,omitempty"`
	Level       agreement.Level `json:"level,omitempty"`
	ReplicasRun int             `json:"replicas_run"`
	Rejections  []Rejection     `json:"rejections,omitempty"`

	// Chain fields, assigned by the ledger at record time.
	Sequence    uint64    `json:"sequence"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// Ledger is an append-only store of operation results.
type Ledger interface {
	// Record appends entry, assigning its chain fields.
	// Returns ErrConflict if the operation id is already recorded.
	Record(ctx context.Context, entry *Entry) error
	// Lookup returns the recorded entry, or ErrNotFound.
	Lookup(ctx context.Context, operationID string) (*Entry, error)
}

// ChainHash computes the content hash binding an entry to its predecessor.
func ChainHash(entry *Entry, prevHash string) (string, error) {
	hashInput := struct {
		Seq        uint64      `json:"seq"`
		Op         string      `json:"op"`
		Accepted   bool        `json:"accepted"`
		Value      string      `json:"value"`
		Level      string      `json:"level"`
		Rejections []Rejection `json:"rejections"`
		PrevHash   string      `json:"prev"`
	}{entry.Sequence, entry.OperationID, entry.Accepted, entry.Value, string(entry.Level), entry.Rejections, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Clone returns an independent copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Rejections != nil {
		c.Rejections = append([]Rejection(nil), e.Rejections...)
	}
	return &c
}
