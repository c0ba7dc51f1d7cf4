// Package ledger provides the SQL-backed result ledger.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
	coreledger "github.com/Mindburn-Labs/accord/pkg/ledger"
)

// SQLLedger implements coreledger.Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS operation_results (
	operation_id TEXT PRIMARY KEY,
	accepted BOOLEAN NOT NULL,
	value TEXT,
	level TEXT,
	replicas_run INTEGER NOT NULL,
	rejections TEXT,
	sequence INTEGER NOT NULL UNIQUE,
	content_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
`

func (s *SQLLedger) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Record appends entry inside one transaction. The duplicate check, head
// lookup and insert share the transaction so concurrent submissions of the
// same operation id resolve to exactly one winner.
func (s *SQLLedger) Record(ctx context.Context, entry *coreledger.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Duplicate check.
	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT operation_id FROM operation_results WHERE operation_id = $1`,
		entry.OperationID,
	).Scan(&existing)
	if err == nil {
		return coreledger.ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	// 2. Current head.
	var seq uint64
	prevHash := "genesis"
	err = tx.QueryRowContext(ctx,
		`SELECT sequence, content_hash FROM operation_results ORDER BY sequence DESC LIMIT 1`,
	).Scan(&seq, &prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	// 3. Chain fields.
	entry.Sequence = seq + 1
	entry.PrevHash = prevHash
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	hash, err := coreledger.ChainHash(entry, prevHash)
	if err != nil {
		return err
	}
	entry.ContentHash = hash

	rejections, err := json.Marshal(entry.Rejections)
	if err != nil {
		return fmt.Errorf("marshal rejections: %w", err)
	}

	// 4. Insert.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO operation_results (operation_id, accepted, value, level, replicas_run, rejections, sequence, content_hash, prev_hash, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.OperationID, entry.Accepted, entry.Value, string(entry.Level),
		entry.ReplicasRun, string(rejections), entry.Sequence,
		entry.ContentHash, entry.PrevHash, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	return tx.Commit()
}

// Lookup returns the recorded entry, or coreledger.ErrNotFound.
func (s *SQLLedger) Lookup(ctx context.Context, operationID string) (*coreledger.Entry, error) {
	query := `SELECT operation_id, accepted, value, level, replicas_run, rejections, sequence, content_hash, prev_hash, timestamp FROM operation_results WHERE operation_id = $1`
	row := s.db.QueryRowContext(ctx, query, operationID)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coreledger.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Entries returns the whole chain in sequence order.
func (s *SQLLedger) Entries(ctx context.Context) ([]*coreledger.Entry, error) {
	query := `SELECT operation_id, accepted, value, level, replicas_run, rejections, sequence, content_hash, prev_hash, timestamp FROM operation_results ORDER BY sequence ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]*coreledger.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Verify walks the stored chain and recomputes every hash.
func (s *SQLLedger) Verify(ctx context.Context) (bool, string, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return false, "", err
	}

	prevHash := "genesis"
	for i, entry := range entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash), nil
		}
		computed, err := coreledger.ChainHash(entry, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1), nil
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1), nil
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified", nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*coreledger.Entry, error) {
	var entry coreledger.Entry
	var level, rejections string
	if err := row.Scan(
		&entry.OperationID, &entry.Accepted, &entry.Value, &level,
		&entry.ReplicasRun, &rejections, &entry.Sequence,
		&entry.ContentHash, &entry.PrevHash, &entry.Timestamp,
	); err != nil {
		return nil, err
	}
	entry.Level = agreement.Level(level)
	if rejections != "" && rejections != "null" {
		if err := json.Unmarshal([]byte(rejections), &entry.Rejections); err != nil {
			return nil, fmt.Errorf("unmarshal rejections: %w", err)
		}
	}
	return &entry, nil
}
