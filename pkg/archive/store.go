// Package archive persists content-addressed snapshots of the result ledger.
// Snapshots are canonical JSON keyed by their SHA-256, so identical chain
// states archive to identical keys. There is no delete: archives share the
// ledger's append-only discipline.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store is content-addressed snapshot storage.
type Store interface {
	// Put persists data and returns its content key ("sha256:" + hex).
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists checks whether a snapshot is already archived.
	Exists(ctx context.Context, key string) (bool, error)
}

func contentKey(data []byte) (prefixed, raw string) {
	h := sha256.Sum256(data)
	raw = hex.EncodeToString(h[:])
	return "sha256:" + raw, raw
}

// parseKey validates a "sha256:<hex>" key and returns the hex part.
func parseKey(key string) (string, error) {
	if len(key) < 7 || key[:7] != "sha256:" {
		return "", fmt.Errorf("invalid key format: %s", key)
	}
	raw := key[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid key hex: %w", err)
	}
	return raw, nil
}

// FileStore is a filesystem-backed Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the archive directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, raw := contentKey(data)
	path := filepath.Join(s.baseDir, raw+".json")

	// Idempotent: identical content is already archived.
	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	// Write to temp, then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return key, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, raw+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot not found: %s", key)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseKey(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, raw+".json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
