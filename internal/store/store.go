package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Collection keys. Each collection is serialized as a single JSON array.
const (
	KeyOrders = "p2p_orders"
	KeyTrades = "p2p_trades"
	KeyUsers  = "p2p_users"
)

// Store is the durable key/value boundary. It holds serialized collections
// and has no knowledge of their contents.
type Store interface {
	// Load returns the value for key, or nil if the key has never been saved.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the value for key.
	Save(ctx context.Context, key string, data []byte) error
}

// FileStore implements Store with one JSON file per key
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a new file-backed store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load reads the file for key, returning nil for a key that was never saved
func (s *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Save writes the value for key atomically via a temp file rename
func (s *FileStore) Save(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
