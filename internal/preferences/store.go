package preferences

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Store reads and writes JSON-encoded values by key.
type Store interface {
	// GetItem decodes the value stored under key into dst. It reports false
	// when the key is absent.
	GetItem(ctx context.Context, key string, dst any) (bool, error)
	SetItem(ctx context.Context, key string, value any) error
}

// SQLiteStore keeps preferences in the preferences table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an already-migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetItem implements Store.
func (s *SQLiteStore) GetItem(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying preference %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decoding preference %s: %w", key, err)
	}
	return true, nil
}

// SetItem implements Store. Existing values are replaced.
func (s *SQLiteStore) SetItem(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding preference %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving preference %s: %w", key, err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// GetItem implements Store.
func (m *MemoryStore) GetItem(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decoding preference %s: %w", key, err)
	}
	return true, nil
}

// SetItem implements Store.
func (m *MemoryStore) SetItem(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding preference %s: %w", key, err)
	}
	m.mu.Lock()
	m.items[key] = raw
	m.mu.Unlock()
	return nil
}
