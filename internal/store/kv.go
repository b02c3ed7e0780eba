package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// KVStore keeps small JSON documents by key.
type KVStore struct {
	db *sql.DB
}

// NewKVStore creates a KVStore backed by db.
func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Set stores value as JSON under key.
func (s *KVStore) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Get decodes the value under key into target. It reports false when the key
// does not exist.
func (s *KVStore) Get(key string, target interface{}) (bool, error) {
	var data string
	err := s.db.QueryRow("SELECT value FROM kv_store WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), target); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (s *KVStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
