package tokenstore

import (
	"context"
	"sync"
)

// MemoryStorage keeps entries in process memory. Intended for tests and dev.
type MemoryStorage struct {
	mutex   sync.Mutex
	entries map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]string)}
}

// Get returns the value stored under key.
func (storage *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	value, ok := storage.entries[key]
	return value, ok, nil
}

// Set overwrites the value stored under key.
func (storage *MemoryStorage) Set(ctx context.Context, key string, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.entries[key] = value
	return nil
}

// Remove deletes key if present.
func (storage *MemoryStorage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	delete(storage.entries, key)
	return nil
}

// Len reports the number of stored entries.
func (storage *MemoryStorage) Len() int {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	return len(storage.entries)
}
