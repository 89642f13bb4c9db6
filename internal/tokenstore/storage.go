package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrUnsupportedScheme indicates that no storage backend handles the URL scheme.
	ErrUnsupportedScheme = errors.New("tokenstore.unsupported_scheme")
	// ErrEmptyKey indicates that a storage entry was addressed with an empty key.
	ErrEmptyKey = errors.New("tokenstore.empty_key")

	errUnsupportedNoScheme = errors.New("tokenstore.unsupported_no_scheme")
)

// Storage is the persistent key/value capability backing a TokenStore.
type Storage interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// OpenStorage selects a Storage implementation from the URL scheme.
// An empty URL and memory:// yield an in-memory storage.
func OpenStorage(ctx context.Context, storageURL string) (Storage, string, error) {
	trimmed := strings.TrimSpace(storageURL)
	if trimmed == "" {
		return NewMemoryStorage(), "memory", nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, "", fmt.Errorf("tokenstore.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("tokenstore.open: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory":
		return NewMemoryStorage(), "memory", nil
	case "postgres", "postgresql", "sqlite", "sqlite3":
		databaseStorage, openErr := NewDatabaseStorage(ctx, trimmed)
		if openErr != nil {
			return nil, "", openErr
		}
		return databaseStorage, databaseStorage.Driver(), nil
	case "redis", "rediss":
		redisStorage, openErr := NewRedisStorage(ctx, trimmed)
		if openErr != nil {
			return nil, "", openErr
		}
		return redisStorage, "redis", nil
	default:
		return nil, "", fmt.Errorf("tokenstore.open.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
	}
}
