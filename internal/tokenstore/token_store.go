package tokenstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// AccessTokenKey names the stored access credential entry.
	AccessTokenKey = "accessToken"
	// RefreshTokenKey names the stored refresh credential entry.
	RefreshTokenKey = "refreshToken"
)

// TokenStore owns one access/refresh credential pair.
//
// Entries live in the injected Storage under "<namespace>:<name>". A TokenStore
// built over a nil Storage behaves like a context without persistent storage:
// reads report absence and writes are skipped. Storage failures are logged and
// never returned; a failed read reports absence.
//
// Reads are served from an in-process copy once loaded. Reload re-reads the
// storage for processes that share it.
type TokenStore struct {
	storage   Storage
	namespace string
	logger    *zap.Logger

	mutex       sync.Mutex
	loaded      bool
	unpersisted bool
	access      string
	fresh       string
}

// New builds a TokenStore bound to namespace.
func New(storage Storage, namespace string, logger *zap.Logger) *TokenStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenStore{
		storage:   storage,
		namespace: strings.TrimSpace(namespace),
		logger:    logger,
	}
}

// Available reports whether a persistent storage backs this store.
func (store *TokenStore) Available() bool {
	return store != nil && store.storage != nil
}

// SetTokens overwrites both credentials. Values are not validated.
func (store *TokenStore) SetTokens(ctx context.Context, accessToken string, refreshToken string) {
	if !store.Available() {
		return
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.loaded = true
	store.unpersisted = false
	store.access = accessToken
	store.fresh = refreshToken

	if err := store.storage.Set(ctx, store.key(AccessTokenKey), accessToken); err != nil {
		store.unpersisted = true
		store.logger.Error("persist access token failed",
			zap.String("code", "tokenstore.write_failed"),
			zap.String("namespace", store.namespace),
			zap.Error(err))
	}
	if err := store.storage.Set(ctx, store.key(RefreshTokenKey), refreshToken); err != nil {
		store.unpersisted = true
		store.logger.Error("persist refresh token failed",
			zap.String("code", "tokenstore.write_failed"),
			zap.String("namespace", store.namespace),
			zap.Error(err))
	}
}

// AccessToken returns the stored access credential, or false when absent.
func (store *TokenStore) AccessToken(ctx context.Context) (string, bool) {
	accessToken, _, ok := store.read(ctx)
	if !ok || accessToken == "" {
		return "", false
	}
	return accessToken, true
}

// RefreshToken returns the stored refresh credential, or false when absent.
func (store *TokenStore) RefreshToken(ctx context.Context) (string, bool) {
	_, refreshToken, ok := store.read(ctx)
	if !ok || refreshToken == "" {
		return "", false
	}
	return refreshToken, true
}

// ClearTokens removes both credentials. Clearing an empty store is a no-op.
func (store *TokenStore) ClearTokens(ctx context.Context) {
	if !store.Available() {
		return
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.loaded = true
	store.unpersisted = false
	store.access = ""
	store.fresh = ""

	for _, name := range []string{AccessTokenKey, RefreshTokenKey} {
		if err := store.storage.Remove(ctx, store.key(name)); err != nil {
			store.unpersisted = true
			store.logger.Error("remove credential failed",
				zap.String("code", "tokenstore.remove_failed"),
				zap.String("namespace", store.namespace),
				zap.String("entry", name),
				zap.Error(err))
		}
	}
}

// Reload replaces the in-process copy with the pair currently in storage,
// picking up a rotation written by another process. The copy is kept when the
// storage cannot be read or when the last local write did not persist.
func (store *TokenStore) Reload(ctx context.Context) {
	if !store.Available() {
		return
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if store.loaded && store.unpersisted {
		return
	}
	accessToken, refreshToken, err := store.fetch(ctx)
	if err != nil {
		return
	}
	store.loaded = true
	store.access = accessToken
	store.fresh = refreshToken
}

func (store *TokenStore) read(ctx context.Context) (string, string, bool) {
	if !store.Available() {
		return "", "", false
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if store.loaded {
		return store.access, store.fresh, true
	}

	accessToken, refreshToken, err := store.fetch(ctx)
	if err != nil {
		return "", "", false
	}
	store.loaded = true
	store.access = accessToken
	store.fresh = refreshToken
	return accessToken, refreshToken, true
}

// fetch reads both entries from storage. The caller holds the mutex.
func (store *TokenStore) fetch(ctx context.Context) (string, string, error) {
	accessToken, _, accessErr := store.storage.Get(ctx, store.key(AccessTokenKey))
	refreshToken, _, refreshErr := store.storage.Get(ctx, store.key(RefreshTokenKey))
	if accessErr != nil || refreshErr != nil {
		store.logger.Warn("read credentials failed",
			zap.String("code", "tokenstore.read_failed"),
			zap.String("namespace", store.namespace),
			zap.NamedError("access_error", accessErr),
			zap.NamedError("refresh_error", refreshErr))
		return "", "", errors.Join(accessErr, refreshErr)
	}
	return accessToken, refreshToken, nil
}

func (store *TokenStore) key(name string) string {
	if store.namespace == "" {
		return name
	}
	return store.namespace + ":" + name
}
