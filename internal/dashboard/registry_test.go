package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/tyemirov/eventadmin/internal/tokenstore"
)

func TestRegistryRebuildsSessionFromStorage(t *testing.T) {
	storage := tokenstore.NewMemoryStorage()
	first := NewRegistry(RegistryConfig{Storage: storage, APIBaseURL: "http://127.0.0.1:1"})
	created := first.Create()
	created.Tokens.SetTokens(context.Background(), "access", "refresh")

	restarted := NewRegistry(RegistryConfig{Storage: storage, APIBaseURL: "http://127.0.0.1:1"})
	rebuilt := restarted.Get(created.ID)
	if !rebuilt.Authenticated(context.Background()) {
		t.Fatalf("expected rebuilt session to find stored credentials")
	}
	if restarted.Get(created.ID) != rebuilt {
		t.Fatalf("expected the same session instance on repeated lookups")
	}
}

func TestRegistryRemoveClearsCredentials(t *testing.T) {
	storage := tokenstore.NewMemoryStorage()
	registry := NewRegistry(RegistryConfig{Storage: storage, APIBaseURL: "http://127.0.0.1:1"})
	created := registry.Create()
	created.Tokens.SetTokens(context.Background(), "access", "refresh")

	registry.Remove(context.Background(), created.ID)
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
	if storage.Len() != 0 {
		t.Fatalf("expected storage cleared, got %d entries", storage.Len())
	}
}

func TestRegistryPrunesIdleSessions(t *testing.T) {
	clock := &controllableClock{current: time.Now().UTC()}
	storage := tokenstore.NewMemoryStorage()
	registry := NewRegistry(RegistryConfig{
		Storage:    storage,
		APIBaseURL: "http://127.0.0.1:1",
		IdleTTL:    time.Hour,
		Clock:      clock,
	})
	idle := registry.Create()
	idle.Tokens.SetTokens(context.Background(), "access", "refresh")

	clock.Advance(30 * time.Minute)
	active := registry.Create()

	clock.Advance(45 * time.Minute)
	if removed := registry.Prune(context.Background()); removed != 1 {
		t.Fatalf("expected one pruned session, got %d", removed)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one live session, got %d", registry.Len())
	}
	if registry.Get(active.ID) != active {
		t.Fatalf("expected active session to survive")
	}
	if storage.Len() != 0 {
		t.Fatalf("expected pruned credentials removed, got %d entries", storage.Len())
	}
}
