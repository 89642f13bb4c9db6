package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func unreachableRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisStorageRejectsEmptyKey(t *testing.T) {
	storage := NewRedisStorageWithClient(unreachableRedisClient())
	defer func() { _ = storage.Close() }()

	if _, _, err := storage.Get(context.Background(), ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if err := storage.Set(context.Background(), "", "value"); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestRedisStorageFailuresDegradeTokenStore(t *testing.T) {
	storage := NewRedisStorageWithClient(unreachableRedisClient())
	defer func() { _ = storage.Close() }()

	if _, _, err := storage.Get(context.Background(), "session:accessToken"); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}

	tokens := New(storage, "session", nil)
	if _, ok := tokens.AccessToken(context.Background()); ok {
		t.Fatalf("expected absent access token when storage fails")
	}
	tokens.SetTokens(context.Background(), "access", "refresh")
	if accessToken, ok := tokens.AccessToken(context.Background()); !ok || accessToken != "access" {
		t.Fatalf("expected in-process copy after failed write, got %q", accessToken)
	}
}

func TestOpenStorageRedisRequiresReachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := OpenStorage(ctx, "redis://127.0.0.1:1/0?dial_timeout=50ms"); err == nil {
		t.Fatalf("expected ping failure for unreachable redis")
	}
	if _, _, err := OpenStorage(ctx, "redis://127.0.0.1:1/not-a-db"); err == nil {
		t.Fatalf("expected parse failure for invalid database index")
	}
}
