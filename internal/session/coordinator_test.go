package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tyemirov/eventadmin/internal/tokenstore"
)

var errAccessRejected = errors.New("access_rejected")

func newTestTokens(t *testing.T, accessToken string, refreshToken string) *tokenstore.TokenStore {
	t.Helper()
	store := tokenstore.New(tokenstore.NewMemoryStorage(), "test", nil)
	if refreshToken != "" {
		store.SetTokens(context.Background(), accessToken, refreshToken)
	}
	return store
}

func waitForPending(t *testing.T, coordinator *Coordinator, expected int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		coordinator.mutex.Lock()
		queued := len(coordinator.pending)
		coordinator.mutex.Unlock()
		if queued >= expected {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d queued waiters before deadline", expected)
}

type recoverResult struct {
	accessToken string
	err         error
}

func recoverConcurrently(coordinator *Coordinator, count int) (chan recoverResult, *sync.WaitGroup) {
	results := make(chan recoverResult, count)
	var group sync.WaitGroup
	for index := 0; index < count; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			accessToken, err := coordinator.Recover(context.Background(), errAccessRejected)
			results <- recoverResult{accessToken: accessToken, err: err}
		}()
	}
	return results, &group
}

func TestCoordinatorSingleFlight(t *testing.T) {
	const requestCount = 8
	tokens := newTestTokens(t, "access-1", "refresh-1")
	release := make(chan struct{})
	var refreshCalls atomic.Int32
	metrics := NewCounterMetrics()

	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			refreshCalls.Add(1)
			if refreshToken != "refresh-1" {
				return CredentialPair{}, errors.New("unexpected refresh token " + refreshToken)
			}
			<-release
			return CredentialPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
		}),
		Metrics: metrics,
	})

	results, group := recoverConcurrently(coordinator, requestCount)
	waitForPending(t, coordinator, requestCount-1)
	if state := coordinator.State(); state != StateRefreshing {
		t.Fatalf("expected refreshing state, got %s", state)
	}
	close(release)
	group.Wait()
	close(results)

	for result := range results {
		if result.err != nil {
			t.Fatalf("unexpected error: %v", result.err)
		}
		if result.accessToken != "access-2" {
			t.Fatalf("expected access-2, got %q", result.accessToken)
		}
	}
	if calls := refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", calls)
	}
	if state := coordinator.State(); state != StateIdle {
		t.Fatalf("expected idle after refresh, got %s", state)
	}
	accessToken, _ := tokens.AccessToken(context.Background())
	refreshToken, _ := tokens.RefreshToken(context.Background())
	if accessToken != "access-2" || refreshToken != "refresh-2" {
		t.Fatalf("expected stored pair to be replaced, got %q/%q", accessToken, refreshToken)
	}
	if queued := metrics.Count(MetricRequestQueued); queued != requestCount-1 {
		t.Fatalf("expected %d queued requests, got %d", requestCount-1, queued)
	}
}

func TestCoordinatorTerminalTeardown(t *testing.T) {
	const requestCount = 4
	tokens := newTestTokens(t, "access-1", "refresh-1")
	release := make(chan struct{})
	refreshFailure := errors.New("refresh_rejected")
	var expiredCalls atomic.Int32

	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			<-release
			return CredentialPair{}, refreshFailure
		}),
		OnExpired: func(ctx context.Context, cause error) {
			expiredCalls.Add(1)
		},
	})

	results, group := recoverConcurrently(coordinator, requestCount)
	waitForPending(t, coordinator, requestCount-1)
	close(release)
	group.Wait()
	close(results)

	count := 0
	for result := range results {
		count++
		if !errors.Is(result.err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", result.err)
		}
		if !errors.Is(result.err, refreshFailure) {
			t.Fatalf("expected refresh failure cause, got %v", result.err)
		}
		if errors.Is(result.err, errAccessRejected) {
			t.Fatalf("expected the refresh error rather than the original rejection")
		}
	}
	if count != requestCount {
		t.Fatalf("expected %d results, got %d", requestCount, count)
	}
	if _, ok := tokens.AccessToken(context.Background()); ok {
		t.Fatalf("expected access token cleared")
	}
	if _, ok := tokens.RefreshToken(context.Background()); ok {
		t.Fatalf("expected refresh token cleared")
	}
	if calls := expiredCalls.Load(); calls != 1 {
		t.Fatalf("expected one expiry notification, got %d", calls)
	}
	if state := coordinator.State(); state != StateExpired {
		t.Fatalf("expected expired state, got %s", state)
	}
}

func TestCoordinatorMissingRefreshTokenSkipsNetwork(t *testing.T) {
	tokens := newTestTokens(t, "", "")
	var refreshCalls atomic.Int32
	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			refreshCalls.Add(1)
			return CredentialPair{AccessToken: "a", RefreshToken: "r"}, nil
		}),
	})

	_, err := coordinator.Recover(context.Background(), errAccessRejected)
	if !errors.Is(err, ErrMissingRefreshToken) || !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected missing refresh token expiry, got %v", err)
	}
	if calls := refreshCalls.Load(); calls != 0 {
		t.Fatalf("expected no refresh call, got %d", calls)
	}
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) || refreshErr.Trigger != errAccessRejected {
		t.Fatalf("expected trigger to be recorded, got %+v", refreshErr)
	}
}

func TestCoordinatorRefreshTimeoutForcesTeardown(t *testing.T) {
	tokens := newTestTokens(t, "access-1", "refresh-1")
	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens:         tokens,
		RefreshTimeout: 20 * time.Millisecond,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			<-ctx.Done()
			return CredentialPair{}, ctx.Err()
		}),
	})

	_, err := coordinator.Recover(context.Background(), errAccessRejected)
	if !errors.Is(err, ErrRefreshTimeout) {
		t.Fatalf("expected ErrRefreshTimeout, got %v", err)
	}
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, ok := tokens.RefreshToken(context.Background()); ok {
		t.Fatalf("expected credentials cleared after timeout")
	}
}

func TestCoordinatorRefreshSurvivesTriggerCancellation(t *testing.T) {
	tokens := newTestTokens(t, "access-1", "refresh-1")
	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			if ctx.Err() != nil {
				return CredentialPair{}, ctx.Err()
			}
			return CredentialPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
		}),
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	accessToken, err := coordinator.Recover(cancelled, errAccessRejected)
	if err != nil {
		t.Fatalf("expected refresh to ignore caller cancellation, got %v", err)
	}
	if accessToken != "access-2" {
		t.Fatalf("expected access-2, got %q", accessToken)
	}
}

func TestCoordinatorWaiterCancellation(t *testing.T) {
	tokens := newTestTokens(t, "access-1", "refresh-1")
	release := make(chan struct{})
	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			<-release
			return CredentialPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
		}),
	})

	leaderDone := make(chan recoverResult, 1)
	go func() {
		accessToken, err := coordinator.Recover(context.Background(), errAccessRejected)
		leaderDone <- recoverResult{accessToken: accessToken, err: err}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for coordinator.State() != StateRefreshing {
		if time.Now().After(deadline) {
			t.Fatalf("refresh never started")
		}
		time.Sleep(time.Millisecond)
	}

	waiterCtx, cancelWaiter := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := coordinator.Recover(waiterCtx, errAccessRejected)
		waiterDone <- err
	}()
	waitForPending(t, coordinator, 1)
	cancelWaiter()
	if err := <-waiterDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for abandoned waiter, got %v", err)
	}

	close(release)
	if result := <-leaderDone; result.err != nil || result.accessToken != "access-2" {
		t.Fatalf("expected leader to finish refresh, got %q / %v", result.accessToken, result.err)
	}
}

func TestCoordinatorRecoversAfterExpiry(t *testing.T) {
	tokens := newTestTokens(t, "", "")
	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			return CredentialPair{AccessToken: "access-3", RefreshToken: "refresh-3"}, nil
		}),
	})
	if _, err := coordinator.Recover(context.Background(), errAccessRejected); err == nil {
		t.Fatalf("expected expiry without refresh token")
	}

	tokens.SetTokens(context.Background(), "access-login", "refresh-login")
	accessToken, err := coordinator.Recover(context.Background(), errAccessRejected)
	if err != nil || accessToken != "access-3" {
		t.Fatalf("expected refresh after new login, got %q / %v", accessToken, err)
	}
	if state := coordinator.State(); state != StateIdle {
		t.Fatalf("expected idle, got %s", state)
	}
}

func TestCoordinatorRejectsIncompletePair(t *testing.T) {
	tokens := newTestTokens(t, "access-1", "refresh-1")
	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			return CredentialPair{AccessToken: "only-access"}, nil
		}),
	})
	if _, err := coordinator.Recover(context.Background(), errAccessRejected); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expiry for incomplete pair, got %v", err)
	}
}

func TestCoordinatorReadsRotationFromSharedStorage(t *testing.T) {
	shared := tokenstore.NewMemoryStorage()
	ctx := context.Background()
	otherReplica := tokenstore.New(shared, "session-1", nil)
	tokens := tokenstore.New(shared, "session-1", nil)

	otherReplica.SetTokens(ctx, "access-1", "refresh-1")
	if refreshToken, _ := tokens.RefreshToken(ctx); refreshToken != "refresh-1" {
		t.Fatalf("expected refresh-1 to load, got %q", refreshToken)
	}
	otherReplica.SetTokens(ctx, "access-2", "refresh-2")

	var presented string
	coordinator := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresher: RefreshFunc(func(ctx context.Context, refreshToken string) (CredentialPair, error) {
			presented = refreshToken
			return CredentialPair{AccessToken: "access-3", RefreshToken: "refresh-3"}, nil
		}),
	})

	accessToken, err := coordinator.Recover(ctx, errAccessRejected)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if presented != "refresh-2" {
		t.Fatalf("expected the rotated refresh credential, got %q", presented)
	}
	if accessToken != "access-3" {
		t.Fatalf("expected access-3, got %q", accessToken)
	}
	if stored, _ := otherReplica.RefreshToken(ctx); stored != "refresh-2" {
		t.Fatalf("expected the other replica to keep its loaded copy, got %q", stored)
	}
	otherReplica.Reload(ctx)
	if stored, _ := otherReplica.RefreshToken(ctx); stored != "refresh-3" {
		t.Fatalf("expected refresh-3 in shared storage, got %q", stored)
	}
}
