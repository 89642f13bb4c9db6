// Package session coordinates credential refresh for one dashboard session.
//
// A Coordinator guarantees that at most one refresh call is outstanding at a
// time. Requests whose access credential was rejected while a refresh is in
// flight wait for that refresh instead of starting their own, and every
// waiter is released exactly once when it settles.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshTimeout bounds a refresh call when no timeout is configured.
const DefaultRefreshTimeout = 10 * time.Second

// State is the refresh state of a Coordinator.
type State int

const (
	// StateIdle means no refresh is in flight.
	StateIdle State = iota
	// StateRefreshing means one refresh call is outstanding.
	StateRefreshing
	// StateExpired means the last refresh failed and the credentials were cleared.
	StateExpired
)

func (state State) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// CredentialPair is an access/refresh bearer pair issued by the backend.
type CredentialPair struct {
	AccessToken  string
	RefreshToken string
}

// Refresher exchanges a refresh credential for a new pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (CredentialPair, error)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context, refreshToken string) (CredentialPair, error)

// Refresh calls fn.
func (fn RefreshFunc) Refresh(ctx context.Context, refreshToken string) (CredentialPair, error) {
	return fn(ctx, refreshToken)
}

// TokenStore is the credential storage the Coordinator reads and writes.
type TokenStore interface {
	RefreshToken(ctx context.Context) (string, bool)
	SetTokens(ctx context.Context, accessToken string, refreshToken string)
	ClearTokens(ctx context.Context)
}

// Reloader is implemented by token stores whose storage may be rotated by
// another process. The Coordinator reloads before reading the refresh credential.
type Reloader interface {
	Reload(ctx context.Context)
}

// ExpiryHandler is invoked once per terminal failure, after credentials are cleared.
type ExpiryHandler func(ctx context.Context, cause error)

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Tokens         TokenStore
	Refresher      Refresher
	OnExpired      ExpiryHandler
	RefreshTimeout time.Duration
	Logger         *zap.Logger
	Metrics        MetricsRecorder
}

type settlement struct {
	accessToken string
	err         error
}

// Coordinator serializes refresh attempts for one credential pair.
type Coordinator struct {
	tokens         TokenStore
	refresher      Refresher
	onExpired      ExpiryHandler
	refreshTimeout time.Duration
	logger         *zap.Logger
	metrics        MetricsRecorder

	mutex   sync.Mutex
	state   State
	pending []chan settlement
}

// NewCoordinator constructs a Coordinator. Tokens and Refresher are required.
func NewCoordinator(configuration CoordinatorConfig) *Coordinator {
	if configuration.Tokens == nil {
		panic("session: token store is required")
	}
	if configuration.Refresher == nil {
		panic("session: refresher is required")
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = noopMetrics{}
	if configuration.Metrics != nil {
		metrics = configuration.Metrics
	}
	refreshTimeout := configuration.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = DefaultRefreshTimeout
	}
	return &Coordinator{
		tokens:         configuration.Tokens,
		refresher:      configuration.Refresher,
		onExpired:      configuration.OnExpired,
		refreshTimeout: refreshTimeout,
		logger:         logger,
		metrics:        metrics,
		state:          StateIdle,
	}
}

// State returns the current refresh state.
func (coordinator *Coordinator) State() State {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return coordinator.state
}

// Recover obtains a fresh access credential after cause rejected the current one.
//
// The first caller performs the refresh; callers arriving while it is in
// flight wait for its outcome. On success the new access credential is
// returned. On failure the credentials are cleared, the expiry handler runs,
// and a *RefreshError is returned to the triggering caller and to every waiter.
func (coordinator *Coordinator) Recover(ctx context.Context, cause error) (string, error) {
	coordinator.mutex.Lock()
	if coordinator.state == StateRefreshing {
		waiter := make(chan settlement, 1)
		coordinator.pending = append(coordinator.pending, waiter)
		coordinator.mutex.Unlock()
		coordinator.metrics.Increment(MetricRequestQueued)

		select {
		case outcome := <-waiter:
			return outcome.accessToken, outcome.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	coordinator.state = StateRefreshing
	coordinator.mutex.Unlock()
	coordinator.metrics.Increment(MetricRefreshStarted)

	if reloader, ok := coordinator.tokens.(Reloader); ok {
		reloader.Reload(ctx)
	}
	refreshToken, ok := coordinator.tokens.RefreshToken(ctx)
	if !ok {
		return "", coordinator.expire(ctx, ErrMissingRefreshToken, cause)
	}

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), coordinator.refreshTimeout)
	pair, refreshErr := coordinator.refresher.Refresh(refreshCtx, refreshToken)
	timedOut := errors.Is(refreshCtx.Err(), context.DeadlineExceeded)
	cancel()

	if refreshErr == nil && (pair.AccessToken == "" || pair.RefreshToken == "") {
		refreshErr = errIncompletePair
	}
	if refreshErr != nil {
		if timedOut {
			refreshErr = errors.Join(ErrRefreshTimeout, refreshErr)
		}
		return "", coordinator.expire(ctx, refreshErr, cause)
	}

	// Credentials are written before the state leaves REFRESHING so that a
	// request triggering afterwards reads the new refresh credential.
	coordinator.tokens.SetTokens(ctx, pair.AccessToken, pair.RefreshToken)
	coordinator.settle(StateIdle, settlement{accessToken: pair.AccessToken})
	coordinator.metrics.Increment(MetricRefreshSucceeded)
	coordinator.logger.Debug("session refreshed", zap.String("code", "session.refreshed"))
	return pair.AccessToken, nil
}

var errIncompletePair = errors.New("session.incomplete_credential_pair")

func (coordinator *Coordinator) expire(ctx context.Context, failure error, trigger error) error {
	terminal := &RefreshError{Cause: failure, Trigger: trigger}

	coordinator.tokens.ClearTokens(ctx)
	released := coordinator.settle(StateExpired, settlement{err: terminal})

	coordinator.metrics.Increment(MetricRefreshFailed)
	coordinator.metrics.Increment(MetricSessionExpired)
	coordinator.logger.Warn("session expired",
		zap.String("code", "session.expired"),
		zap.Int("released_waiters", released),
		zap.NamedError("trigger", trigger),
		zap.Error(failure))

	if coordinator.onExpired != nil {
		coordinator.onExpired(ctx, terminal)
	}
	return terminal
}

// settle moves to next and releases every queued waiter in enqueue order.
func (coordinator *Coordinator) settle(next State, outcome settlement) int {
	coordinator.mutex.Lock()
	waiters := coordinator.pending
	coordinator.pending = nil
	coordinator.state = next
	coordinator.mutex.Unlock()

	for _, waiter := range waiters {
		waiter <- outcome
	}
	return len(waiters)
}
