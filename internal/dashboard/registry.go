package dashboard

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/eventadmin/internal/apiclient"
	"github.com/tyemirov/eventadmin/internal/backend"
	"github.com/tyemirov/eventadmin/internal/session"
	"github.com/tyemirov/eventadmin/internal/tokenstore"
	"go.uber.org/zap"
)

// Session is one dashboard session: a token store namespace, its refresh
// coordinator, and the request pipeline bound to both.
type Session struct {
	ID          string
	Tokens      *tokenstore.TokenStore
	Coordinator *session.Coordinator
	Client      *apiclient.Client
	Service     *backend.Service

	expired  atomic.Bool
	lastSeen atomic.Int64
}

// Expired reports whether the session was torn down by a terminal refresh failure.
func (dashboardSession *Session) Expired() bool {
	return dashboardSession.expired.Load()
}

// Authenticated reports whether the session holds an access credential and
// has not expired.
func (dashboardSession *Session) Authenticated(ctx context.Context) bool {
	if dashboardSession.Expired() {
		return false
	}
	_, ok := dashboardSession.Tokens.AccessToken(ctx)
	return ok
}

func (dashboardSession *Session) touch(now time.Time) {
	dashboardSession.lastSeen.Store(now.UnixNano())
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Storage        tokenstore.Storage
	APIBaseURL     string
	HTTPClient     *http.Client
	RefreshTimeout time.Duration
	IdleTTL        time.Duration
	Metrics        *session.CounterMetrics
	Logger         *zap.Logger
	Clock          Clock
}

// Registry owns every live dashboard session.
type Registry struct {
	storage        tokenstore.Storage
	baseURL        string
	httpClient     *http.Client
	refresher      session.Refresher
	refreshTimeout time.Duration
	idleTTL        time.Duration
	metrics        *session.CounterMetrics
	logger         *zap.Logger
	clock          Clock

	mutex    sync.Mutex
	sessions map[string]*Session
}

// NewRegistry constructs a Registry.
func NewRegistry(configuration RegistryConfig) *Registry {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = session.NewCounterMetrics()
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: apiclient.DefaultRequestTimeout}
	}
	return &Registry{
		storage:        configuration.Storage,
		baseURL:        configuration.APIBaseURL,
		httpClient:     httpClient,
		refresher:      apiclient.NewHTTPRefresher(configuration.APIBaseURL, httpClient),
		refreshTimeout: configuration.RefreshTimeout,
		idleTTL:        configuration.IdleTTL,
		metrics:        metrics,
		logger:         logger,
		clock:          clock,
		sessions:       make(map[string]*Session),
	}
}

// Metrics returns the counters shared by every session.
func (registry *Registry) Metrics() *session.CounterMetrics {
	return registry.metrics
}

// Create registers a new session with a random id.
func (registry *Registry) Create() *Session {
	return registry.Get(uuid.NewString())
}

// Get returns the session for sessionID, building it on first use. Credentials
// kept in persistent storage are picked up again after a restart.
func (registry *Registry) Get(sessionID string) *Session {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	existing, ok := registry.sessions[sessionID]
	if ok {
		existing.touch(registry.clock.Now())
		return existing
	}
	built := registry.build(sessionID)
	built.touch(registry.clock.Now())
	registry.sessions[sessionID] = built
	return built
}

// Remove discards the session and its credentials.
func (registry *Registry) Remove(ctx context.Context, sessionID string) {
	registry.mutex.Lock()
	existing, ok := registry.sessions[sessionID]
	delete(registry.sessions, sessionID)
	registry.mutex.Unlock()

	if ok {
		existing.Tokens.ClearTokens(ctx)
		return
	}
	tokenstore.New(registry.storage, sessionID, registry.logger).ClearTokens(ctx)
}

// Prune removes sessions idle for longer than the idle TTL and returns how many were removed.
func (registry *Registry) Prune(ctx context.Context) int {
	if registry.idleTTL <= 0 {
		return 0
	}
	cutoff := registry.clock.Now().Add(-registry.idleTTL).UnixNano()

	registry.mutex.Lock()
	stale := make([]*Session, 0)
	for sessionID, candidate := range registry.sessions {
		if candidate.lastSeen.Load() < cutoff {
			stale = append(stale, candidate)
			delete(registry.sessions, sessionID)
		}
	}
	registry.mutex.Unlock()

	for _, removed := range stale {
		removed.Tokens.ClearTokens(ctx)
	}
	if len(stale) > 0 {
		registry.logger.Info("pruned idle dashboard sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Len returns the number of live sessions.
func (registry *Registry) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.sessions)
}

func (registry *Registry) build(sessionID string) *Session {
	sessionLogger := registry.logger.With(zap.String("session_id", sessionID))
	built := &Session{
		ID:     sessionID,
		Tokens: tokenstore.New(registry.storage, sessionID, sessionLogger),
	}
	built.Coordinator = session.NewCoordinator(session.CoordinatorConfig{
		Tokens:         built.Tokens,
		Refresher:      registry.refresher,
		RefreshTimeout: registry.refreshTimeout,
		Logger:         sessionLogger,
		Metrics:        registry.metrics,
		OnExpired: func(ctx context.Context, cause error) {
			built.expired.Store(true)
		},
	})
	built.Client = apiclient.New(apiclient.Config{
		BaseURL:    registry.baseURL,
		HTTPClient: registry.httpClient,
		Tokens:     built.Tokens,
		Recoverer:  built.Coordinator,
		Logger:     sessionLogger,
	})
	built.Service = backend.NewService(built.Client, built.Tokens, sessionLogger)
	return built
}
