package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/eventadmin/internal/dashboard"
	"github.com/tyemirov/eventadmin/internal/session"
	"github.com/tyemirov/eventadmin/internal/tokenstore"
	webassets "github.com/tyemirov/eventadmin/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var openTokenStorage = tokenstore.OpenStorage

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "eventadmin",
		Short:   "Admin dashboard for the event ticketing platform with single-flight session refresh",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8081", "HTTP listen address")
	rootCmd.Flags().String("api_base_url", "http://localhost:5001/api", "Base URL of the ticketing backend API")
	rootCmd.Flags().String("token_store_url", "", "Persistent credential storage (memory://, sqlite://, postgres://, redis://; leave empty for in-memory)")
	rootCmd.Flags().String("cookie_signing_key", "", "HS256 signing secret for the dashboard session cookie")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Duration("session_ttl", 12*time.Hour, "Dashboard session cookie lifetime")
	rootCmd.Flags().Duration("refresh_timeout", session.DefaultRefreshTimeout, "Upper bound on a single credential refresh call")
	rootCmd.Flags().Duration("request_timeout", 30*time.Second, "Timeout for a single backend request")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow non-Secure cookies over plain HTTP for local dev")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for a separately hosted frontend (sets SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	for _, flagName := range []string{
		"listen_addr",
		"api_base_url",
		"token_store_url",
		"cookie_signing_key",
		"cookie_domain",
		"session_ttl",
		"refresh_timeout",
		"request_timeout",
		"dev_insecure_http",
		"enable_cors",
		"cors_allowed_origins",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingCookieSigningKey = "config.missing_cookie_signing_key"
	configCodeInvalidAPIBaseURL       = "config.invalid_api_base_url"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidRefreshTimeout   = "config.invalid_refresh_timeout"
	configCodeInvalidRequestTimeout   = "config.invalid_request_timeout"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeTokenStoreOpen          = "config.token_store_open"

	sessionPruneInterval = 5 * time.Minute
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates the dashboard configuration from viper.
func LoadServerConfig() (dashboard.ServerConfig, error) {
	cookieSigningKey := viper.GetString("cookie_signing_key")
	if cookieSigningKey == "" {
		return dashboard.ServerConfig{}, configError(configCodeMissingCookieSigningKey, "cookie_signing_key must be provided")
	}

	apiBaseURL := strings.TrimRight(strings.TrimSpace(viper.GetString("api_base_url")), "/")
	parsedBaseURL, parseErr := url.Parse(apiBaseURL)
	if apiBaseURL == "" || parseErr != nil || parsedBaseURL.Host == "" || (parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https") {
		return dashboard.ServerConfig{}, configError(configCodeInvalidAPIBaseURL, "api_base_url must be an absolute http(s) URL")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return dashboard.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	refreshTimeout := viper.GetDuration("refresh_timeout")
	if refreshTimeout <= 0 {
		return dashboard.ServerConfig{}, configError(configCodeInvalidRefreshTimeout, "refresh_timeout must be greater than zero")
	}

	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout <= 0 {
		return dashboard.ServerConfig{}, configError(configCodeInvalidRequestTimeout, "request_timeout must be greater than zero")
	}

	return dashboard.ServerConfig{
		ListenAddr:       viper.GetString("listen_addr"),
		APIBaseURL:       apiBaseURL,
		TokenStoreURL:    viper.GetString("token_store_url"),
		CookieSigningKey: []byte(cookieSigningKey),
		CookieIssuer:     dashboard.DefaultCookieIssuer,
		CookieName:       dashboard.DefaultCookieName,
		CookieDomain:     viper.GetString("cookie_domain"),
		SessionTTL:       sessionTTL,
		RefreshTimeout:   refreshTimeout,
		RequestTimeout:   requestTimeout,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(dashboard.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	serverConfig.SameSiteMode = http.SameSiteStrictMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	storage, driver, storageErr := openTokenStorage(context.Background(), serverConfig.TokenStoreURL)
	if storageErr != nil {
		return fmt.Errorf("%s: %w", configCodeTokenStoreOpen, storageErr)
	}
	if closer, isCloser := storage.(io.Closer); isCloser {
		defer func() { _ = closer.Close() }()
	}
	logger.Info("using credential storage", zap.String("driver", driver))

	codec, codecErr := dashboard.NewCookieCodec(serverConfig, nil)
	if codecErr != nil {
		return codecErr
	}

	metricsRecorder := session.NewCounterMetrics()
	registry := dashboard.NewRegistry(dashboard.RegistryConfig{
		Storage:        storage,
		APIBaseURL:     serverConfig.APIBaseURL,
		HTTPClient:     &http.Client{Timeout: serverConfig.RequestTimeout},
		RefreshTimeout: serverConfig.RefreshTimeout,
		IdleTTL:        serverConfig.SessionTTL,
		Metrics:        metricsRecorder,
		Logger:         logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(dashboard.RequestID())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := dashboard.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	dashboard.MountDashboardRoutes(router, serverConfig, codec, registry, webassets.LoginPage, logger)

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go pruneSessions(shutdownCtx, registry, sessionPruneInterval)

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", serverConfig.ListenAddr),
		zap.String("api_base_url", serverConfig.APIBaseURL))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func pruneSessions(ctx context.Context, registry *dashboard.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Prune(ctx)
		}
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
			zap.String("request_id", dashboard.RequestIDFromGin(contextGin)),
		)
	}
}
