package dashboard

import (
	"net/http"
	"time"
)

const (
	// DefaultCookieName names the dashboard session cookie.
	DefaultCookieName = "eventadmin_session"
	// DefaultCookieIssuer is the issuer of dashboard session cookies.
	DefaultCookieIssuer = "eventadmin"
	// LoginPath is the hard-redirect target for unauthenticated and expired sessions.
	LoginPath = "/login"
	// HomePath is where an authenticated visitor of the login page is sent.
	HomePath = "/dashboard"
)

// ServerConfig configures the backend connection, the session cookie, and timeouts.
type ServerConfig struct {
	ListenAddr        string
	APIBaseURL        string
	TokenStoreURL     string
	CookieSigningKey  []byte
	CookieIssuer      string
	CookieName        string
	CookieDomain      string
	SessionTTL        time.Duration
	RefreshTimeout    time.Duration
	RequestTimeout    time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
}
