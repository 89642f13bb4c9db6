package dashboard

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var (
	// ErrMissingSigningKey is returned by NewCookieCodec when no signing key is configured.
	ErrMissingSigningKey = errors.New("dashboard.cookie.missing_signing_key")
	// ErrMissingCookie indicates the request carries no session cookie.
	ErrMissingCookie = errors.New("dashboard.cookie.missing_cookie")
	// ErrInvalidCookie covers bad signatures, wrong issuers and malformed claims.
	ErrInvalidCookie = errors.New("dashboard.cookie.invalid")
	// ErrCookieExpired indicates a well-formed cookie past its expiry.
	ErrCookieExpired = errors.New("dashboard.cookie.expired")
)

// SessionClaims identify a dashboard session. The cookie never carries backend credentials.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// CookieCodec mints and validates signed dashboard session cookies.
type CookieCodec struct {
	signingKey []byte
	issuer     string
	cookieName string
	ttl        time.Duration
	clock      Clock
}

// NewCookieCodec constructs a codec from configuration. A nil clock uses the system clock.
func NewCookieCodec(configuration ServerConfig, clock Clock) (*CookieCodec, error) {
	if len(configuration.CookieSigningKey) == 0 {
		return nil, fmt.Errorf("dashboard.cookie.new: %w", ErrMissingSigningKey)
	}
	issuer := strings.TrimSpace(configuration.CookieIssuer)
	if issuer == "" {
		issuer = DefaultCookieIssuer
	}
	cookieName := strings.TrimSpace(configuration.CookieName)
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &CookieCodec{
		signingKey: configuration.CookieSigningKey,
		issuer:     issuer,
		cookieName: cookieName,
		ttl:        configuration.SessionTTL,
		clock:      clock,
	}, nil
}

// CookieName returns the configured cookie name.
func (codec *CookieCodec) CookieName() string {
	return codec.cookieName
}

// Mint creates a signed HS256 token binding sessionID.
func (codec *CookieCodec) Mint(sessionID string) (string, time.Time, error) {
	issuedAt := codec.clock.Now()
	expiresAt := issuedAt.Add(codec.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(codec.signingKey)
	return signed, expiresAt, err
}

// Validate parses tokenString and returns its claims.
func (codec *CookieCodec) Validate(tokenString string) (*SessionClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("dashboard.cookie.validate: %w", ErrMissingCookie)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return codec.clock.Now()
	}), jwt.WithIssuer(codec.issuer))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("dashboard.cookie.validate: %w", ErrCookieExpired)
		}
		return nil, fmt.Errorf("dashboard.cookie.validate: %w", ErrInvalidCookie)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || !parsedToken.Valid || strings.TrimSpace(claims.SessionID) == "" {
		return nil, fmt.Errorf("dashboard.cookie.validate: %w", ErrInvalidCookie)
	}
	return claims, nil
}

// SessionID reads and validates the session cookie on request.
func (codec *CookieCodec) SessionID(request *http.Request) (string, error) {
	cookie, cookieErr := request.Cookie(codec.cookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return "", fmt.Errorf("dashboard.cookie.session_id: %w", ErrMissingCookie)
	}
	claims, err := codec.Validate(cookie.Value)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

func writeSessionCookie(contextGin *gin.Context, configuration ServerConfig, name string, value string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP || isHTTPS(contextGin.Request),
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearSessionCookie(contextGin *gin.Context, configuration ServerConfig, name string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP || isHTTPS(contextGin.Request),
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	return splitErr == nil && host == "localhost"
}
