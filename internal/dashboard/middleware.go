package dashboard

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/eventadmin/internal/apiclient"
	"go.uber.org/zap"
)

const (
	requestIDContextKey = "request_id"
	sessionContextKey   = "dashboard_session"
	maxRequestIDLength  = 128
)

// RequestID assigns every request an id, honoring a sane inbound X-Request-Id,
// and forwards it to the backend through the request context.
func RequestID() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestID := strings.TrimSpace(contextGin.GetHeader(apiclient.RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}
		contextGin.Writer.Header().Set(apiclient.RequestIDHeader, requestID)
		contextGin.Set(requestIDContextKey, requestID)
		contextGin.Request = contextGin.Request.WithContext(apiclient.WithRequestID(contextGin.Request.Context(), requestID))
		contextGin.Next()
	}
}

// RequestIDFromGin returns the id assigned by RequestID.
func RequestIDFromGin(contextGin *gin.Context) string {
	return contextGin.GetString(requestIDContextKey)
}

// RequireDashboardSession admits requests whose session holds an access
// credential; everything else is redirected to the login page.
func RequireDashboardSession(configuration ServerConfig, codec *CookieCodec, registry *Registry, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		sessionID, cookieErr := codec.SessionID(contextGin.Request)
		if cookieErr != nil {
			clearSessionCookie(contextGin, configuration, codec.CookieName())
			redirectToLogin(contextGin)
			return
		}
		dashboardSession := registry.Get(sessionID)
		if !dashboardSession.Authenticated(contextGin.Request.Context()) {
			logger.Debug("session without credentials",
				zap.String("code", "dashboard.session.unauthenticated"),
				zap.String("request_id", RequestIDFromGin(contextGin)))
			if dashboardSession.Expired() {
				registry.Remove(contextGin.Request.Context(), sessionID)
				clearSessionCookie(contextGin, configuration, codec.CookieName())
			}
			redirectToLogin(contextGin)
			return
		}
		contextGin.Set(sessionContextKey, dashboardSession)
		contextGin.Next()
	}
}

func currentSession(contextGin *gin.Context) (*Session, bool) {
	value, found := contextGin.Get(sessionContextKey)
	if !found {
		return nil, false
	}
	dashboardSession, ok := value.(*Session)
	return dashboardSession, ok && dashboardSession != nil
}

func redirectToLogin(contextGin *gin.Context) {
	contextGin.Redirect(http.StatusSeeOther, LoginPath)
	contextGin.Abort()
}
