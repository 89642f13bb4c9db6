package dashboard

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/eventadmin/internal/apiclient"
	"github.com/tyemirov/eventadmin/internal/backend"
	"github.com/tyemirov/eventadmin/internal/session"
	"go.uber.org/zap"
)

// respondError maps a backend operation failure to an HTTP response. A
// terminal session failure discards the session and redirects to the login page.
func (handlers *dashboardHandlers) respondError(contextGin *gin.Context, dashboardSession *Session, err error) {
	requestID := RequestIDFromGin(contextGin)
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		handlers.logger.Info("dashboard session expired",
			zap.String("code", "dashboard.session_expired"),
			zap.String("request_id", requestID),
			zap.Error(err))
		if dashboardSession != nil {
			handlers.registry.Remove(contextGin.Request.Context(), dashboardSession.ID)
		}
		clearSessionCookie(contextGin, handlers.configuration, handlers.codec.CookieName())
		redirectToLogin(contextGin)
	case errors.Is(err, apiclient.ErrBackendUnreachable):
		handlers.logger.Warn("backend unreachable",
			zap.String("code", "dashboard.backend_unreachable"),
			zap.String("request_id", requestID),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "backend_unreachable", "message": err.Error()})
	case errors.Is(err, backend.ErrMissingIdentifier):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_identifier"})
	case errors.Is(err, backend.ErrInvalidStatus):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
	case apiclient.StatusCode(err) != 0:
		var statusErr *apiclient.StatusError
		errors.As(err, &statusErr)
		contextGin.AbortWithStatusJSON(statusErr.StatusCode, gin.H{"success": false, "message": statusErr.Message})
	case errors.Is(err, context.DeadlineExceeded):
		contextGin.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "backend_timeout"})
	default:
		handlers.logger.Error("dashboard request failed",
			zap.String("code", "dashboard.request_failed"),
			zap.String("request_id", requestID),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// respondLoginError is respondError for the login flow. A rejection of an
// unauthenticated session is a wrong credential, not an expiry, so the
// backend's own response is returned.
func (handlers *dashboardHandlers) respondLoginError(contextGin *gin.Context, dashboardSession *Session, err error) {
	var refreshErr *session.RefreshError
	if errors.As(err, &refreshErr) && errors.Is(refreshErr.Cause, session.ErrMissingRefreshToken) {
		var statusErr *apiclient.StatusError
		if errors.As(refreshErr.Trigger, &statusErr) {
			handlers.registry.Remove(contextGin.Request.Context(), dashboardSession.ID)
			clearSessionCookie(contextGin, handlers.configuration, handlers.codec.CookieName())
			contextGin.AbortWithStatusJSON(statusErr.StatusCode, gin.H{"success": false, "message": statusErr.Message})
			return
		}
	}
	handlers.respondError(contextGin, dashboardSession, err)
}
