// Package dashboard serves the admin dashboard: a signed session cookie maps
// each browser to a dashboard session whose request pipeline talks to the
// ticketing backend on the browser's behalf.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/eventadmin/internal/backend"
	"github.com/tyemirov/eventadmin/internal/session"
	"go.uber.org/zap"
)

type dashboardHandlers struct {
	configuration ServerConfig
	codec         *CookieCodec
	registry      *Registry
	loginPage     []byte
	logger        *zap.Logger
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type verifyRequest struct {
	OTP       string `json:"otp" binding:"required"`
	TempToken string `json:"tempToken" binding:"required"`
}

type signupRequest struct {
	FullName string `json:"fullName" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
}

type eventStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=approved pending cancelled"`
}

type ticketStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=confirmed pending cancelled"`
}

type profileUpdateRequest struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password"`
}

// Stats summarizes the dashboard home screen.
type Stats struct {
	PendingEvents int `json:"pendingEvents"`
	TotalUsers    int `json:"totalUsers"`
	TotalTickets  int `json:"totalTickets"`
}

// MountDashboardRoutes registers the login flow, the protected dashboard
// routes, and /healthz.
func MountDashboardRoutes(router gin.IRouter, configuration ServerConfig, codec *CookieCodec, registry *Registry, loginPage []byte, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := &dashboardHandlers{
		configuration: configuration,
		codec:         codec,
		registry:      registry,
		loginPage:     loginPage,
		logger:        logger,
	}

	router.GET("/healthz", handlers.handleHealth)
	router.GET(LoginPath, handlers.handleLoginPage)
	router.POST("/signup", handlers.handleSignup)
	router.POST(LoginPath, handlers.handleLogin)
	router.POST(LoginPath+"/verify", handlers.handleVerify)
	router.POST("/logout", handlers.handleLogout)

	protected := router.Group(HomePath)
	protected.Use(RequireDashboardSession(configuration, codec, registry, logger))
	protected.GET("", handlers.handleStats)
	protected.GET("/events", handlers.handleEvents)
	protected.POST("/events/:id/approve", handlers.handleApproveEvent)
	protected.PUT("/events/:id/status", handlers.handleEventStatus)
	protected.DELETE("/events/:id", handlers.handleDeleteEvent)
	protected.GET("/tickets", handlers.handleTickets)
	protected.PUT("/tickets/:id/status", handlers.handleTicketStatus)
	protected.DELETE("/tickets/:id", handlers.handleDeleteTicket)
	protected.GET("/users", handlers.handleUsers)
	protected.GET("/profile", handlers.handleProfile)
	protected.PUT("/profile", handlers.handleUpdateProfile)
	protected.DELETE("/account", handlers.handleDeleteAccount)
}

func (handlers *dashboardHandlers) handleHealth(contextGin *gin.Context) {
	contextGin.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": handlers.registry.Len(),
		"counters": handlers.registry.Metrics().Snapshot(),
	})
}

// existingSession returns the session named by a valid cookie, if any.
func (handlers *dashboardHandlers) existingSession(contextGin *gin.Context) (*Session, bool) {
	sessionID, err := handlers.codec.SessionID(contextGin.Request)
	if err != nil {
		return nil, false
	}
	return handlers.registry.Get(sessionID), true
}

// ensureSession returns a usable session for the login flow, replacing a
// missing or expired one and issuing a fresh cookie.
func (handlers *dashboardHandlers) ensureSession(contextGin *gin.Context) (*Session, error) {
	dashboardSession, found := handlers.existingSession(contextGin)
	if found && dashboardSession.Expired() {
		handlers.registry.Remove(contextGin.Request.Context(), dashboardSession.ID)
		found = false
	}
	if !found {
		dashboardSession = handlers.registry.Create()
	}
	signed, expiresAt, err := handlers.codec.Mint(dashboardSession.ID)
	if err != nil {
		return nil, err
	}
	writeSessionCookie(contextGin, handlers.configuration, handlers.codec.CookieName(), signed, expiresAt)
	return dashboardSession, nil
}

func (handlers *dashboardHandlers) handleLoginPage(contextGin *gin.Context) {
	if dashboardSession, found := handlers.existingSession(contextGin); found && dashboardSession.Authenticated(contextGin.Request.Context()) {
		profile, err := dashboardSession.Service.Profile(contextGin.Request.Context())
		if err == nil && profile.Success {
			contextGin.Redirect(http.StatusSeeOther, HomePath)
			return
		}
		if errors.Is(err, session.ErrSessionExpired) {
			handlers.registry.Remove(contextGin.Request.Context(), dashboardSession.ID)
			clearSessionCookie(contextGin, handlers.configuration, handlers.codec.CookieName())
		}
	}
	contextGin.Data(http.StatusOK, "text/html; charset=utf-8", handlers.loginPage)
}

func (handlers *dashboardHandlers) handleSignup(contextGin *gin.Context) {
	var inbound signupRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	dashboardSession, err := handlers.ensureSession(contextGin)
	if err != nil {
		handlers.respondError(contextGin, nil, err)
		return
	}
	result, err := dashboardSession.Service.Signup(contextGin.Request.Context(), backend.SignupRequest{
		FullName: inbound.FullName,
		Email:    inbound.Email,
		Password: inbound.Password,
		Username: inbound.Username,
	})
	if err != nil {
		handlers.respondLoginError(contextGin, dashboardSession, err)
		return
	}
	contextGin.JSON(http.StatusOK, result)
}

func (handlers *dashboardHandlers) handleLogin(contextGin *gin.Context) {
	var inbound loginRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	dashboardSession, err := handlers.ensureSession(contextGin)
	if err != nil {
		handlers.respondError(contextGin, nil, err)
		return
	}
	result, err := dashboardSession.Service.Login(contextGin.Request.Context(), inbound.Email, inbound.Password)
	if err != nil {
		handlers.respondLoginError(contextGin, dashboardSession, err)
		return
	}
	contextGin.JSON(http.StatusOK, result)
}

func (handlers *dashboardHandlers) handleVerify(contextGin *gin.Context) {
	var inbound verifyRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	ctx := contextGin.Request.Context()
	previousID, previousErr := handlers.codec.SessionID(contextGin.Request)

	// Credentials always land in a session id the browser has never presented.
	verified := handlers.registry.Create()
	result, err := verified.Service.VerifyOTP(ctx, inbound.OTP, inbound.TempToken)
	if err != nil {
		handlers.registry.Remove(ctx, verified.ID)
		handlers.respondLoginError(contextGin, verified, err)
		return
	}
	if !verified.Authenticated(ctx) {
		handlers.registry.Remove(ctx, verified.ID)
		contextGin.JSON(http.StatusOK, gin.H{
			"success": result.Success,
			"message": result.Message,
			"user":    result.User,
		})
		return
	}

	signed, expiresAt, err := handlers.codec.Mint(verified.ID)
	if err != nil {
		handlers.registry.Remove(ctx, verified.ID)
		handlers.respondError(contextGin, nil, err)
		return
	}
	if previousErr == nil && previousID != verified.ID {
		handlers.registry.Remove(ctx, previousID)
	}
	writeSessionCookie(contextGin, handlers.configuration, handlers.codec.CookieName(), signed, expiresAt)
	handlers.logger.Info("dashboard session authenticated",
		zap.String("code", "dashboard.login_verified"),
		zap.String("request_id", RequestIDFromGin(contextGin)))
	contextGin.JSON(http.StatusOK, gin.H{
		"success":  result.Success,
		"message":  result.Message,
		"user":     result.User,
		"redirect": HomePath,
	})
}

func (handlers *dashboardHandlers) handleLogout(contextGin *gin.Context) {
	if sessionID, err := handlers.codec.SessionID(contextGin.Request); err == nil {
		handlers.registry.Remove(contextGin.Request.Context(), sessionID)
	}
	clearSessionCookie(contextGin, handlers.configuration, handlers.codec.CookieName())
	contextGin.Status(http.StatusNoContent)
}

func (handlers *dashboardHandlers) handleStats(contextGin *gin.Context) {
	dashboardSession, _ := currentSession(contextGin)
	ctx := contextGin.Request.Context()

	var group sync.WaitGroup
	var stats Stats
	var eventsErr, usersErr, ticketsErr error
	group.Add(3)
	go func() {
		defer group.Done()
		result, err := dashboardSession.Service.PendingEvents(ctx)
		eventsErr = err
		if err == nil && result.Success {
			stats.PendingEvents = len(result.Events)
		}
	}()
	go func() {
		defer group.Done()
		result, err := dashboardSession.Service.Users(ctx)
		usersErr = err
		if err == nil && result.Success {
			stats.TotalUsers = len(result.Users)
		}
	}()
	go func() {
		defer group.Done()
		result, err := dashboardSession.Service.Tickets(ctx)
		ticketsErr = err
		if err == nil && result.Success {
			stats.TotalTickets = len(result.Tickets)
		}
	}()
	group.Wait()

	for _, err := range []error{eventsErr, usersErr, ticketsErr} {
		if errors.Is(err, session.ErrSessionExpired) {
			handlers.respondError(contextGin, dashboardSession, err)
			return
		}
		if err != nil {
			handlers.logger.Warn("dashboard stat unavailable",
				zap.String("code", "dashboard.stat_failed"),
				zap.String("request_id", RequestIDFromGin(contextGin)),
				zap.Error(err))
		}
	}
	contextGin.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (handlers *dashboardHandlers) handleEvents(contextGin *gin.Context) {
	dashboardSession, _ := currentSession(contextGin)
	ctx := contextGin.Request.Context()

	status := strings.ToLower(strings.TrimSpace(contextGin.DefaultQuery("status", backend.EventStatusPending)))
	var (
		result backend.EventsResult
		err    error
	)
	switch status {
	case backend.EventStatusPending:
		result, err = dashboardSession.Service.PendingEvents(ctx)
	case backend.EventStatusApproved:
		result, err = dashboardSession.Service.ApprovedEvents(ctx)
	default:
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}
	if err != nil {
		handlers.respondError(contextGin, dashboardSession, err)
		return
	}
	events := backend.FilterEvents(result.Events, contextGin.Query("q"))
	if events == nil {
		events = []backend.Event{}
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"success": result.Success,
		"message": result.Message,
		"status":  status,
		"events":  events,
	})
}

func (handlers *dashboardHandlers) handleApproveEvent(contextGin *gin.Context) {
	handlers.runEnvelope(contextGin, func(ctx context.Context, service *backend.Service) (backend.Envelope, error) {
		return service.ApproveEvent(ctx, contextGin.Param("id"))
	})
}

func (handlers *dashboardHandlers) handleEventStatus(contextGin *gin.Context) {
	var inbound eventStatusRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}
	handlers.runEnvelope(contextGin, func(ctx context.Context, service *backend.Service) (backend.Envelope, error) {
		return service.UpdateEventStatus(ctx, contextGin.Param("id"), inbound.Status)
	})
}

func (handlers *dashboardHandlers) handleDeleteEvent(contextGin *gin.Context) {
	handlers.runEnvelope(contextGin, func(ctx context.Context, service *backend.Service) (backend.Envelope, error) {
		return service.DeleteEvent(ctx, contextGin.Param("id"))
	})
}

func (handlers *dashboardHandlers) handleTickets(contextGin *gin.Context) {
	dashboardSession, _ := currentSession(contextGin)
	result, err := dashboardSession.Service.Tickets(contextGin.Request.Context())
	if err != nil {
		handlers.respondError(contextGin, dashboardSession, err)
		return
	}
	if result.Tickets == nil {
		result.Tickets = []backend.Ticket{}
	}
	contextGin.JSON(http.StatusOK, result)
}

func (handlers *dashboardHandlers) handleTicketStatus(contextGin *gin.Context) {
	var inbound ticketStatusRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}
	handlers.runEnvelope(contextGin, func(ctx context.Context, service *backend.Service) (backend.Envelope, error) {
		return service.UpdateTicketStatus(ctx, contextGin.Param("id"), inbound.Status)
	})
}

func (handlers *dashboardHandlers) handleDeleteTicket(contextGin *gin.Context) {
	handlers.runEnvelope(contextGin, func(ctx context.Context, service *backend.Service) (backend.Envelope, error) {
		return service.DeleteTicket(ctx, contextGin.Param("id"))
	})
}

func (handlers *dashboardHandlers) handleUsers(contextGin *gin.Context) {
	dashboardSession, _ := currentSession(contextGin)
	result, err := dashboardSession.Service.Users(contextGin.Request.Context())
	if err != nil {
		handlers.respondError(contextGin, dashboardSession, err)
		return
	}
	if result.Users == nil {
		result.Users = []backend.User{}
	}
	contextGin.JSON(http.StatusOK, result)
}

func (handlers *dashboardHandlers) handleProfile(contextGin *gin.Context) {
	dashboardSession, _ := currentSession(contextGin)
	result, err := dashboardSession.Service.Profile(contextGin.Request.Context())
	if err != nil {
		handlers.respondError(contextGin, dashboardSession, err)
		return
	}
	contextGin.JSON(http.StatusOK, result)
}

func (handlers *dashboardHandlers) handleUpdateProfile(contextGin *gin.Context) {
	var inbound profileUpdateRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	dashboardSession, _ := currentSession(contextGin)
	result, err := dashboardSession.Service.UpdateUser(contextGin.Request.Context(), backend.UserUpdate{
		FullName: inbound.FullName,
		Username: inbound.Username,
		Email:    inbound.Email,
		Password: inbound.Password,
	})
	if err != nil {
		handlers.respondError(contextGin, dashboardSession, err)
		return
	}
	contextGin.JSON(http.StatusOK, result)
}

func (handlers *dashboardHandlers) handleDeleteAccount(contextGin *gin.Context) {
	dashboardSession, _ := currentSession(contextGin)
	result, err := dashboardSession.Service.DeleteAccount(contextGin.Request.Context())
	if err != nil {
		handlers.respondError(contextGin, dashboardSession, err)
		return
	}
	handlers.registry.Remove(contextGin.Request.Context(), dashboardSession.ID)
	clearSessionCookie(contextGin, handlers.configuration, handlers.codec.CookieName())
	contextGin.JSON(http.StatusOK, result)
}

func (handlers *dashboardHandlers) runEnvelope(contextGin *gin.Context, operation func(ctx context.Context, service *backend.Service) (backend.Envelope, error)) {
	dashboardSession, _ := currentSession(contextGin)
	result, err := operation(contextGin.Request.Context(), dashboardSession.Service)
	if err != nil {
		handlers.respondError(contextGin, dashboardSession, err)
		return
	}
	contextGin.JSON(http.StatusOK, result)
}
