// Package backend exposes the ticketing platform operations used by the
// dashboard. Every call goes through the request pipeline; results are
// returned as the backend's success/message envelope plus typed data.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tyemirov/eventadmin/internal/apiclient"
	"go.uber.org/zap"
)

// Doer dispatches a backend request.
type Doer interface {
	Do(ctx context.Context, request *apiclient.Request) (*apiclient.Response, error)
}

// CredentialWriter persists or discards the session credential pair.
type CredentialWriter interface {
	SetTokens(ctx context.Context, accessToken string, refreshToken string)
	ClearTokens(ctx context.Context)
}

// Service performs backend operations for one dashboard session.
type Service struct {
	client      Doer
	credentials CredentialWriter
	logger      *zap.Logger
}

// NewService constructs a Service. client and credentials are required.
func NewService(client Doer, credentials CredentialWriter, logger *zap.Logger) *Service {
	if client == nil {
		panic("backend: client is required")
	}
	if credentials == nil {
		panic("backend: credential writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, credentials: credentials, logger: logger}
}

// SignupRequest registers a new account.
type SignupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// LoginResult is the first login step; TempToken identifies the pending OTP.
type LoginResult struct {
	Envelope
	TempToken string `json:"tempToken,omitempty"`
}

// VerifyResult completes a login. Credentials are never part of it.
type VerifyResult struct {
	Envelope
	User *User `json:"user,omitempty"`
}

// UserResult carries a single account.
type UserResult struct {
	Envelope
	User *User `json:"user,omitempty"`
}

// UsersResult carries the account list.
type UsersResult struct {
	Envelope
	Users []User `json:"users"`
}

// EventsResult carries an event list.
type EventsResult struct {
	Envelope
	Events []Event `json:"events"`
}

// TicketsResult carries the ticket list.
type TicketsResult struct {
	Envelope
	Tickets []Ticket `json:"tickets"`
}

// UserUpdate is a partial self-update; empty fields are omitted.
type UserUpdate struct {
	FullName string `json:"fullName,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// Signup registers an account.
func (service *Service) Signup(ctx context.Context, request SignupRequest) (Envelope, error) {
	var result Envelope
	err := service.call(ctx, http.MethodPost, "/auth/signup", request, &result)
	return result, err
}

// Login submits credentials and triggers the OTP challenge.
func (service *Service) Login(ctx context.Context, email string, password string) (LoginResult, error) {
	var result LoginResult
	err := service.call(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &result)
	return result, err
}

// VerifyOTP completes the login and stores the issued credential pair.
func (service *Service) VerifyOTP(ctx context.Context, otp string, tempToken string) (VerifyResult, error) {
	var wire struct {
		VerifyResult
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := service.call(ctx, http.MethodPost, "/auth/verify-otp", map[string]string{
		"otp":       otp,
		"tempToken": tempToken,
	}, &wire); err != nil {
		return VerifyResult{}, err
	}
	if wire.AccessToken != "" && wire.RefreshToken != "" {
		service.credentials.SetTokens(ctx, wire.AccessToken, wire.RefreshToken)
	} else if wire.Success {
		service.logger.Warn("verify response without credentials",
			zap.String("code", "backend.verify_missing_credentials"))
	}
	return wire.VerifyResult, nil
}

// Profile returns the signed-in account.
func (service *Service) Profile(ctx context.Context) (UserResult, error) {
	var result UserResult
	err := service.call(ctx, http.MethodGet, "/auth/profile", nil, &result)
	return result, err
}

// Users lists every account.
func (service *Service) Users(ctx context.Context) (UsersResult, error) {
	var result UsersResult
	err := service.call(ctx, http.MethodGet, "/auth/users", nil, &result)
	return result, err
}

// UpdateUser updates the signed-in account.
func (service *Service) UpdateUser(ctx context.Context, update UserUpdate) (UserResult, error) {
	var result UserResult
	err := service.call(ctx, http.MethodPut, "/auth/update", update, &result)
	return result, err
}

// DeleteAccount deletes the signed-in account and discards its credentials.
func (service *Service) DeleteAccount(ctx context.Context) (Envelope, error) {
	var result Envelope
	if err := service.call(ctx, http.MethodDelete, "/auth/delete", nil, &result); err != nil {
		return Envelope{}, err
	}
	service.credentials.ClearTokens(ctx)
	return result, nil
}

// PendingEvents lists events awaiting approval.
func (service *Service) PendingEvents(ctx context.Context) (EventsResult, error) {
	var result EventsResult
	err := service.call(ctx, http.MethodGet, "/admin/events/pending", nil, &result)
	return result, err
}

// ApprovedEvents lists approved events.
func (service *Service) ApprovedEvents(ctx context.Context) (EventsResult, error) {
	var result EventsResult
	err := service.call(ctx, http.MethodGet, "/admin/events/approved", nil, &result)
	return result, err
}

// ApproveEvent approves a pending event.
func (service *Service) ApproveEvent(ctx context.Context, eventID string) (Envelope, error) {
	path, err := recordPath("/admin/events", eventID, "approve")
	if err != nil {
		return Envelope{}, err
	}
	var result Envelope
	err = service.call(ctx, http.MethodPut, path, nil, &result)
	return result, err
}

// UpdateEventStatus sets an event status.
func (service *Service) UpdateEventStatus(ctx context.Context, eventID string, status string) (Envelope, error) {
	if !ValidEventStatus(status) {
		return Envelope{}, fmt.Errorf("backend.update_event_status: %w: %q", ErrInvalidStatus, status)
	}
	path, err := recordPath("/admin/events", eventID, "status")
	if err != nil {
		return Envelope{}, err
	}
	var result Envelope
	err = service.call(ctx, http.MethodPut, path, map[string]string{"status": status}, &result)
	return result, err
}

// DeleteEvent deletes an event.
func (service *Service) DeleteEvent(ctx context.Context, eventID string) (Envelope, error) {
	path, err := recordPath("/admin/events", eventID, "")
	if err != nil {
		return Envelope{}, err
	}
	var result Envelope
	err = service.call(ctx, http.MethodDelete, path, nil, &result)
	return result, err
}

// Tickets lists ticket purchases.
func (service *Service) Tickets(ctx context.Context) (TicketsResult, error) {
	var result TicketsResult
	err := service.call(ctx, http.MethodGet, "/admin/tickets", nil, &result)
	return result, err
}

// UpdateTicketStatus sets a ticket status.
func (service *Service) UpdateTicketStatus(ctx context.Context, ticketID string, status string) (Envelope, error) {
	if !ValidTicketStatus(status) {
		return Envelope{}, fmt.Errorf("backend.update_ticket_status: %w: %q", ErrInvalidStatus, status)
	}
	path, err := recordPath("/admin/tickets", ticketID, "status")
	if err != nil {
		return Envelope{}, err
	}
	var result Envelope
	err = service.call(ctx, http.MethodPut, path, map[string]string{"status": status}, &result)
	return result, err
}

// DeleteTicket deletes a ticket.
func (service *Service) DeleteTicket(ctx context.Context, ticketID string) (Envelope, error) {
	path, err := recordPath("/admin/tickets", ticketID, "")
	if err != nil {
		return Envelope{}, err
	}
	var result Envelope
	err = service.call(ctx, http.MethodDelete, path, nil, &result)
	return result, err
}

func (service *Service) call(ctx context.Context, method string, path string, body any, target any) error {
	response, err := service.client.Do(ctx, &apiclient.Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if err := response.DecodeJSON(target); err != nil {
		return fmt.Errorf("backend.%s %s: %w", strings.ToLower(method), path, err)
	}
	return nil
}

func recordPath(collection string, id string, action string) (string, error) {
	if !ValidIdentifier(id) {
		return "", fmt.Errorf("%s: %w", strings.TrimPrefix(collection, "/"), ErrMissingIdentifier)
	}
	path := collection + "/" + url.PathEscape(strings.TrimSpace(id))
	if action != "" {
		path += "/" + action
	}
	return path, nil
}
