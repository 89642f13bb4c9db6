package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/tyemirov/eventadmin/internal/apiclient"
)

type stubDoer struct {
	doFunc   func(ctx context.Context, request *apiclient.Request) (*apiclient.Response, error)
	requests []*apiclient.Request
}

func (doer *stubDoer) Do(ctx context.Context, request *apiclient.Request) (*apiclient.Response, error) {
	doer.requests = append(doer.requests, request)
	if doer.doFunc == nil {
		return &apiclient.Response{StatusCode: http.StatusOK, Body: []byte(`{"success":true}`)}, nil
	}
	return doer.doFunc(ctx, request)
}

type recordingCredentials struct {
	accessToken  string
	refreshToken string
	cleared      int
}

func (credentials *recordingCredentials) SetTokens(ctx context.Context, accessToken string, refreshToken string) {
	credentials.accessToken = accessToken
	credentials.refreshToken = refreshToken
}

func (credentials *recordingCredentials) ClearTokens(ctx context.Context) {
	credentials.cleared++
	credentials.accessToken = ""
	credentials.refreshToken = ""
}

func respondWith(body string) func(context.Context, *apiclient.Request) (*apiclient.Response, error) {
	return func(context.Context, *apiclient.Request) (*apiclient.Response, error) {
		return &apiclient.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
	}
}

func TestVerifyOTPStoresCredentials(t *testing.T) {
	doer := &stubDoer{doFunc: respondWith(`{"success":true,"message":"ok","accessToken":"a1","refreshToken":"r1","user":{"_id":"u1","name":"Admin"}}`)}
	credentials := &recordingCredentials{}
	service := NewService(doer, credentials, nil)

	result, err := service.VerifyOTP(context.Background(), "123456", "temp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.User == nil || result.User.ID != "u1" || result.User.DisplayName != "Admin" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if credentials.accessToken != "a1" || credentials.refreshToken != "r1" {
		t.Fatalf("expected stored pair a1/r1, got %q/%q", credentials.accessToken, credentials.refreshToken)
	}
	request := doer.requests[0]
	if request.Method != http.MethodPost || request.Path != "/auth/verify-otp" {
		t.Fatalf("unexpected request %s %s", request.Method, request.Path)
	}
	body, _ := json.Marshal(request.Body)
	if string(body) != `{"otp":"123456","tempToken":"temp"}` {
		t.Fatalf("unexpected body %s", body)
	}
	encoded, _ := json.Marshal(result)
	if containsToken(encoded) {
		t.Fatalf("expected credentials to stay out of the result, got %s", encoded)
	}
}

func containsToken(encoded []byte) bool {
	var decoded map[string]any
	_ = json.Unmarshal(encoded, &decoded)
	_, hasAccess := decoded["accessToken"]
	_, hasRefresh := decoded["refreshToken"]
	return hasAccess || hasRefresh
}

func TestVerifyOTPWithoutPairLeavesStoreUntouched(t *testing.T) {
	doer := &stubDoer{doFunc: respondWith(`{"success":false,"message":"invalid otp"}`)}
	credentials := &recordingCredentials{accessToken: "existing"}
	service := NewService(doer, credentials, nil)

	result, err := service.VerifyOTP(context.Background(), "000000", "temp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.Message != "invalid otp" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if credentials.accessToken != "existing" {
		t.Fatalf("expected store untouched, got %q", credentials.accessToken)
	}
}

func TestDeleteAccountClearsCredentialsAfterSuccess(t *testing.T) {
	credentials := &recordingCredentials{accessToken: "a", refreshToken: "r"}
	failing := &stubDoer{doFunc: func(context.Context, *apiclient.Request) (*apiclient.Response, error) {
		return nil, &apiclient.StatusError{StatusCode: http.StatusForbidden, Message: "forbidden"}
	}}
	if _, err := NewService(failing, credentials, nil).DeleteAccount(context.Background()); apiclient.StatusCode(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if credentials.cleared != 0 {
		t.Fatalf("expected credentials kept after a failed delete")
	}

	doer := &stubDoer{}
	if _, err := NewService(doer, credentials, nil).DeleteAccount(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credentials.cleared != 1 {
		t.Fatalf("expected one clear, got %d", credentials.cleared)
	}
	if doer.requests[0].Method != http.MethodDelete || doer.requests[0].Path != "/auth/delete" {
		t.Fatalf("unexpected request %s %s", doer.requests[0].Method, doer.requests[0].Path)
	}
}

func TestRecordOperationsRejectMissingIdentifiers(t *testing.T) {
	doer := &stubDoer{}
	service := NewService(doer, &recordingCredentials{}, nil)
	ctx := context.Background()

	for _, id := range []string{"", "  ", "undefined", "null"} {
		if _, err := service.ApproveEvent(ctx, id); !errors.Is(err, ErrMissingIdentifier) {
			t.Fatalf("approve %q: expected ErrMissingIdentifier, got %v", id, err)
		}
		if _, err := service.DeleteEvent(ctx, id); !errors.Is(err, ErrMissingIdentifier) {
			t.Fatalf("delete %q: expected ErrMissingIdentifier, got %v", id, err)
		}
		if _, err := service.UpdateTicketStatus(ctx, id, TicketStatusConfirmed); !errors.Is(err, ErrMissingIdentifier) {
			t.Fatalf("ticket %q: expected ErrMissingIdentifier, got %v", id, err)
		}
	}
	if len(doer.requests) != 0 {
		t.Fatalf("expected no backend calls, got %d", len(doer.requests))
	}
}

func TestStatusUpdatesValidateAndRoute(t *testing.T) {
	doer := &stubDoer{}
	service := NewService(doer, &recordingCredentials{}, nil)
	ctx := context.Background()

	if _, err := service.UpdateEventStatus(ctx, "e1", "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := service.UpdateTicketStatus(ctx, "t1", EventStatusApproved); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus for ticket, got %v", err)
	}
	if _, err := service.UpdateEventStatus(ctx, "e/1", EventStatusCancelled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.UpdateTicketStatus(ctx, "TKT-001", TicketStatusPending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.DeleteTicket(ctx, "TKT-001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []struct{ method, path string }{
		{http.MethodPut, "/admin/events/e%2F1/status"},
		{http.MethodPut, "/admin/tickets/TKT-001/status"},
		{http.MethodDelete, "/admin/tickets/TKT-001"},
	}
	if len(doer.requests) != len(expected) {
		t.Fatalf("expected %d requests, got %d", len(expected), len(doer.requests))
	}
	for index, want := range expected {
		got := doer.requests[index]
		if got.Method != want.method || got.Path != want.path {
			t.Fatalf("request %d: expected %s %s, got %s %s", index, want.method, want.path, got.Method, got.Path)
		}
	}
}

func TestPendingEventsResolvesIdentifiers(t *testing.T) {
	doer := &stubDoer{doFunc: respondWith(`{"success":true,"events":[
		{"_id":"a","title":"One"},
		{"id":7,"title":"Two"},
		{"eventId":"c","title":"Three"},
		{"event_id":"d","title":"Four","extra":{"seats":12}}
	]}`)}
	service := NewService(doer, &recordingCredentials{}, nil)

	result, err := service.PendingEvents(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := []string{"a", "7", "c", "d"}
	if len(result.Events) != len(ids) {
		t.Fatalf("expected %d events, got %d", len(ids), len(result.Events))
	}
	for index, id := range ids {
		if result.Events[index].ID != id {
			t.Fatalf("event %d: expected id %q, got %q", index, id, result.Events[index].ID)
		}
	}
	encoded, err := json.Marshal(result.Events[3])
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(encoded) != `{"event_id":"d","title":"Four","extra":{"seats":12}}` {
		t.Fatalf("expected backend record preserved, got %s", encoded)
	}
}

func TestServicePropagatesPipelineErrors(t *testing.T) {
	doer := &stubDoer{doFunc: func(context.Context, *apiclient.Request) (*apiclient.Response, error) {
		return nil, &apiclient.UnreachableError{BaseURL: "http://backend", Cause: errors.New("refused")}
	}}
	service := NewService(doer, &recordingCredentials{}, nil)
	if _, err := service.Users(context.Background()); !errors.Is(err, apiclient.ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
}
