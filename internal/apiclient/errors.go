package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrBackendUnreachable matches every transport failure where no response was received.
	ErrBackendUnreachable = errors.New("apiclient.backend_unreachable")
	// ErrRefreshResponseIncomplete indicates a refresh response without both credentials.
	ErrRefreshResponseIncomplete = errors.New("apiclient.refresh_response_incomplete")
	// ErrEmptyPath indicates a request without a path.
	ErrEmptyPath = errors.New("apiclient.empty_path")
)

// StatusError is a backend response with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (statusErr *StatusError) Error() string {
	if statusErr.Message == "" {
		return fmt.Sprintf("apiclient: HTTP %d", statusErr.StatusCode)
	}
	return fmt.Sprintf("apiclient: HTTP %d: %s", statusErr.StatusCode, statusErr.Message)
}

// UnreachableError replaces a raw transport failure with a configuration hint.
type UnreachableError struct {
	BaseURL string
	Cause   error
}

func (unreachableErr *UnreachableError) Error() string {
	return fmt.Sprintf("cannot connect to backend server at %s; check that the backend is running and api_base_url is correct: %v", unreachableErr.BaseURL, unreachableErr.Cause)
}

// Unwrap exposes the transport failure.
func (unreachableErr *UnreachableError) Unwrap() error {
	return unreachableErr.Cause
}

// Is reports a match against ErrBackendUnreachable.
func (unreachableErr *UnreachableError) Is(target error) bool {
	return target == ErrBackendUnreachable
}

// IsAuthRejected reports whether err is a backend rejection of the access credential.
func IsAuthRejected(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func newStatusError(statusCode int, body []byte) *StatusError {
	return &StatusError{
		StatusCode: statusCode,
		Message:    extractMessage(body),
		Body:       body,
	}
}

func extractMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(truncate(body, 256)))
	}
	if strings.TrimSpace(payload.Message) != "" {
		return payload.Message
	}
	return payload.Error
}

func truncate(body []byte, limit int) []byte {
	if len(body) <= limit {
		return body
	}
	return body[:limit]
}
