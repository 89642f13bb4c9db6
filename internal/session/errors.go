package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired matches every terminal refresh failure.
	ErrSessionExpired = errors.New("session.expired")
	// ErrMissingRefreshToken indicates a refresh was needed but no refresh credential was stored.
	ErrMissingRefreshToken = errors.New("session.missing_refresh_token")
	// ErrRefreshTimeout indicates the refresh call did not settle within the configured bound.
	ErrRefreshTimeout = errors.New("session.refresh_timeout")
)

// RefreshError is delivered to the triggering caller and to every queued
// request when the session is torn down. Trigger is the rejection that
// started the refresh; it is informational and not part of the chain.
type RefreshError struct {
	Cause   error
	Trigger error
}

func (refreshErr *RefreshError) Error() string {
	if refreshErr.Cause == nil {
		return ErrSessionExpired.Error()
	}
	return fmt.Sprintf("%s: %v", ErrSessionExpired.Error(), refreshErr.Cause)
}

// Unwrap exposes the refresh failure cause.
func (refreshErr *RefreshError) Unwrap() error {
	return refreshErr.Cause
}

// Is reports a match against ErrSessionExpired.
func (refreshErr *RefreshError) Is(target error) bool {
	return target == ErrSessionExpired
}
