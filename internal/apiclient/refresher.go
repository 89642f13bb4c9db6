package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tyemirov/eventadmin/internal/session"
)

// RefreshPath is the backend route exchanging a refresh credential.
const RefreshPath = "/auth/refresh-token"

// HTTPRefresher performs the refresh call with a bare HTTP client. It never
// goes through Client.Do, so a rejected refresh cannot trigger another one.
type HTTPRefresher struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRefresher constructs a refresher for the backend at baseURL.
func NewHTTPRefresher(baseURL string, httpClient *http.Client) *HTTPRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &HTTPRefresher{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

type refreshResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges refreshToken for a new credential pair.
func (refresher *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (session.CredentialPair, error) {
	payload, encodeErr := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if encodeErr != nil {
		return session.CredentialPair{}, fmt.Errorf("apiclient.refresh.encode: %w", encodeErr)
	}
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, refresher.baseURL+RefreshPath, bytes.NewReader(payload))
	if buildErr != nil {
		return session.CredentialPair{}, fmt.Errorf("apiclient.refresh.build: %w", buildErr)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		httpRequest.Header.Set(RequestIDHeader, requestID)
	}

	httpResponse, sendErr := refresher.httpClient.Do(httpRequest)
	if sendErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return session.CredentialPair{}, fmt.Errorf("apiclient.refresh: %w", ctxErr)
		}
		return session.CredentialPair{}, &UnreachableError{BaseURL: refresher.baseURL, Cause: sendErr}
	}
	defer httpResponse.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if readErr != nil {
		return session.CredentialPair{}, fmt.Errorf("apiclient.refresh.read_body: %w", readErr)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return session.CredentialPair{}, fmt.Errorf("apiclient.refresh: %w", newStatusError(httpResponse.StatusCode, body))
	}

	var decoded refreshResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return session.CredentialPair{}, fmt.Errorf("apiclient.refresh.decode: %w", err)
	}
	if strings.TrimSpace(decoded.AccessToken) == "" || strings.TrimSpace(decoded.RefreshToken) == "" {
		return session.CredentialPair{}, fmt.Errorf("apiclient.refresh: %w", ErrRefreshResponseIncomplete)
	}
	return session.CredentialPair{
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
	}, nil
}
