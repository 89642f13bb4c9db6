// Package apiclient is the request pipeline between dashboard handlers and the
// ticketing backend. Every request carries the current access credential as a
// bearer header; a request whose credential is rejected is handed to a
// Recoverer and replayed once with the credential it returns.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRequestTimeout bounds a single backend request.
	DefaultRequestTimeout = 30 * time.Second
	// RequestIDHeader carries the dashboard request id to the backend.
	RequestIDHeader = "X-Request-Id"

	maxResponseBytes = 4 << 20
)

// AccessTokenSource supplies the access credential at dispatch time.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Recoverer obtains a fresh access credential after a rejection.
type Recoverer interface {
	Recover(ctx context.Context, cause error) (string, error)
}

// Config wires a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     AccessTokenSource
	Recoverer  Recoverer
	Logger     *zap.Logger
}

// Client dispatches JSON requests to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     AccessTokenSource
	recoverer  Recoverer
	logger     *zap.Logger
}

// Request describes one backend call. Body, when set, is encoded as JSON.
// A Request is never modified by the Client.
type Request struct {
	Method string
	Path   string
	Body   any
	Header http.Header
}

// Response is a 2xx backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into target.
func (response *Response) DecodeJSON(target any) error {
	if response == nil || len(bytes.TrimSpace(response.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Body, target); err != nil {
		return fmt.Errorf("apiclient.decode: %w", err)
	}
	return nil
}

// dispatchAttempt wraps a Request with the per-call retry bookkeeping.
// bearer overrides the stored credential; sent records the one dispatched.
type dispatchAttempt struct {
	request *Request
	retried bool
	bearer  string
	sent    string
}

// New constructs a Client.
func New(configuration Config) *Client {
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/"),
		httpClient: httpClient,
		tokens:     configuration.Tokens,
		recoverer:  configuration.Recoverer,
		logger:     logger,
	}
}

// BaseURL returns the configured backend base URL.
func (client *Client) BaseURL() string {
	return client.baseURL
}

// Do dispatches request. A credential rejection on the first attempt is
// recovered and the request replayed exactly once; every other outcome is
// returned unchanged. When the stored credential already differs from the
// rejected one, the replay uses it without another refresh.
func (client *Client) Do(ctx context.Context, request *Request) (*Response, error) {
	attempt := &dispatchAttempt{request: request}
	response, err := client.dispatch(ctx, attempt)
	if err == nil || attempt.retried || client.recoverer == nil || !IsAuthRejected(err) {
		return response, err
	}

	attempt.retried = true
	if client.tokens != nil {
		if current, ok := client.tokens.AccessToken(ctx); ok && current != attempt.sent {
			client.logger.Debug("replaying with rotated credential",
				zap.String("code", "apiclient.replay_rotated"),
				zap.String("path", request.Path))
			attempt.bearer = current
			return client.dispatch(ctx, attempt)
		}
	}
	accessToken, recoverErr := client.recoverer.Recover(ctx, err)
	if recoverErr != nil {
		return nil, recoverErr
	}
	attempt.bearer = accessToken
	return client.dispatch(ctx, attempt)
}

// Get issues a GET request.
func (client *Client) Get(ctx context.Context, path string) (*Response, error) {
	return client.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request with a JSON body.
func (client *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return client.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with an optional JSON body.
func (client *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return client.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete issues a DELETE request.
func (client *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return client.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

func (client *Client) dispatch(ctx context.Context, attempt *dispatchAttempt) (*Response, error) {
	httpRequest, buildErr := client.build(ctx, attempt)
	if buildErr != nil {
		return nil, buildErr
	}

	httpResponse, sendErr := client.httpClient.Do(httpRequest)
	if sendErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("apiclient.%s %s: %w", strings.ToLower(httpRequest.Method), attempt.request.Path, ctxErr)
		}
		client.logger.Warn("backend unreachable",
			zap.String("code", "apiclient.backend_unreachable"),
			zap.String("base_url", client.baseURL),
			zap.Error(sendErr))
		return nil, &UnreachableError{BaseURL: client.baseURL, Cause: sendErr}
	}
	defer httpResponse.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if readErr != nil {
		return nil, fmt.Errorf("apiclient.read_body: %w", readErr)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return nil, newStatusError(httpResponse.StatusCode, body)
	}
	return &Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header,
		Body:       body,
	}, nil
}

func (client *Client) build(ctx context.Context, attempt *dispatchAttempt) (*http.Request, error) {
	request := attempt.request
	if request == nil || strings.TrimSpace(request.Path) == "" {
		return nil, ErrEmptyPath
	}
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if request.Body != nil {
		encoded, encodeErr := json.Marshal(request.Body)
		if encodeErr != nil {
			return nil, fmt.Errorf("apiclient.encode: %w", encodeErr)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, client.resolve(request.Path), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("apiclient.build: %w", err)
	}
	for name, values := range request.Header {
		for _, value := range values {
			httpRequest.Header.Add(name, value)
		}
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		httpRequest.Header.Set(RequestIDHeader, requestID)
	}

	bearer := attempt.bearer
	if bearer == "" && client.tokens != nil {
		bearer, _ = client.tokens.AccessToken(ctx)
	}
	attempt.sent = bearer
	if bearer != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+bearer)
	}
	return httpRequest, nil
}

func (client *Client) resolve(path string) string {
	return client.baseURL + "/" + strings.TrimLeft(path, "/")
}

type requestIDKey struct{}

// WithRequestID returns a context carrying requestID for outbound requests.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

