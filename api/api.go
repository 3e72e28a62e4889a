// Package api implements the AuthBackend against the PGDesk REST API.
//
// All endpoints speak the JSON envelope {success, message, data}. Requests
// go through a retrying HTTP client so transient network failures do not
// surface as auth failures.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"

	session "github.com/pgdesk/session-go"
)

// Timeout configuration for different operations.
const (
	loginTimeout   = 10 * time.Second
	refreshTimeout = 10 * time.Second
	logoutTimeout  = 5 * time.Second
	meTimeout      = 10 * time.Second
)

// Client calls the PGDesk auth endpoints.
type Client struct {
	baseURL string
	retry   *retry.Client
}

// compile-time check
var _ session.AuthBackend = (*Client)(nil)

// Option configures the Client.
type Option func(*Client) error

// WithHTTPClient sets the underlying HTTP client wrapped by the retry layer.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) error {
		rc, err := retry.NewBackgroundClient(retry.WithHTTPClient(h))
		if err != nil {
			return fmt.Errorf("api: create retry client: %w", err)
		}
		c.retry = rc
		return nil
	}
}

// New creates an auth API client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}

	c := &Client{baseURL: baseURL}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.retry == nil {
		rc, err := retry.NewBackgroundClient(
			retry.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		)
		if err != nil {
			return nil, fmt.Errorf("api: create retry client: %w", err)
		}
		c.retry = rc
	}
	return c, nil
}

// envelope is the response wrapper used by every PGDesk endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do issues a request and decodes the envelope. Non-2xx responses become
// *session.APIError carrying the server message.
func (c *Client) do(ctx context.Context, method, path string, body any, bearer string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	reqID := session.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", reqID)

	resp, err := c.retry.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		// A non-JSON body (proxy error page) is kept as the raw message.
		if err := json.Unmarshal(raw, &env); err != nil {
			env.Message = string(raw)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &session.APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if !env.Success {
		return nil, &session.APIError{Status: resp.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}

// loginData is the payload of a successful login response.
type loginData struct {
	User   *session.User `json:"user"`
	Tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"tokens"`
}

// Login authenticates with email/password.
func (c *Client) Login(ctx context.Context, email, password string) (session.Credentials, *session.User, error) {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	data, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return session.Credentials{}, nil, err
	}

	var payload loginData
	if err := json.Unmarshal(data, &payload); err != nil {
		return session.Credentials{}, nil, fmt.Errorf("api: decode login response: %w", err)
	}
	if payload.Tokens.AccessToken == "" || payload.Tokens.RefreshToken == "" {
		return session.Credentials{}, nil, fmt.Errorf("api: login response missing tokens")
	}
	if payload.User == nil {
		return session.Credentials{}, nil, fmt.Errorf("api: login response missing user")
	}

	return session.Credentials{
		AccessToken:  payload.Tokens.AccessToken,
		RefreshToken: payload.Tokens.RefreshToken,
	}, payload.User, nil
}

// RefreshToken exchanges a refresh token for a new access token. The
// refresh token itself is not rotated by the server.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	data, err := c.do(ctx, http.MethodPost, "/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	}, "")
	if err != nil {
		return "", err
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("api: decode refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("api: refresh response missing access token")
	}
	return payload.AccessToken, nil
}

// Logout notifies the server that the session is over.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	ctx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()

	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, accessToken)
	return err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context, accessToken string) (*session.User, error) {
	ctx, cancel := context.WithTimeout(ctx, meTimeout)
	defer cancel()

	data, err := c.do(ctx, http.MethodGet, "/auth/me", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var payload struct {
		User *session.User `json:"user"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("api: decode me response: %w", err)
	}
	if payload.User == nil {
		return nil, fmt.Errorf("api: me response missing user")
	}
	return payload.User, nil
}
