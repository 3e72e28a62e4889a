// Package session provides the client-side session SDK for the PGDesk
// paying-guest hostel management platform.
//
// It owns the full access/refresh token lifecycle against the PGDesk auth
// API: a token store as the single source of truth, an HTTP transport that
// attaches bearer credentials and recovers from expired-token 401s, a
// single-flight refresh coordinator, a background expiry watch, and a
// session gate that mediates expiry recovery or forced logout.
//
// Concrete implementations are injected via Option functions, so every
// piece can be replaced in tests:
//
//	client, err := session.New(
//	    session.Config{Endpoint: "https://api.pgdesk.example.com"},
//	    session.WithTokenStore(store.NewMemory()),
//	    session.WithAuthBackend(apiClient),
//	    session.WithRefresher(coordinator),
//	)
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config holds connection and behavior configuration.
type Config struct {
	// Endpoint is the base URL of the PGDesk API.
	Endpoint string

	// MeCacheTTL controls how long the /auth/me result is cached locally.
	// Default: 1 minute.
	MeCacheTTL time.Duration

	// SuperadminLoginPath is the login route for superadmin accounts.
	// Default: "/login".
	SuperadminLoginPath string

	// AdminLoginPath is the login route for every other role.
	// Default: "/admin/login".
	AdminLoginPath string
}

// Client is the main entry point for session operations.
type Client struct {
	config    Config
	logger    *slog.Logger
	store     TokenStore
	backend   AuthBackend
	refresher Refresher
	publisher Publisher
	http      *http.Client

	sf singleflight.Group

	mu        sync.RWMutex
	me        *User
	meFetched time.Time
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenStore sets the token store implementation.
func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.store = s }
}

// WithAuthBackend sets the auth API implementation.
func WithAuthBackend(b AuthBackend) Option {
	return func(c *Client) { c.backend = b }
}

// WithRefresher sets the refresh coordinator.
func WithRefresher(r Refresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(c *Client) { c.publisher = p }
}

// WithHTTPClient sets the HTTP client returned by HTTP(). Wire it with
// transport.New so API calls get bearer attachment and 401 recovery.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// DefaultMeCacheTTL is the default duration for caching the /auth/me result.
const DefaultMeCacheTTL = time.Minute

// New creates a new session client with the given configuration and options.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("session: Endpoint is required")
	}
	if cfg.MeCacheTTL == 0 {
		cfg.MeCacheTTL = DefaultMeCacheTTL
	}
	if cfg.SuperadminLoginPath == "" {
		cfg.SuperadminLoginPath = "/login"
	}
	if cfg.AdminLoginPath == "" {
		cfg.AdminLoginPath = "/admin/login"
	}

	c := &Client{config: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.store == nil {
		return nil, fmt.Errorf("session: a TokenStore is required")
	}
	if c.backend == nil {
		return nil, fmt.Errorf("session: an AuthBackend is required")
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Store returns the token store.
func (c *Client) Store() TokenStore { return c.store }

// HTTP returns the HTTP client for API traffic, or nil if not configured.
func (c *Client) HTTP() *http.Client { return c.http }

// Login authenticates with email/password and saves the issued credentials
// and user snapshot as one unit.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	creds, user, err := c.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(creds, user); err != nil {
		return nil, fmt.Errorf("session: save credentials: %w", err)
	}

	c.mu.Lock()
	c.me = user
	c.meFetched = time.Now()
	c.mu.Unlock()

	c.logger.Info("logged in", "email", email, "role", user.Role)
	return user, nil
}

// Logout ends the session. The server call is best effort: by the time
// logout runs the token is already believed dead, so a failed round-trip is
// downgraded to a local success once the store is cleared.
func (c *Client) Logout(ctx context.Context) error {
	if token := c.store.AccessToken(); token != "" {
		if err := c.backend.Logout(ctx, token); err != nil {
			c.logger.Warn("server logout failed, clearing local session anyway", "error", err)
		}
	}

	c.mu.Lock()
	c.me = nil
	c.meFetched = time.Time{}
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("session: clear store: %w", err)
	}
	return nil
}

// Token returns a usable access token, refreshing through the coordinator
// when the stored one is absent or about to expire.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.store.Valid() {
		return c.store.AccessToken(), nil
	}
	if c.refresher == nil {
		return "", ErrNoRefreshToken
	}
	return c.refresher.Refresh(ctx)
}

// User returns the locally stored user snapshot, or nil when logged out.
func (c *Client) User() *User { return c.store.User() }

// Me returns the authenticated user as the server sees it. Results are
// cached for MeCacheTTL and concurrent fetches are collapsed into one
// request via singleflight.
func (c *Client) Me(ctx context.Context) (*User, error) {
	c.mu.RLock()
	if c.me != nil && time.Since(c.meFetched) < c.config.MeCacheTTL {
		defer c.mu.RUnlock()
		return c.me, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do("me", func() (interface{}, error) {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, err
		}
		return c.backend.Me(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	user := result.(*User)
	c.mu.Lock()
	c.me = user
	c.meFetched = time.Now()
	c.mu.Unlock()

	return user, nil
}

// LoginPath returns the login route for the given role: superadmin goes to
// the primary login, every other role to the admin login.
func (c *Client) LoginPath(role Role) string {
	if role == RoleSuperadmin {
		return c.config.SuperadminLoginPath
	}
	return c.config.AdminLoginPath
}

// Close releases resources held by injected implementations. Any of them
// that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []interface{}{c.store, c.backend, c.refresher, c.publisher}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
