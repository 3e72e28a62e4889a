// Package transport provides the http.RoundTripper that every dashboard
// API call goes through: it attaches the bearer token on the way out and,
// on a 401, distinguishes a rejected token from a merely expired one:
// the former clears the session, the latter refreshes and replays the
// request exactly once.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	session "github.com/pgdesk/session-go"
	"github.com/pgdesk/session-go/metrics"
)

// maxErrorBody bounds how much of a 401 body is read for classification.
const maxErrorBody = 64 << 10

// Transport implements http.RoundTripper with session handling.
type Transport struct {
	base      http.RoundTripper
	store     session.TokenStore
	refresher session.Refresher
	publisher session.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// compile-time check
var _ http.RoundTripper = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithBase sets the underlying RoundTripper. Default: http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithPublisher sets the event publisher for session notifications.
func WithPublisher(p session.Publisher) Option {
	return func(t *Transport) { t.publisher = p }
}

// WithLogger sets a structured logger for the transport.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// New creates a session-aware transport over the given store and refresher.
func New(store session.TokenStore, refresher session.Refresher, opts ...Option) *Transport {
	t := &Transport{
		base:      http.DefaultTransport,
		store:     store,
		refresher: refresher,
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Client returns an *http.Client using this transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip attaches the bearer token and handles 401 recovery. The retry
// happens inside one RoundTrip, so a request is never replayed more than
// once: a second 401 propagates unchanged.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if token := t.store.AccessToken(); token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	if out.Header.Get("X-Request-ID") == "" {
		id := session.RequestIDFromContext(req.Context())
		if id == "" {
			id = uuid.NewString()
		}
		out.Header.Set("X-Request-ID", id)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Read the body once for classification; restore it if the response is
	// handed back to the caller.
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("transport: read 401 body: %w", readErr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	msg := serverMessage(body)
	if session.IsInvalidTokenMessage(msg) {
		// The token itself was rejected; refreshing cannot help.
		t.metrics.Unauthorized("invalid")
		t.logger.Info("access token rejected", "message", msg)
		if err := t.store.Clear(); err != nil {
			t.logger.Warn("clear store after rejected token", "error", err)
		}
		if t.publisher != nil {
			t.publisher.Publish(session.Event{
				Type:        session.EventSessionInvalidated,
				Message:     "your session is no longer valid, please log in again",
				ServerError: msg,
			})
		}
		return nil, fmt.Errorf("transport: %s: %w", msg, session.ErrInvalidToken)
	}

	t.metrics.Unauthorized("expired")

	// Requests with a consumed one-shot body cannot be replayed; the 401
	// goes back to the caller untouched.
	if req.Body != nil && req.GetBody == nil {
		t.logger.Warn("cannot replay request without GetBody", "method", req.Method, "url", req.URL.Path)
		return resp, nil
	}

	token, err := t.refresher.Refresh(req.Context())
	if err != nil {
		// Terminal: the coordinator already cleared the store and published
		// the invalidation.
		return nil, fmt.Errorf("transport: refresh after 401: %w", err)
	}

	retryReq := req.Clone(req.Context())
	if req.GetBody != nil {
		retryBody, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("transport: rewind request body: %w", err)
		}
		retryReq.Body = retryBody
	}
	retryReq.Header.Set("Authorization", "Bearer "+token)
	if id := out.Header.Get("X-Request-ID"); id != "" {
		retryReq.Header.Set("X-Request-ID", id)
	}

	t.metrics.Retry()
	t.logger.Debug("replaying request after refresh", "method", req.Method, "url", req.URL.Path)
	return t.base.RoundTrip(retryReq)
}

// serverMessage extracts the human-readable message from a 401 body.
func serverMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return string(body)
	}
	if env.Message != "" {
		return env.Message
	}
	return env.Error
}
