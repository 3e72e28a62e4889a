// Package refresh implements the single-flight refresh coordinator.
//
// At most one call to the refresh endpoint is in flight at any time.
// Callers arriving while a flight is running are queued and resolved in
// arrival order when it completes; after completion the flag resets and a
// new flight may start. Refresh failure is terminal for the session: the
// token store is cleared and a session-invalidated event is published,
// never a silent retry.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	session "github.com/pgdesk/session-go"
	"github.com/pgdesk/session-go/metrics"
)

// Backend is the single server call the coordinator needs.
// Implemented by api.Client.
type Backend interface {
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

// result is what a queued waiter receives when the flight completes.
type result struct {
	token string
	err   error
}

// Coordinator serializes refresh calls. States: idle (no flight, no
// waiters) and refreshing (one flight, zero or more waiters).
type Coordinator struct {
	store     session.TokenStore
	backend   Backend
	publisher session.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	inFlight bool
	waiters  []chan result
}

// compile-time check
var _ session.Refresher = (*Coordinator)(nil)

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger sets a structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPublisher sets the event publisher for session notifications.
func WithPublisher(p session.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a refresh coordinator over the given store and backend.
func New(store session.TokenStore, backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		backend: backend,
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Refresh obtains a new access token, already written to the store on
// success. Concurrent callers share one server call: the first caller
// becomes the flight, the rest are queued and woken in arrival order with
// the flight's outcome. A caller whose context expires while queued
// unblocks with ctx.Err(); the flight itself keeps running for the others.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.inFlight {
		ch := make(chan result, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		c.metrics.RefreshWaiter()
		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		// Fail fast: nothing to recover with. The observe-and-clear runs
		// under mu, so concurrent callers on a dead session tear it down
		// once and the invalidation is published at most once.
		stale := c.store.AccessToken() != "" || c.store.User() != nil
		var clearErr error
		if stale {
			clearErr = c.store.Clear()
		}
		c.mu.Unlock()

		c.metrics.RefreshFailure("no_refresh_token")
		if clearErr != nil {
			c.logger.Warn("clear store after refresh failure", "error", clearErr)
		}
		if stale {
			c.logger.Info("session terminated", "reason", "no_refresh_token")
			if c.publisher != nil {
				c.publisher.Publish(session.Event{
					Type:        session.EventSessionInvalidated,
					Message:     "session expired, please log in again",
					ServerError: session.ErrNoRefreshToken.Error(),
				})
			}
		}
		return "", session.ErrNoRefreshToken
	}

	// The flag must be set before any suspension point, so a second caller
	// can never observe it clear while this flight is being issued.
	c.inFlight = true
	c.mu.Unlock()

	c.metrics.RefreshFlight()
	start := time.Now()
	token, err := c.backend.RefreshToken(ctx, refreshToken)
	c.metrics.RefreshSeconds(time.Since(start).Seconds())

	if err == nil {
		// The session may have been ended while the flight was running
		// (logout mid-refresh). Applying the result would hand queued
		// callers a token for a session the user already terminated, so it
		// is discarded instead.
		if c.store.RefreshToken() != refreshToken {
			err = session.ErrSessionClosed
			token = ""
		} else if saveErr := c.store.SetAccessToken(token); saveErr != nil {
			err = saveErr
			token = ""
		}
	}

	if err != nil {
		c.terminate(err)
	} else {
		c.logger.Debug("access token refreshed")
		if c.publisher != nil {
			c.publisher.Publish(session.Event{
				Type:    session.EventSessionRefreshed,
				Message: "access token refreshed",
			})
		}
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	// Waiter channels are buffered, so delivery cannot block on a caller
	// that already gave up; order of delivery is arrival order.
	for _, ch := range waiters {
		ch <- result{token: token, err: err}
	}

	return token, err
}

// terminate handles a failed refresh: clear the store, log, publish.
func (c *Coordinator) terminate(err error) {
	reason := "refresh_failed"
	if errors.Is(err, session.ErrSessionClosed) {
		reason = "session_closed"
	}
	c.metrics.RefreshFailure(reason)

	if clearErr := c.store.Clear(); clearErr != nil {
		c.logger.Warn("clear store after refresh failure", "error", clearErr)
	}
	c.logger.Info("session terminated", "reason", reason, "error", err)

	if c.publisher != nil {
		c.publisher.Publish(session.Event{
			Type:        session.EventSessionInvalidated,
			Message:     "session expired, please log in again",
			ServerError: err.Error(),
		})
	}
}
