// Package watch runs the pre-emptive expiry check: a fixed-period timer,
// on-demand checks (the route-change analog), and the session-invalidated
// event stream all converge on one level-triggered decision function that
// opens the session gate when the access token is gone or about to expire.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	session "github.com/pgdesk/session-go"
)

// expiryBuffer mirrors session.ExpiryBuffer. Duplicated on purpose: the
// watch must detect expiry without calling into TokenStore.Valid, which
// clears the store as a side effect.
const expiryBuffer = 30 * time.Second

// DefaultInterval is the polling period.
const DefaultInterval = 30 * time.Second

// Gate is the surface the watch drives. Open must be idempotent: the
// check is level-triggered and will keep firing while the token stays
// expired. Implemented by gate.Gate.
type Gate interface {
	Open(reason string)
}

// Watch polls the token store and opens the gate on expiry.
type Watch struct {
	store    session.TokenStore
	gate     Gate
	interval time.Duration
	events   <-chan session.Event
	logger   *slog.Logger

	mu      sync.Mutex
	expired bool
}

// Option configures the Watch.
type Option func(*Watch)

// WithInterval sets the polling period. Default: 30 seconds.
func WithInterval(d time.Duration) Option {
	return func(w *Watch) { w.interval = d }
}

// WithEvents subscribes the watch to the session event stream, typically
// events.Bus.Subscribe(). A session-invalidated event triggers an
// immediate check instead of waiting out the current tick.
func WithEvents(ch <-chan session.Event) Option {
	return func(w *Watch) { w.events = ch }
}

// WithLogger sets a structured logger for the watch.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watch) { w.logger = l }
}

// New creates an expiry watch over the given store and gate.
func New(store session.TokenStore, gate Gate, opts ...Option) *Watch {
	w := &Watch{
		store:    store,
		gate:     gate,
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Run polls until the context is cancelled. Call it in its own goroutine.
func (w *Watch) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check()
	for {
		select {
		case <-ticker.C:
			w.Check()
		case ev, ok := <-w.events:
			if !ok {
				w.events = nil
				continue
			}
			if ev.Type == session.EventSessionInvalidated {
				w.Check()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Check runs the expiry decision once. Callers hook it to navigation or
// focus changes to catch expiry between ticks. Level-triggered: while the
// token stays expired, repeated calls keep the gate open and do nothing
// else; the transition is logged only once.
func (w *Watch) Check() {
	expired := session.TokenExpired(w.store.AccessToken(), time.Now())

	w.mu.Lock()
	transition := expired && !w.expired
	recovered := !expired && w.expired
	w.expired = expired
	w.mu.Unlock()

	if transition {
		w.logger.Info("access token expired, opening session gate")
	}
	if recovered {
		w.logger.Debug("access token valid again")
	}
	if expired {
		w.gate.Open("your session has expired")
	}
}

// Expired reports the result of the most recent check.
func (w *Watch) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}
