// Package gate implements the session gate: the two-state machine behind
// the "session expired" dialog. Hidden→visible is driven by the expiry
// watch or the transport; while visible the user either refreshes the
// session in place or logs out and is sent to the login route for their
// role.
package gate

import (
	"context"
	"log/slog"
	"sync"

	session "github.com/pgdesk/session-go"
	"github.com/pgdesk/session-go/metrics"
)

// State is the gate's presentation state.
type State int

const (
	StateHidden State = iota
	StateVisible
)

func (s State) String() string {
	if s == StateVisible {
		return "visible"
	}
	return "hidden"
}

// Config holds the role-based redirect targets.
type Config struct {
	// SuperadminLoginPath is where a superadmin lands after logout.
	// Default: "/login".
	SuperadminLoginPath string

	// AdminLoginPath is where every other role lands. Default: "/admin/login".
	AdminLoginPath string
}

// Gate mediates expiry recovery or forced logout.
type Gate struct {
	cfg       Config
	store     session.TokenStore
	refresher session.Refresher
	publisher session.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onChange  func(State, string)

	mu     sync.Mutex
	state  State
	reason string
}

// Option configures the Gate.
type Option func(*Gate)

// WithConfig sets the redirect configuration.
func WithConfig(cfg Config) Option {
	return func(g *Gate) { g.cfg = cfg }
}

// WithPublisher sets the event publisher.
func WithPublisher(p session.Publisher) Option {
	return func(g *Gate) { g.publisher = p }
}

// WithLogger sets a structured logger for the gate.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithOnChange registers a callback invoked on every state transition,
// outside the gate's lock. UIs bind their visibility to it.
func WithOnChange(fn func(state State, reason string)) Option {
	return func(g *Gate) { g.onChange = fn }
}

// New creates a session gate over the given store and refresher.
func New(store session.TokenStore, refresher session.Refresher, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		refresher: refresher,
		state:     StateHidden,
	}
	for _, o := range opts {
		o(g)
	}
	if g.cfg.SuperadminLoginPath == "" {
		g.cfg.SuperadminLoginPath = "/login"
	}
	if g.cfg.AdminLoginPath == "" {
		g.cfg.AdminLoginPath = "/admin/login"
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// SetOnChange registers the state-transition callback after construction,
// for wiring orders where the observer needs the gate to exist first.
func (g *Gate) SetOnChange(fn func(state State, reason string)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Open makes the gate visible. Idempotent: opening an already visible
// gate changes nothing and fires no callbacks.
func (g *Gate) Open(reason string) {
	g.mu.Lock()
	if g.state == StateVisible {
		g.mu.Unlock()
		return
	}
	g.state = StateVisible
	g.reason = reason
	onChange := g.onChange
	g.mu.Unlock()

	g.metrics.GateTransition("visible")
	g.logger.Info("session gate opened", "reason", reason)
	if g.publisher != nil {
		g.publisher.Publish(session.Event{
			Type:    session.EventGateOpened,
			Message: reason,
		})
	}
	if onChange != nil {
		onChange(StateVisible, reason)
	}
}

// hide transitions to hidden if currently visible.
func (g *Gate) hide() {
	g.mu.Lock()
	if g.state == StateHidden {
		g.mu.Unlock()
		return
	}
	g.state = StateHidden
	g.reason = ""
	onChange := g.onChange
	g.mu.Unlock()

	g.metrics.GateTransition("hidden")
	if onChange != nil {
		onChange(StateHidden, "")
	}
}

// Visible reports whether the gate is showing.
func (g *Gate) Visible() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateVisible
}

// Reason returns why the gate is showing, or "" when hidden.
func (g *Gate) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Refresh is the user-initiated recovery action. There is no pending HTTP
// call to retry, so it calls the coordinator directly and hides the gate
// on success. On failure it falls through to the logout action and
// returns the redirect path alongside the error.
func (g *Gate) Refresh(ctx context.Context) (redirect string, err error) {
	_, err = g.refresher.Refresh(ctx)
	if err != nil {
		g.logger.Info("gate refresh failed, logging out", "error", err)
		return g.Logout(), err
	}
	g.hide()
	return "", nil
}

// Logout clears the session locally without a server round-trip (the
// token is already believed dead), hides the gate, and returns the login
// route for the user's role. The role is read before clearing.
func (g *Gate) Logout() string {
	role := session.Role("")
	if u := g.store.User(); u != nil {
		role = u.Role
	}

	if err := g.store.Clear(); err != nil {
		g.logger.Warn("clear store on gate logout", "error", err)
	}
	g.hide()
	return g.RedirectFor(role)
}

// RedirectFor returns the login route for a role: superadmin goes to the
// primary login, everyone else to the admin login.
func (g *Gate) RedirectFor(role session.Role) string {
	if role == session.RoleSuperadmin {
		return g.cfg.SuperadminLoginPath
	}
	return g.cfg.AdminLoginPath
}
