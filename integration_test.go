package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	session "github.com/pgdesk/session-go"
	"github.com/pgdesk/session-go/api"
	"github.com/pgdesk/session-go/events"
	"github.com/pgdesk/session-go/fake"
	"github.com/pgdesk/session-go/gate"
	"github.com/pgdesk/session-go/refresh"
	"github.com/pgdesk/session-go/store"
	"github.com/pgdesk/session-go/transport"
	"github.com/pgdesk/session-go/watch"
)

// stack wires the full SDK the way the admin CLI does, against a fake
// server.
type stack struct {
	server  *fake.Server
	ts      *httptest.Server
	store   *store.Memory
	bus     *events.Bus
	client  *session.Client
	httpCli *http.Client
	gate    *gate.Gate
	watch   *watch.Watch
}

func newFullStack(t *testing.T) *stack {
	t.Helper()

	server := fake.NewServer(fake.WithAccount("admin@pg.test", "secret", testUser))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	backend, err := api.New(ts.URL)
	if err != nil {
		t.Fatalf("api.New() error: %v", err)
	}

	st := store.NewMemory()
	bus := events.New(16)
	t.Cleanup(func() { _ = bus.Close() })

	coordinator := refresh.New(st, backend, refresh.WithPublisher(bus))
	rt := transport.New(st, coordinator, transport.WithPublisher(bus))

	client, err := session.New(session.Config{Endpoint: ts.URL},
		session.WithTokenStore(st),
		session.WithAuthBackend(backend),
		session.WithRefresher(coordinator),
		session.WithPublisher(bus),
		session.WithHTTPClient(rt.Client()),
	)
	if err != nil {
		t.Fatalf("session.New() error: %v", err)
	}

	g := gate.New(st, coordinator, gate.WithPublisher(bus))
	w := watch.New(st, g)

	return &stack{
		server:  server,
		ts:      ts,
		store:   st,
		bus:     bus,
		client:  client,
		httpCli: rt.Client(),
		gate:    g,
		watch:   w,
	}
}

func (s *stack) login(t *testing.T) {
	t.Helper()
	if _, err := s.client.Login(context.Background(), "admin@pg.test", "secret"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
}

func (s *stack) expireAccessToken(t *testing.T) {
	t.Helper()
	if err := s.store.SetAccessToken(fake.Token(testUser, time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
}

// The everyday path: a request lands on an expired token, the SDK refreshes
// once behind the scenes, and the caller sees only the final 200.
func TestIntegration_TransparentRefresh(t *testing.T) {
	s := newFullStack(t)
	s.login(t)
	s.expireAccessToken(t)

	resp, err := s.httpCli.Get(s.ts.URL + "/ping")
	if err != nil {
		t.Fatalf("GET /ping error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := s.server.RefreshCalls(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if s.store.AccessToken() == "" {
		t.Error("store must hold the refreshed token")
	}
	if !s.client.Store().Valid() {
		t.Error("session must be valid after the transparent refresh")
	}
}

// The terminal path: refresh is impossible, the session tears down, the
// watch opens the gate, and gate recovery falls through to the login route.
func TestIntegration_SessionDeath(t *testing.T) {
	s := newFullStack(t)
	s.login(t)

	invalidated := s.bus.Subscribe()

	s.server.RevokeRefreshTokens()
	s.expireAccessToken(t)

	if _, err := s.httpCli.Get(s.ts.URL + "/ping"); err == nil {
		t.Fatal("expected error once refresh is impossible")
	}
	if s.store.AccessToken() != "" || s.store.RefreshToken() != "" {
		t.Fatal("store must be cleared after the failed refresh")
	}

	select {
	case ev := <-invalidated:
		if ev.Type != session.EventSessionInvalidated {
			t.Errorf("event type = %q, want session-invalidated", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation event on the bus")
	}

	s.watch.Check()
	if !s.gate.Visible() {
		t.Fatal("gate must open once the session is gone")
	}

	// The user asks the gate to recover; with no refresh token left this
	// fails and hands back the login route instead.
	redirect, err := s.gate.Refresh(context.Background())
	if !errors.Is(err, session.ErrNoRefreshToken) {
		t.Fatalf("gate refresh error = %v, want ErrNoRefreshToken", err)
	}
	if redirect != "/admin/login" {
		t.Errorf("redirect = %q, want %q", redirect, "/admin/login")
	}
	if s.gate.Visible() {
		t.Error("gate must hide after the logout fallthrough")
	}
}

// Gate recovery while the refresh token is still good: one coordinator
// call brings the session back and the gate hides.
func TestIntegration_GateRecovery(t *testing.T) {
	s := newFullStack(t)
	s.login(t)
	s.expireAccessToken(t)

	s.watch.Check()
	if !s.gate.Visible() {
		t.Fatal("gate must open on an expired token")
	}

	redirect, err := s.gate.Refresh(context.Background())
	if err != nil {
		t.Fatalf("gate refresh error: %v", err)
	}
	if redirect != "" {
		t.Errorf("redirect = %q, want empty", redirect)
	}
	if s.gate.Visible() {
		t.Error("gate must hide after recovery")
	}

	s.watch.Check()
	if s.watch.Expired() {
		t.Error("watch must see the recovered token as valid")
	}
	if got := s.server.RefreshCalls(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

// Logout resilience: a 500 from the logout endpoint still ends the local
// session.
func TestIntegration_LogoutWithDeadServer(t *testing.T) {
	s := newFullStack(t)
	s.login(t)

	s.server.FailLogout(true)
	if err := s.client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error: %v, want nil", err)
	}
	if s.store.AccessToken() != "" || s.store.RefreshToken() != "" {
		t.Error("local session must be gone despite the server failure")
	}
	if got := s.server.LogoutCalls(); got < 1 {
		t.Errorf("logout calls = %d, want at least 1", got)
	}
}
