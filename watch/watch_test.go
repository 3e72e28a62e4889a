package watch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	session "github.com/pgdesk/session-go"
	"github.com/pgdesk/session-go/fake"
	"github.com/pgdesk/session-go/store"
	"github.com/pgdesk/session-go/watch"
)

var testUser = session.User{ID: "u-1", Email: "admin@pg.test", Role: session.RoleAdmin}

// countingGate records Open calls.
type countingGate struct {
	mu      sync.Mutex
	opens   int
	reasons []string
}

func (g *countingGate) Open(reason string) {
	g.mu.Lock()
	g.opens++
	g.reasons = append(g.reasons, reason)
	g.mu.Unlock()
}

func (g *countingGate) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opens
}

func seedStore(t *testing.T, expIn time.Duration) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	u := testUser
	if err := m.Save(session.Credentials{
		AccessToken:  fake.Token(testUser, time.Now().Add(expIn)),
		RefreshToken: "refresh-1",
	}, &u); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCheck_ValidToken(t *testing.T) {
	gate := &countingGate{}
	w := watch.New(seedStore(t, time.Hour), gate)

	w.Check()
	if gate.count() != 0 {
		t.Error("gate must stay closed for a valid token")
	}
	if w.Expired() {
		t.Error("Expired() = true for a valid token")
	}
}

func TestCheck_ExpiredToken(t *testing.T) {
	gate := &countingGate{}
	w := watch.New(seedStore(t, -time.Minute), gate)

	w.Check()
	if gate.count() != 1 {
		t.Fatalf("gate opens = %d, want 1", gate.count())
	}
	if !w.Expired() {
		t.Error("Expired() = false for an expired token")
	}
}

func TestCheck_EmptyStore(t *testing.T) {
	gate := &countingGate{}
	w := watch.New(store.NewMemory(), gate)

	w.Check()
	if gate.count() != 1 {
		t.Error("missing token must open the gate")
	}
}

func TestCheck_BufferBoundary(t *testing.T) {
	tests := []struct {
		name  string
		expIn time.Duration
		opens int
	}{
		{"29s left opens the gate", 29 * time.Second, 1},
		{"31s left keeps it closed", 31 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := &countingGate{}
			w := watch.New(seedStore(t, tt.expIn), gate)
			w.Check()
			if got := gate.count(); got != tt.opens {
				t.Errorf("gate opens = %d, want %d", got, tt.opens)
			}
		})
	}
}

// The check is level-triggered: while the token stays expired, repeated
// checks keep calling Open and the gate's own idempotence absorbs them.
func TestCheck_LevelTriggered(t *testing.T) {
	gate := &countingGate{}
	w := watch.New(seedStore(t, -time.Minute), gate)

	for i := 0; i < 3; i++ {
		w.Check()
	}
	if got := gate.count(); got != 3 {
		t.Errorf("gate opens = %d, want 3 (one per check)", got)
	}
}

// Recovery: once a fresh token lands in the store, the next check stands
// down without touching the gate.
func TestCheck_Recovers(t *testing.T) {
	gate := &countingGate{}
	st := seedStore(t, -time.Minute)
	w := watch.New(st, gate)

	w.Check()
	if !w.Expired() {
		t.Fatal("expected expired after first check")
	}

	if err := st.SetAccessToken(fake.Token(testUser, time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	w.Check()
	if w.Expired() {
		t.Error("Expired() = true after the token was replaced")
	}
	if gate.count() != 1 {
		t.Errorf("gate opens = %d, want 1", gate.count())
	}
}

// A session-invalidated event triggers an immediate check instead of
// waiting for the next tick.
func TestRun_EventTriggersCheck(t *testing.T) {
	gate := &countingGate{}
	st := seedStore(t, time.Hour)
	events := make(chan session.Event, 1)
	w := watch.New(st, gate,
		watch.WithInterval(time.Hour),
		watch.WithEvents(events),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Initial check sees a valid token.
	time.Sleep(20 * time.Millisecond)
	if gate.count() != 0 {
		t.Fatal("gate opened with a valid token")
	}

	// Simulate a refresh failure elsewhere: the store empties and the
	// invalidation event arrives.
	if err := st.Clear(); err != nil {
		t.Fatal(err)
	}
	events <- session.Event{Type: session.EventSessionInvalidated}

	deadline := time.Now().Add(2 * time.Second)
	for gate.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("gate never opened after the invalidation event")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun_PollingInterval(t *testing.T) {
	gate := &countingGate{}
	st := seedStore(t, time.Hour)
	w := watch.New(st, gate, watch.WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	if err := st.Clear(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for gate.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("polling never noticed the cleared store")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
