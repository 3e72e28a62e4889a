package events_test

import (
	"sync"
	"testing"
	"time"

	session "github.com/pgdesk/session-go"
	"github.com/pgdesk/session-go/events"
)

func TestBus_HandlerReceivesEvents(t *testing.T) {
	var mu sync.Mutex
	var got []session.Event

	bus := events.New(8, events.WithHandler(func(e session.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))

	bus.Publish(session.Event{Type: session.EventSessionInvalidated, Message: "expired"})
	bus.Publish(session.Event{Type: session.EventSessionRefreshed})
	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("handler saw %d events, want 2", len(got))
	}
	if got[0].Type != session.EventSessionInvalidated || got[1].Type != session.EventSessionRefreshed {
		t.Errorf("events out of order: %+v", got)
	}
}

func TestBus_FillsIDAndTime(t *testing.T) {
	done := make(chan session.Event, 1)
	bus := events.New(8, events.WithHandler(func(e session.Event) {
		done <- e
	}))
	defer bus.Close()

	bus.Publish(session.Event{Type: session.EventGateOpened})

	select {
	case e := <-done:
		if e.ID == "" {
			t.Error("Publish must assign an event ID")
		}
		if e.Time.IsZero() {
			t.Error("Publish must stamp the event time")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}
}

func TestBus_Subscribe(t *testing.T) {
	bus := events.New(8)
	ch := bus.Subscribe()

	bus.Publish(session.Event{Type: session.EventSessionInvalidated})

	select {
	case e := <-ch:
		if e.Type != session.EventSessionInvalidated {
			t.Errorf("Type = %q", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the event")
	}
	bus.Close()
}

// A stalled subscriber must not block delivery to handlers.
func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	var count sync.WaitGroup
	count.Add(20)

	bus := events.New(8, events.WithHandler(func(session.Event) {
		count.Done()
	}))
	_ = bus.Subscribe() // never drained

	for i := 0; i < 20; i++ {
		bus.Publish(session.Event{Type: session.EventSessionRefreshed})
	}

	done := make(chan struct{})
	go func() {
		count.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler delivery stalled behind a slow subscriber")
	}
	bus.Close()
}

func TestBus_CloseDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	n := 0
	bus := events.New(64, events.WithHandler(func(session.Event) {
		mu.Lock()
		n++
		mu.Unlock()
	}))

	for i := 0; i < 10; i++ {
		bus.Publish(session.Event{Type: session.EventSessionRefreshed})
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if n != 10 {
		t.Errorf("handled %d events, want 10 (Close must drain)", n)
	}
}
