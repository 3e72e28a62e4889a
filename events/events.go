// Package events provides the typed publish/subscribe bus for session
// signals: expiry notifications raised reactively by the HTTP transport
// and pre-emptively by the expiry watch both travel through here, so the
// gate and any page-level listener can react without direct coupling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	session "github.com/pgdesk/session-go"
)

// Handler processes session events. Handlers should not block.
type Handler func(session.Event)

// Bus broadcasts session events to handlers and channel subscribers.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	subs     []chan session.Event

	queue chan session.Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// compile-time check
var _ session.Publisher = (*Bus)(nil)

// Option configures Bus behavior.
type Option func(*Bus)

// WithStdoutHandler adds a handler that writes JSON events to stdout.
func WithStdoutHandler() Option {
	return func(b *Bus) {
		b.AddHandler(func(e session.Event) {
			data, _ := json.Marshal(e)
			fmt.Fprintf(os.Stdout, "%s\n", data)
		})
	}
}

// WithLogHandler adds a handler that logs events through the given logger.
func WithLogHandler(l *slog.Logger) Option {
	return func(b *Bus) {
		b.AddHandler(func(e session.Event) {
			l.Info("session event",
				"type", e.Type, "message", e.Message, "server_error", e.ServerError)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(b *Bus) {
		b.AddHandler(h)
	}
}

// New creates a new event bus with buffered async delivery.
// bufferSize: event queue buffer size (default: 64).
func New(bufferSize int, opts ...Option) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}

	b := &Bus{
		handlers: make([]Handler, 0),
		queue:    make(chan session.Event, bufferSize),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.process()

	return b
}

// AddHandler adds a handler to receive events.
func (b *Bus) AddHandler(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Subscribe returns a channel that receives every published event.
// The channel is buffered; a subscriber that stops draining loses events
// rather than stalling delivery to everyone else.
func (b *Bus) Subscribe() <-chan session.Event {
	ch := make(chan session.Event, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish emits an event asynchronously, filling in ID and Time if unset.
func (b *Bus) Publish(event session.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	select {
	case b.queue <- event:
	case <-b.done:
		// Bus is shutting down, event is dropped
	}
}

// process delivers events from the queue.
func (b *Bus) process() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.queue:
			b.dispatch(event)
		case <-b.done:
			// Drain remaining events
			for {
				select {
				case event := <-b.queue:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event session.Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	subs := make([]chan session.Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close flushes pending events and stops the bus.
func (b *Bus) Close() error {
	close(b.done)
	b.wg.Wait()
	return nil
}
