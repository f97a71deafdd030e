package tabauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/prosecheck/tabauth/registry"
)

// EventType names a session lifecycle notification.
type EventType string

const (
	// EventLogin fires after a registry entry is written for this client.
	EventLogin EventType = "auth-login"
	// EventLogout fires after this client logs itself out.
	EventLogout EventType = "auth-logout"
	// EventLogoutAll fires after this client clears the whole registry.
	EventLogoutAll EventType = "auth-logout-all"
	// EventLogoutSync fires after a broadcast from another client forced
	// a local-only logout here.
	EventLogoutSync EventType = "auth-logout-sync"
)

// Event is one lifecycle notification. User is nil for EventLogoutAll
// and for sync logouts where the local record was already gone.
type Event struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      EventType        `json:"event_type"`
	TabID     string           `json:"tab_id,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	User      *registry.Record `json:"user,omitempty"`
}

// Sink consumes lifecycle events. Implementations must tolerate
// concurrent Emit calls.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards every event.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events to a buffered channel, blocking until the
// channel accepts the event or ctx is done.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

// Emit forwards the event.
func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON line per event.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit marshals and writes the event. Marshal and write failures are
// silently dropped; an event sink must never fail the operation that
// produced the event.
func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
