// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (router, conversation loop,
// dispatcher) to subscribers (WebSocket handler, MQTT publisher). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceRouter identifies events from the supervisor.
	SourceRouter = "router"
	// SourceAgent identifies events from the conversation loop.
	SourceAgent = "agent"
	// SourceDispatch identifies events from the CRM event dispatcher.
	SourceDispatch = "dispatch"
	// SourceNotify identifies events from email notifications.
	SourceNotify = "notify"
	// SourceConnwatch identifies events from backend health watchers.
	SourceConnwatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindRouteDecision signals one supervisor routing step.
	// Data: conversation_id, tally, kind, target, reason, handoff.
	KindRouteDecision = "route_decision"

	// KindConversationStart signals a conversation entering the loop.
	// Data: conversation_id, mode, event_kind, next.
	KindConversationStart = "conversation_start"
	// KindHandlerDone signals a handler appended its reply.
	// Data: conversation_id, handler, declined, elapsed_ms.
	KindHandlerDone = "handler_done"
	// KindConversationFinished signals a conversation reached FINISH.
	// Data: conversation_id, mode, event_kind, reason, steps, reply.
	KindConversationFinished = "conversation_finished"

	// KindDispatchHandler signals one binding ran for a CRM event.
	// Data: event_kind, binding, ok, error, elapsed_ms.
	KindDispatchHandler = "dispatch_handler"
	// KindDispatchUnknown signals an event kind with no bindings.
	// Data: event_kind.
	KindDispatchUnknown = "dispatch_unknown"

	// KindNotificationSent signals a customer email went out.
	// Data: event_kind, to, subject.
	KindNotificationSent = "notification_sent"

	// KindServiceUp and KindServiceDown signal a watched backend
	// changing reachability. Data: service, error (down only).
	KindServiceUp   = "service_up"
	KindServiceDown = "service_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit publishes an event stamped with the current time. Safe to call on
// a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}
