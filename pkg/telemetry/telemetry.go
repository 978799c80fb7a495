package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of session event.
type EventType string

const (
	EventWebViewOpened    EventType = "webview.opened"
	EventWebViewClosed    EventType = "webview.closed"
	EventLoadComplete     EventType = "webview.load_complete"
	EventNavigated        EventType = "webview.navigated"
	EventPipelineLaunched EventType = "pipeline.launched"
	EventPipelineClosed   EventType = "pipeline.closed"
	EventPipelineCrashed  EventType = "pipeline.crashed"
	EventChaosClose       EventType = "chaos.close"
	EventScreenshotDone   EventType = "screenshot.done"
	EventShutdownComplete EventType = "session.shutdown_complete"
)

// Event describes session activity that embedders and API clients can consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	WebView   string         `json:"webview,omitempty"`
	Pipeline  string         `json:"pipeline,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fan-outs session events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; actor loops never wait on readers.
			RecordHubDrop()
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch, id := h.SubscribeWithID()
	return ch, func() { h.Unsubscribe(id) }
}

// SubscribeWithID returns a channel that will receive future events and the
// id to pass to Unsubscribe.
func (h *Hub) SubscribeWithID() (<-chan Event, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, ""
	}
	id := uuid.NewString()
	ch := make(chan Event, 64)
	h.subscribers[id] = ch
	return ch, id
}

// Unsubscribe removes and closes the subscriber with the given id. Unknown ids
// are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
