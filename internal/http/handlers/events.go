package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Notification is one hook event pushed to the display layer.
type Notification struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Broker fans hook notifications out to connected event streams. Publish
// never blocks: a subscriber that cannot keep up loses events rather than
// stalling the orchestrator's hook goroutines.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Notification]struct{})}
}

// Subscribe registers a listener and returns its channel plus an
// unsubscribe function.
func (b *Broker) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish delivers a notification to every subscriber, dropping it for
// channels that are full.
func (b *Broker) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// EventStream serves hook notifications over server-sent events so the
// display layer subscribes instead of polling.
func (a *App) EventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.json(w, http.StatusNotImplemented, map[string]string{"error": "streaming unsupported"})
		return
	}

	// The server write timeout would sever long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := a.Events.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Event, payload)
			flusher.Flush()
		}
	}
}
