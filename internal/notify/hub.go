// Package notify fans detected-trip events out to interested listeners such
// as UI clients on a server-sent events stream. Delivery is best-effort: a
// slow subscriber misses events rather than blocking the emitter. The journey
// store stays the source of truth.
package notify

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/journey.report/internal/monitoring"
)

// Event names emitted by the engine.
const (
	EventTripDetected = "tripDetected"
	EventDebugMode    = "debugModeChanged"
)

// subscriberBuffer is the per-subscriber channel depth.
const subscriberBuffer = 16

// Event is one notification.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Hub is a fan-out notifier safe for concurrent use.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
	dropped     int64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// randomID generates an 8 byte random hex encoded subscriber ID
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new listener. The returned ID is passed to
// Unsubscribe. The channel is closed on Unsubscribe or Close.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Emit sends payload, encoded as JSON, to every subscriber. It never blocks.
func (h *Hub) Emit(name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		monitoring.Logf("failed to encode %s notification: %v", name, err)
		return
	}
	ev := Event{Name: name, Payload: raw, At: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Subscribers returns the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped returns how many per-subscriber deliveries were skipped because a
// subscriber was not keeping up.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close closes every subscriber channel. Later Emits are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

// ServeSSE streams events to the client as server-sent events until the
// client disconnects or the hub closes.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := h.Subscribe()
	defer h.Unsubscribe(id)

	// Initial ping establishes the stream.
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case ev, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// AttachAdminRoutes exposes the event stream on the tsweb debug page.
func (h *Hub) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("tail", h.ServeSSE)
}
