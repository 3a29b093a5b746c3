// Package sse fans alert notifications out to connected dashboard clients
// over Server-Sent Events. Delivery is best effort: slow or absent
// subscribers never block the alert engine.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/observability"
)

// subscriberBuffer is the per-connection event backlog. Events beyond this
// while a client is not draining are dropped, not queued.
const subscriberBuffer = 16

// heartbeatInterval keeps intermediaries from closing idle connections.
const heartbeatInterval = 30 * time.Second

// Event is one message on a subscriber stream.
type Event struct {
	Type    string
	Payload interface{}
}

type subscriber struct {
	userID string
	ch     chan Event
}

// Notifier is the sink the alert engine pushes trigger notifications into.
// Hub implements it; tests substitute a recording stub.
type Notifier interface {
	Push(userID, eventType string, payload interface{})
}

// Hub tracks subscribers per user and routes events to them.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Push delivers an event to every connection belonging to userID. It never
// blocks: if a subscriber's buffer is full the event is dropped for that
// subscriber and counted.
func (h *Hub) Push(userID, eventType string, payload interface{}) {
	observability.SSEEventsTotal.WithLabelValues(eventType).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.userID != userID {
			continue
		}
		select {
		case sub.ch <- Event{Type: eventType, Payload: payload}:
		default:
			observability.SSEDroppedTotal.Inc()
			h.logger.Warn("dropped SSE event, subscriber buffer full",
				zap.String("userId", userID),
				zap.String("eventType", eventType))
		}
	}
}

// Broadcast delivers an event to every subscriber regardless of user.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	observability.SSEEventsTotal.WithLabelValues(eventType).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- Event{Type: eventType, Payload: payload}:
		default:
			observability.SSEDroppedTotal.Inc()
		}
	}
}

// Subscribers reports the number of open connections.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) subscribe(userID string) *subscriber {
	sub := &subscriber{userID: userID, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	observability.SSESubscribers.Inc()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	observability.SSESubscribers.Dec()
}

// ServeStream handles a GET stream request for userID. It writes a connected
// event, then forwards pushed events and periodic heartbeats until the client
// disconnects.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.subscribe(userID)
	defer h.unsubscribe(sub)

	h.logger.Info("SSE subscriber connected", zap.String("userId", userID))

	writeEvent(w, "connected", map[string]string{"status": "ok"})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE subscriber disconnected", zap.String("userId", userID))
			return
		case ev := <-sub.ch:
			writeEvent(w, ev.Type, ev.Payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}
