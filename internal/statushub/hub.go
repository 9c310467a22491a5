// Package statushub broadcasts live bot status to dashboard WebSocket clients.
package statushub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ChatWarden/internal/session"
)

// Event names pushed to subscribers.
const (
	EventConnectionStatus = "connection_status"
	EventQRUpdate         = "qr_update"
	EventGreetingStatus   = "morning_greeting_status"
)

// Envelope is the JSON frame written to every subscriber.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Time  time.Time       `json:"time"`
}

// GreetingStatus reports progress of a greeting run for one destination.
type GreetingStatus struct {
	Kind     string `json:"kind"`
	GroupID  string `json:"groupId,omitempty"`
	Status   string `json:"status"`
	Language string `json:"language,omitempty"`
	Message  string `json:"message"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[uuid.UUID]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu       sync.RWMutex
	retained map[string][]byte
}

// NewHub creates a new Hub. Call Run to start delivering messages.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		retained:   make(map[string][]byte),
	}
}

// Run delivers messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			// new subscribers get the current status and QR straight away
			for _, name := range []string{EventConnectionStatus, EventQRUpdate} {
				if frame, ok := h.retained[name]; ok {
					select {
					case client.send <- frame:
					default:
					}
				}
			}
			h.mu.Unlock()
			slog.Debug("StatusHub: client registered", "client", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Debug("StatusHub: client unregistered", "client", client.id)

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish marshals data under event and queues it for every client. The
// latest connection status and QR frames are retained for late subscribers.
func (h *Hub) Publish(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("StatusHub.Publish: marshal failed", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload, Time: time.Now()})
	if err != nil {
		slog.Error("StatusHub.Publish: marshal envelope failed", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	switch event {
	case EventConnectionStatus:
		h.retained[event] = frame
		if s, ok := data.(session.Snapshot); ok && s.Status != session.AwaitingScan {
			delete(h.retained, EventQRUpdate)
		}
	case EventQRUpdate:
		h.retained[event] = frame
	}
	h.mu.Unlock()

	select {
	case h.broadcast <- frame:
	default:
		slog.Warn("StatusHub.Publish: broadcast queue full, dropping", "event", event)
	}
}

// PublishGreeting reports greeting progress.
func (h *Hub) PublishGreeting(status GreetingStatus) {
	h.Publish(EventGreetingStatus, status)
}

// SessionListener returns a session.Listener that mirrors transitions to subscribers.
func (h *Hub) SessionListener() session.Listener {
	return func(prev, next session.Snapshot) {
		if next.Status == session.AwaitingScan && next.QRCode != prev.QRCode {
			h.Publish(EventQRUpdate, map[string]string{"qr": next.QRCode, "status": string(next.Status)})
		}
		h.Publish(EventConnectionStatus, next)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
