package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub maintains the set of active WebSocket clients and the rooms they have
// joined. A room is keyed by the user's email and holds every live connection
// belonging to that user, so a publish reaches all of their devices. Rooms
// exist only in memory and are rebuilt from scratch when the process restarts.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	member  map[*Client]string
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		member:  make(map[*Client]string),
		logger:  logger,
	}
}

// Register adds a connected client to the hub. The client belongs to no room
// until it sends a join instruction.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and from any room it joined, and
// closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.leaveLocked(c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Join registers the client under the given email's room. Joining the same
// room twice is a no-op; joining a different room moves the client.
func (h *Hub) Join(c *Client, email string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	if current, ok := h.member[c]; ok {
		if current == email {
			return
		}
		h.leaveLocked(c)
	}
	room, ok := h.rooms[email]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[email] = room
	}
	room[c] = struct{}{}
	h.member[c] = email
}

// Leave removes the client from whatever room it joined. No-op if it never
// joined one.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	h.leaveLocked(c)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Client) {
	email, ok := h.member[c]
	if !ok {
		return
	}
	delete(h.member, c)
	if room, ok := h.rooms[email]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, email)
		}
	}
}

// Publish sends an event to every client currently in the email's room. The
// payload is encoded once; delivery is best-effort and never blocks the
// caller — a client whose buffer is full misses the message.
func (h *Hub) Publish(email, event string, payload map[string]any) {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = event

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal publish", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[email] {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// RoomSize returns the number of clients joined under the email.
func (h *Hub) RoomSize(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[email])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
