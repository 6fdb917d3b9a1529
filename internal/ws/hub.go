package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"nhooyr.io/websocket"

	"github.com/christopherjohns/guestsync/internal/coordination"
	"github.com/christopherjohns/guestsync/internal/logging"
	"github.com/christopherjohns/guestsync/internal/metrics"
)

// Ensure Hub implements coordination.Transport
var _ coordination.Transport = (*Hub)(nil)

// Client is one WebSocket connection. A client may be a member of any
// number of rooms.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	id    string
	rooms map[string]struct{} // guarded by Hub.mu
}

// ID returns the connection identity assigned at accept time.
func (c *Client) ID() string {
	return c.id
}

// Envelope is the JSON structure sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// encode wraps payload in an envelope of the given type.
func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, Payload: data})
}

// Hub tracks connections and the rooms they joined. Rooms are named by
// group id.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[string]*Client
	conns   *ConnManager
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates a Hub. A nil logger or metrics disables them.
func NewHub(log *slog.Logger, m *metrics.Metrics, opts ...ConnManagerOption) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	log = log.With("component", "ws")
	connOpts := append([]ConnManagerOption{
		withConnLogger(log),
		WithDropHook(m.DroppedMessages.Inc),
	}, opts...)
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[string]*Client),
		conns:   NewConnManager(connOpts...),
		log:     log,
		metrics: m,
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// addClient registers a client and starts its write pump. Returns a context
// that is cancelled when the client is removed.
func (h *Hub) addClient(c *Client) context.Context {
	ctx := h.conns.Add(c)
	if ctx.Err() != nil {
		return ctx
	}

	h.mu.Lock()
	c.rooms = make(map[string]struct{})
	h.clients[c.id] = c
	h.mu.Unlock()

	h.metrics.Connections.Inc()
	return ctx
}

// removeClient drops the client from every room it joined and stops its
// write pump. Claims made by the client are not touched.
func (h *Hub) removeClient(c *Client) {
	h.conns.Remove(c)

	h.mu.Lock()
	_, known := h.clients[c.id]
	if known {
		delete(h.clients, c.id)
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	if known {
		h.metrics.Connections.Dec()
	}
}

// Join adds the client to room. It returns false if the client was already
// a member.
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	if _, ok := c.rooms[room]; ok {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
	h.metrics.RoomJoins.Inc()
	return true
}

// Leave removes the client from room. It returns false if the client was not
// a member.
func (h *Hub) Leave(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	h.leaveLocked(c, room)
	return true
}

// leaveLocked must be called with mu held.
func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Send delivers an event to a single connection. Unknown or closed
// connections are ignored.
func (h *Hub) Send(connID, event string, payload any) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		h.log.Debug("dropping event for unknown connection", "conn", connID, "event", event)
		return
	}

	data, err := encode(event, payload)
	if err != nil {
		h.log.Error("failed to encode event", "event", event, "error", err)
		return
	}
	h.conns.Send(c, data)
}

// Broadcast delivers an event to every member of room.
func (h *Hub) Broadcast(room, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.log.Error("failed to encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	members := h.rooms[room]
	// Copy the set so we can release the lock before sending.
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.conns.Send(c, data)
	}
}

// ClientCount returns the number of connections in a room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// roomsOf returns the sorted rooms joined by a connection.
func (h *Hub) roomsOf(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[connID]
	if c == nil {
		return nil
	}
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
