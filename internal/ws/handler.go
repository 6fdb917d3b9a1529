package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/guestsync/internal/coordination"
	"github.com/christopherjohns/guestsync/internal/guest"
	"github.com/christopherjohns/guestsync/internal/ratelimit"
)

// Inbound event names.
const (
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventGuestUpdated = "guestUpdated"
)

// Outbound event names owned by the transport.
const (
	EventConnected     = "connected"
	EventClaimedGuests = "claimedGuests"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 64 << 10

// Coordinator is the part of the coordination service the handler drives.
type Coordinator interface {
	HandleGuestUpdated(ctx context.Context, connID string, u guest.Update, ids guest.ClaimContext) (coordination.Outcome, error)
	Claimed(ctx context.Context, group string) ([]string, error)
}

// ConnectedPayload tells a client its connection id.
type ConnectedPayload struct {
	ID string `json:"id"`
}

// ClaimedGuestsPayload is the claimed set of a group, sent on join.
type ClaimedGuestsPayload struct {
	GroupID string   `json:"idGroup"`
	Guests  []string `json:"guests"`
}

// GuestUpdatedPayload is the body of an inbound guestUpdated event.
type GuestUpdatedPayload struct {
	Guest guest.Update       `json:"guest"`
	IDs   guest.ClaimContext `json:"ids"`
}

// Handler handles WebSocket upgrade requests and client message loops.
type Handler struct {
	hub            *Hub
	coord          Coordinator
	limiter        *ratelimit.Limiter
	originPatterns []string
	log            *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAllowedOrigins restricts cross-origin upgrades to the given origins.
// Entries may be full URLs ("https://app.example.com") or host patterns
// ("*.example.com"). With no origins only same-origin requests are accepted.
func WithAllowedOrigins(origins ...string) HandlerOption {
	return func(h *Handler) {
		h.originPatterns = originPatterns(origins)
	}
}

// WithRateLimiter limits guestUpdated events per connection.
func WithRateLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = l
	}
}

// NewHandler creates a new WebSocket Handler.
func NewHandler(hub *Hub, coord Coordinator, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:   hub,
		coord: coord,
		log:   hub.log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// originPatterns reduces configured origins to the host patterns the
// websocket library matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if strings.Contains(o, "://") {
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				o = u.Host
			}
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// ServeHTTP upgrades the HTTP connection to a WebSocket and runs the
// read loop for the client.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn("accept failed", "remote", r.RemoteAddr, "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxFrameSize)

	client := &Client{
		conn: conn,
		id:   uuid.NewString(),
	}

	connCtx := h.hub.addClient(client)
	if connCtx.Err() != nil {
		return
	}
	defer func() {
		h.hub.removeClient(client)
		h.limiter.Forget(client.id)
		h.log.Debug("client disconnected", "conn", client.id)
	}()

	h.log.Debug("client connected", "conn", client.id, "remote", r.RemoteAddr)
	h.hub.Send(client.id, EventConnected, ConnectedPayload{ID: client.id})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(connCtx, cancel)
	defer stop()

	h.readLoop(ctx, client)
}

// readLoop reads frames from the client until the connection closes or
// ctx is cancelled.
func (h *Handler) readLoop(ctx context.Context, client *Client) {
	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.log.Debug("read failed", "conn", client.id, "error", err)
			}
			return
		}

		// Mark activity so idle reaping doesn't close active connections.
		h.hub.ConnMgr().TouchActivity(client)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(client, "invalid JSON")
			continue
		}

		switch env.Type {
		case EventJoinRoom:
			h.handleJoin(ctx, client, env.Payload)
		case EventLeaveRoom:
			h.handleLeave(client, env.Payload)
		case EventGuestUpdated:
			h.handleGuestUpdated(ctx, client, env.Payload)
		default:
			h.sendError(client, "unknown event type")
		}
	}
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, payload json.RawMessage) {
	group, ok := h.groupID(client, payload)
	if !ok {
		return
	}
	if h.hub.Join(client, group) {
		h.log.Debug("joined room", "conn", client.id, "group", group)
	}

	claimed, err := h.coord.Claimed(ctx, group)
	if err != nil {
		h.log.Warn("failed to load claimed guests", "group", group, "error", err)
		return
	}
	if claimed == nil {
		claimed = []string{}
	}
	h.hub.Send(client.id, EventClaimedGuests, ClaimedGuestsPayload{GroupID: group, Guests: claimed})
}

func (h *Handler) handleLeave(client *Client, payload json.RawMessage) {
	group, ok := h.groupID(client, payload)
	if !ok {
		return
	}
	if h.hub.Leave(client, group) {
		h.log.Debug("left room", "conn", client.id, "group", group)
	}
}

func (h *Handler) handleGuestUpdated(ctx context.Context, client *Client, payload json.RawMessage) {
	if !h.limiter.Allow(client.id) {
		h.sendError(client, "too many updates, slow down")
		return
	}

	var p GuestUpdatedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.sendError(client, "invalid guestUpdated payload")
		return
	}

	outcome, err := h.coord.HandleGuestUpdated(ctx, client.id, p.Guest, p.IDs)
	if err != nil {
		// The coordinator has already told the client.
		h.log.Debug("guest update not accepted", "conn", client.id, "outcome", outcome.String(), "error", err)
	}
}

// groupID decodes a room payload. The group id is sent as a bare JSON
// string; numbers are accepted and kept in their literal form.
func (h *Handler) groupID(client *Client, payload json.RawMessage) (string, bool) {
	var group string
	if err := json.Unmarshal(payload, &group); err != nil {
		var n json.Number
		if err := json.Unmarshal(payload, &n); err != nil {
			h.sendError(client, "group id must be a string")
			return "", false
		}
		group = n.String()
	}
	group = strings.TrimSpace(group)
	if group == "" {
		h.sendError(client, "group id is required")
		return "", false
	}
	return group, true
}

// sendError queues an error envelope for the client.
func (h *Handler) sendError(client *Client, msg string) {
	h.hub.Send(client.id, coordination.EventError, coordination.MessagePayload{Message: msg})
}
