package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
)

// Client is one authenticated relay connection.
type Client struct {
	info ConnInfo
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a client with an outbound buffer of size buffer.
func NewClient(info ConnInfo, buffer int) *Client {
	return &Client{info: info, send: make(chan []byte, buffer), done: make(chan struct{})}
}

// Info returns the connection's identity.
func (c *Client) Info() ConnInfo { return c.info }

// Outbound delivers the payloads the hub routes to this client.
func (c *Client) Outbound() <-chan []byte { return c.send }

// Done is closed once the hub gives up on the client.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) kick() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub routes events between connected users. Clients are indexed by user
// and by the thread rooms they joined.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	joined   map[*Client]map[string]struct{}
	lastSeen map[string]time.Time
	seq      uint64

	logger *zap.Logger
	now    func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		joined:   make(map[*Client]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.info.UserID]; !ok {
		h.clients[c.info.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.info.UserID][c] = struct{}{}
	h.joined[c] = make(map[string]struct{})
	delete(h.lastSeen, c.info.UserID)
}

// Unregister removes c from the hub. When it was the user's last connection
// every peer sharing a room with the user is told the user went offline.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := h.joined[c]
	if rooms == nil {
		return
	}
	delete(h.joined, c)
	for threadID := range rooms {
		h.removeFromRoom(threadID, c)
	}

	userID := c.info.UserID
	if conns, ok := h.clients[userID]; ok {
		delete(conns, c)
		if len(conns) > 0 {
			return
		}
		delete(h.clients, userID)
	}
	now := h.now()
	h.lastSeen[userID] = now
	for threadID := range rooms {
		h.broadcastRoom(threadID, userID, h.presenceEvent(userID, models.PresenceOffline, &now))
	}
}

func (h *Hub) removeFromRoom(threadID string, c *Client) {
	if room, ok := h.rooms[threadID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, threadID)
		}
	}
}

// Route applies an event read from c.
func (h *Hub) Route(c *Client, ev models.Event) {
	ev.From = c.info.UserID
	observability.IncRoutedEvent(ev.Type)

	switch ev.Type {
	case models.EventMessage:
		if ev.Message == nil || ev.Message.ID == "" {
			h.replyError(c, ev, "message payload required")
			return
		}
		msg := ev.Message.Clone()
		msg.SenderID = c.info.UserID
		to := msg.ReceiverID
		if to == "" {
			to = ev.To
		}
		ev.Message = &msg
		if !h.sendUser(to, ev) {
			h.replyError(c, ev, "receiver offline")
		}
	case models.EventAck, models.EventRead:
		if ev.To == "" {
			h.replyError(c, ev, "recipient required")
			return
		}
		h.sendUser(ev.To, ev)
	case models.EventTyping:
		ev.UserID = c.info.UserID
		h.mu.RLock()
		h.broadcastRoom(ev.ThreadID, c.info.UserID, ev)
		h.mu.RUnlock()
	case models.EventJoin:
		h.Join(c, ev.ThreadID)
	case models.EventLeave:
		h.Leave(c, ev.ThreadID)
	default:
		h.replyError(c, ev, "unsupported event type")
	}
}

// Join adds c to threadID's room, announces the user to the room and tells
// the joiner who else is online there.
func (h *Hub) Join(c *Client, threadID string) {
	if threadID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.joined[c]
	if !ok {
		return
	}
	if _, already := rooms[threadID]; already {
		return
	}
	rooms[threadID] = struct{}{}
	if _, ok := h.rooms[threadID]; !ok {
		h.rooms[threadID] = make(map[*Client]struct{})
	}
	h.rooms[threadID][c] = struct{}{}

	h.broadcastRoom(threadID, c.info.UserID, h.presenceEvent(c.info.UserID, models.PresenceOnline, nil))
	for _, peer := range h.roomUsers(threadID) {
		if peer != c.info.UserID {
			h.enqueue(c, h.presenceEvent(peer, models.PresenceOnline, nil))
		}
	}
}

// Leave removes c from threadID's room.
func (h *Hub) Leave(c *Client, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rooms, ok := h.joined[c]; ok {
		delete(rooms, threadID)
	}
	h.removeFromRoom(threadID, c)
}

// Presence returns what the relay knows about userID.
func (h *Hub) Presence(userID string) models.UserStatusInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info := models.UserStatusInfo{UserID: userID, Status: models.PresenceOffline}
	if _, ok := h.clients[userID]; ok {
		info.Status = models.PresenceOnline
		info.LastSeen = h.now()
		return info
	}
	info.LastSeen = h.lastSeen[userID]
	return info
}

// OnlineUsers returns the ids of connected users, sorted.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.clients))
	for id := range h.clients {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) roomUsers(threadID string) []string {
	seen := make(map[string]struct{})
	var users []string
	for c := range h.rooms[threadID] {
		if _, ok := seen[c.info.UserID]; ok {
			continue
		}
		seen[c.info.UserID] = struct{}{}
		users = append(users, c.info.UserID)
	}
	sort.Strings(users)
	return users
}

// presenceEvent must be called with h.mu held for writing.
func (h *Hub) presenceEvent(userID string, status models.PresenceStatus, lastSeen *time.Time) models.Event {
	h.seq++
	return models.Event{
		Type:     models.EventPresence,
		UserID:   userID,
		Status:   string(status),
		LastSeen: lastSeen,
		Seq:      h.seq,
	}
}

func (h *Hub) sendUser(userID string, ev models.Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.clients[userID]
	for c := range conns {
		h.enqueue(c, ev)
	}
	return len(conns) > 0
}

// broadcastRoom sends ev to every member of threadID except exclude's
// connections. Callers hold h.mu.
func (h *Hub) broadcastRoom(threadID, exclude string, ev models.Event) {
	for c := range h.rooms[threadID] {
		if c.info.UserID != exclude {
			h.enqueue(c, ev)
		}
	}
}

func (h *Hub) replyError(c *Client, ev models.Event, reason string) {
	observability.IncRouteRejection(reason)
	h.enqueue(c, models.Event{
		Type:      models.EventError,
		ThreadID:  ev.ThreadID,
		MessageID: messageID(ev),
		Error:     reason,
	})
}

func messageID(ev models.Event) string {
	if ev.Message != nil {
		return ev.Message.ID
	}
	return ev.MessageID
}

// enqueue hands ev to c without blocking. A client whose buffer is full is
// kicked and reported as a ws error.
func (h *Hub) enqueue(c *Client, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	default:
		h.logger.Warn("client send buffer full", zap.String("conn_id", c.info.ConnID), zap.String("user_id", c.info.UserID))
		c.kick()
		observability.IncSlowClientKick()
		h.publishWSError(c.info, "send buffer full")
	}
}

func (h *Hub) publishWSError(info ConnInfo, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), observability.RoutingKeyWSEvents, wsEnvelope(info, "ws_error", reason), headers)
	observability.IncWSEvent("ws_error")
}
