package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one open connection. Everything it receives goes through the
// buffered send channel so a slow reader never blocks a broadcast.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	userID string
	rooms  map[string]struct{}
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:  conn,
		send:  make(chan []byte, 16),
		done:  make(chan struct{}),
		rooms: map[string]struct{}{},
	}
}

// Hub tracks which connections belong to which session room and which
// user group. Room membership does not imply the user is a participant;
// gameplay checks live in the session coordinator.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}
	users map[string]map[*Client]struct{}

	// called once per room a closed connection belonged to, when the
	// same user has no sibling connection left in that room
	onRoomDisconnect func(sessionID, userID string)
}

func NewHub() *Hub {
	return &Hub{
		rooms: map[string]map[*Client]struct{}{},
		users: map[string]map[*Client]struct{}{},
	}
}

func (h *Hub) OnRoomDisconnect(fn func(sessionID, userID string)) {
	h.onRoomDisconnect = fn
}

func (h *Hub) JoinRoom(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	if room == nil {
		room = map[*Client]struct{}{}
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
	c.rooms[sessionID] = struct{}{}
}

// LeaveRoom is idempotent.
func (h *Hub) LeaveRoom(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(c, sessionID)
}

func (h *Hub) leaveRoomLocked(c *Client, sessionID string) {
	delete(c.rooms, sessionID)
	room := h.rooms[sessionID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// JoinUser adds the connection to the user's private delivery group.
func (h *Hub) JoinUser(c *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.userID = userID
	group := h.users[userID]
	if group == nil {
		group = map[*Client]struct{}{}
		h.users[userID] = group
	}
	group[c] = struct{}{}
}

// Broadcast delivers the event to every connection in the session room.
// Per-connection ordering follows the send channel; no ordering holds
// across connections.
func (h *Hub) Broadcast(sessionID, event string, data any) {
	msg := marshalEnvelope(event, data)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[sessionID] {
		safeSend(c.send, msg)
	}
}

// BroadcastToUser delivers to the user's private group and reports how
// many connections received it.
func (h *Hub) BroadcastToUser(userID, event string, data any) int {
	msg := marshalEnvelope(event, data)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.users[userID] {
		safeSend(c.send, msg)
		n++
	}
	return n
}

// Unregister removes a closed connection from every room and the user
// group. For each room where the user has no other open connection it
// then reports the disconnect, after membership is already gone, so the
// handler observes the post-leave state.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	orphaned := []string{}
	for sessionID := range c.rooms {
		h.leaveRoomLocked(c, sessionID)
		if c.userID != "" && !h.userInRoomLocked(c.userID, sessionID) {
			orphaned = append(orphaned, sessionID)
		}
	}
	if c.userID != "" {
		group := h.users[c.userID]
		delete(group, c)
		if len(group) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.mu.Unlock()

	safeClose(c.done)
	safeClose(c.send)

	if h.onRoomDisconnect != nil {
		for _, sessionID := range orphaned {
			h.onRoomDisconnect(sessionID, c.userID)
		}
	}
}

func (h *Hub) userInRoomLocked(userID, sessionID string) bool {
	for sibling := range h.users[userID] {
		if _, ok := sibling.rooms[sessionID]; ok {
			return true
		}
	}
	return false
}

func safeSend(ch chan []byte, msg []byte) {
	defer func() {
		_ = recover()
	}()
	ch <- msg
}

func safeClose[T any](ch chan T) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}
