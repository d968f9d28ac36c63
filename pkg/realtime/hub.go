package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"wisdomchat/pkg/telemetry"
)

// Session is one websocket connection for a user. Events are pushed
// through Send by a dedicated write loop; a slow consumer drops events
// rather than blocking the broadcaster.
type Session struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// Hub indexes live sessions by user and by joined chat room.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*Session]struct{}
	rooms map[string]map[*Session]struct{}
	// joined tracks room membership per session for cleanup on detach
	joined map[*Session]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		users:  map[string]map[*Session]struct{}{},
		rooms:  map[string]map[*Session]struct{}{},
		joined: map[*Session]map[string]struct{}{},
	}
}

// Attach registers a connection and starts its write and keepalive
// loops. The returned session must be passed to Detach when the
// connection ends.
func (h *Hub) Attach(userID string, conn *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = map[*Session]struct{}{}
	}
	h.users[userID][s] = struct{}{}
	h.joined[s] = map[string]struct{}{}
	h.mu.Unlock()

	go s.writeLoop()
	go s.keepAliveLoop()

	telemetry.WSSessions.Inc()
	return s
}

// Detach removes the session from all indexes and closes its connection.
func (h *Hub) Detach(s *Session) {
	s.cancel()

	h.mu.Lock()
	if set, ok := h.users[s.UserID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.users, s.UserID)
		}
	}
	for room := range h.joined[s] {
		if set, ok := h.rooms[room]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.joined, s)
	h.mu.Unlock()

	_ = s.Conn.Close(websocket.StatusNormalClosure, "bye")
	telemetry.WSSessions.Dec()
}

// Join subscribes the session to a chat room.
func (h *Hub) Join(s *Session, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = map[*Session]struct{}{}
	}
	h.rooms[chatID][s] = struct{}{}
	if h.joined[s] != nil {
		h.joined[s][chatID] = struct{}{}
	}
}

// Leave unsubscribes the session from a chat room.
func (h *Hub) Leave(s *Session, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.rooms[chatID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.rooms, chatID)
		}
	}
	if h.joined[s] != nil {
		delete(h.joined[s], chatID)
	}
}

// BroadcastToChat pushes the event to every session joined to the chat,
// optionally skipping one (typically the originator).
func (h *Hub) BroadcastToChat(chatID string, ev Event, except *Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[chatID] {
		if s == except {
			continue
		}
		s.push(ev)
	}
}

// BroadcastToUsers pushes the event to every session of the listed users.
func (h *Hub) BroadcastToUsers(userIDs []string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range userIDs {
		for s := range h.users[uid] {
			s.push(ev)
		}
	}
}

func (s *Session) push(ev Event) {
	select {
	case s.Send <- ev:
		telemetry.EventsFanned.Inc()
	default:
		// slow consumer: drop rather than block the broadcaster
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.Send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = wsjson.Write(writeCtx, s.Conn, ev)
			cancel()
		}
	}
}

func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.Conn.Ping(pingCtx)
			cancel()
		}
	}
}
