package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"wisdomchat/pkg/auth"
	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/realtime"
	"wisdomchat/pkg/store"
)

// PresenceRefresh is how often an open session refreshes the user's
// persisted last-active timestamp. Overridden from config at startup.
var PresenceRefresh = 30 * time.Second

// RegisterWS registers the websocket endpoint. The auth middleware has
// already verified the token (query param for browsers) and put the
// user id in context.
func RegisterWS(r *mux.Router, d *Deps) {
	r.HandleFunc("/ws", d.handleWS).Methods(http.MethodGet)
}

// inbound is the client-to-server frame shape. Clients send room joins,
// typing indicators and pings; messages themselves go over HTTP.
type inbound struct {
	Type string `json:"type"`
	Chat string `json:"chat,omitempty"`
}

func (d *Deps) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	// CORS headers do not guard the upgrade handshake; the handshake
	// checks the Origin itself against the configured list.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originHostPatterns(d.WSOrigins)})
	if err != nil {
		return // Accept has written the error response
	}

	s := d.Hub.Attach(userID, conn)
	defer d.Hub.Detach(s)

	first, err := d.Presence.Connect(userID, s.ID)
	if err == nil && first {
		d.broadcastPresence(userID, true)
	}
	defer func() {
		last, err := d.Presence.Disconnect(userID, s.ID)
		if err == nil && last {
			d.broadcastPresence(userID, false)
		}
	}()

	// keep last-active fresh while the session is open
	ctx := r.Context()
	go func() {
		ticker := time.NewTicker(PresenceRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = d.Presence.Touch(userID)
			}
		}
	}()

	for {
		var in inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		switch in.Type {
		case "joinChat":
			c, err := store.GetChat(in.Chat)
			if err != nil || !c.HasParticipant(userID) {
				logger.Warn("ws_join_rejected", "user", userID, "chat", in.Chat)
				continue
			}
			d.Hub.Join(s, in.Chat)
		case "leaveChat":
			d.Hub.Leave(s, in.Chat)
		case realtime.EventTyping, realtime.EventStopTyping:
			// typing indicators never echo back to the sender
			d.Hub.BroadcastToChat(in.Chat, realtime.Event{Type: in.Type, Data: map[string]string{
				"chat": in.Chat,
				"user": userID,
			}}, s)
		case "ping":
			select {
			case s.Send <- realtime.Event{Type: realtime.EventPong}:
			default:
			}
		default:
			logger.Debug("ws_unknown_frame", "user", userID, "type", in.Type)
		}
	}
}

// originHostPatterns turns configured origins (scheme://host[:port])
// into the host patterns the handshake matches the Origin host against.
func originHostPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// broadcastPresence tells the user's chat partners about an online
// transition.
func (d *Deps) broadcastPresence(userID string, online bool) {
	partners, err := d.Dir.PartnersOf(userID)
	if err != nil || len(partners) == 0 {
		return
	}
	d.Hub.BroadcastToUsers(partners, realtime.Event{Type: realtime.EventUserOnlineStatus, Data: map[string]any{
		"user":   userID,
		"online": online,
		"ts":     time.Now().UTC().UnixNano(),
	}})
}
