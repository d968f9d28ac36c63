package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"wisdomchat/pkg/auth"
	"wisdomchat/pkg/chat"
	"wisdomchat/pkg/realtime"
	"wisdomchat/pkg/utils"
)

// RegisterMessages registers the message lifecycle routes.
func RegisterMessages(r *mux.Router, d *Deps) {
	r.HandleFunc("/chats/{chatID}/messages", d.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/chats/{chatID}/messages", d.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/chats/{chatID}/messages/search", d.searchMessages).Methods(http.MethodGet)
	r.HandleFunc("/chats/{chatID}/messages/{id}/pin", d.pinMessage).Methods(http.MethodPut)
	r.HandleFunc("/chats/{chatID}/messages/{id}/pin", d.unpinMessage).Methods(http.MethodDelete)

	r.HandleFunc("/messages/{id}", d.editMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", d.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/reactions", d.reactMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/forward", d.forwardMessage).Methods(http.MethodPost)
}

func (d *Deps) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in chat.SendInput
	if !decode(w, r, &in) {
		return
	}
	caller := auth.UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chatID"]
	m, err := d.Msgs.Send(caller, chatID, in)
	if err != nil {
		writeErr(w, err)
		return
	}
	// fan-out to the chat room is handled by the outbox worker
	utils.JSONWrite(w, http.StatusCreated, m)
}

func (d *Deps) listMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chatID"]
	page, size := parsePage(r, 20)
	msgs, err := d.Msgs.List(caller, chatID, page, size)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Messages any `json:"messages"`
	}{Messages: msgs})
}

func (d *Deps) searchMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chatID"]
	page, size := parsePage(r, 20)
	msgs, err := d.Msgs.Search(caller, chatID, r.URL.Query().Get("q"), page, size)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Messages any `json:"messages"`
	}{Messages: msgs})
}

func (d *Deps) editMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content   string `json:"content"`
		Encrypted string `json:"encrypted_content"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller := auth.UserIDFromContext(r.Context())
	m, err := d.Msgs.Edit(caller, mux.Vars(r)["id"], body.Content, body.Encrypted)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Hub.BroadcastToChat(m.Chat, realtime.Event{Type: realtime.EventMessageEdited, Data: m}, nil)
	utils.JSONWrite(w, http.StatusOK, m)
}

func (d *Deps) deleteMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	m, err := d.Msgs.Delete(caller, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Hub.BroadcastToChat(m.Chat, realtime.Event{Type: realtime.EventMessageDeleted, Data: map[string]string{
		"id":   m.ID,
		"chat": m.Chat,
	}}, nil)
	utils.JSONWrite(w, http.StatusOK, m)
}

func (d *Deps) reactMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emoji string `json:"emoji"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller := auth.UserIDFromContext(r.Context())
	added, m, err := d.Msgs.React(caller, mux.Vars(r)["id"], body.Emoji)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Hub.BroadcastToChat(m.Chat, realtime.Event{Type: realtime.EventMessageReaction, Data: m}, nil)
	utils.JSONWrite(w, http.StatusOK, struct {
		Added   bool `json:"added"`
		Message any  `json:"message"`
	}{Added: added, Message: m})
}

func (d *Deps) forwardMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Chat string `json:"chat"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller := auth.UserIDFromContext(r.Context())
	m, err := d.Msgs.Forward(caller, mux.Vars(r)["id"], body.Chat)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusCreated, m)
}

func (d *Deps) pinMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	c, err := d.Msgs.Pin(caller, vars["chatID"], vars["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Hub.BroadcastToChat(c.ID, realtime.Event{Type: realtime.EventMessagePinned, Data: map[string]any{
		"chat":   c.ID,
		"pinned": c.Pinned,
	}}, nil)
	utils.JSONWrite(w, http.StatusOK, c)
}

func (d *Deps) unpinMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	c, err := d.Msgs.Unpin(caller, vars["chatID"], vars["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Hub.BroadcastToChat(c.ID, realtime.Event{Type: realtime.EventMessageUnpinned, Data: map[string]any{
		"chat":   c.ID,
		"pinned": c.Pinned,
	}}, nil)
	utils.JSONWrite(w, http.StatusOK, c)
}
