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

// RegisterChats registers the chat directory routes.
func RegisterChats(r *mux.Router, d *Deps) {
	r.HandleFunc("/chats", d.createChat).Methods(http.MethodPost)
	r.HandleFunc("/chats", d.listChats).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}", d.closeChat).Methods(http.MethodDelete)
	r.HandleFunc("/chats/{id}/mute", d.setMute).Methods(http.MethodPut)
	r.HandleFunc("/chats/{id}/read", d.markRead).Methods(http.MethodPut)
}

// createChat handles POST /chats. Find-or-create: posting the same
// participant twice returns the existing chat with a 200.
func (d *Deps) createChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Participant string `json:"participant"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller := auth.UserIDFromContext(r.Context())
	c, created, err := d.Dir.FindOrCreate(caller, body.Participant)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.JSONWrite(w, status, c)
}

func (d *Deps) listChats(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	page, size := parsePage(r, 20)
	chats, err := d.Dir.List(caller, page, size)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Chats any `json:"chats"`
	}{Chats: chats})
}

func (d *Deps) closeChat(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["id"]
	c, err := d.Dir.Close(caller, chatID)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Hub.BroadcastToUsers(c.Participants, realtime.Event{Type: realtime.EventChatUpdated, Data: c})
	utils.JSONWrite(w, http.StatusOK, c)
}

func (d *Deps) setMute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Muted bool `json:"muted"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller := auth.UserIDFromContext(r.Context())
	c, err := d.Dir.SetMuted(caller, mux.Vars(r)["id"], body.Muted)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, c)
}

func (d *Deps) markRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &body) {
		return
	}
	caller := auth.UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["id"]
	c, err := chat.MarkRead(caller, chatID, body.Message)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, c)
}
