package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"wisdomchat/pkg/auth"
	"wisdomchat/pkg/chat"
)

// RegisterBlocks registers the block list routes.
func RegisterBlocks(r *mux.Router, d *Deps) {
	r.HandleFunc("/blocks", d.listBlocks).Methods(http.MethodGet)
	r.HandleFunc("/blocks/{user}", d.blockUser).Methods(http.MethodPut)
	r.HandleFunc("/blocks/{user}", d.unblockUser).Methods(http.MethodDelete)
}

func (d *Deps) listBlocks(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	blocked, err := chat.Blocked(caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Blocked []string `json:"blocked"`
	}{Blocked: blocked})
}

func (d *Deps) blockUser(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	if err := chat.Block(caller, mux.Vars(r)["user"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deps) unblockUser(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	if err := chat.Unblock(caller, mux.Vars(r)["user"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
