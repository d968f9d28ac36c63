package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"wisdomchat/pkg/chat"
	"wisdomchat/pkg/files"
	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/presence"
	"wisdomchat/pkg/realtime"
	"wisdomchat/pkg/utils"
)

// Deps carries the services handlers operate on. One value is built at
// startup and shared by every Register call.
type Deps struct {
	Dir      *chat.Directory
	Msgs     *chat.Messages
	Presence *presence.Registry
	Hub      *realtime.Hub
	Files    *files.LocalStore

	// WSOrigins are the origins allowed to open a websocket, same list
	// as the CORS config. Empty means same-host only.
	WSOrigins []string
}

// writeErr maps service error kinds onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrEditWindowExpired):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrInvalidState):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrValidation):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrDependency):
		logger.Error("dependency_error", "error", err)
		utils.JSONError(w, http.StatusBadGateway, "storage unavailable")
	default:
		logger.Error("internal_error", "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// parsePage reads ?page= and ?page_size= with defaults.
func parsePage(r *http.Request, defaultSize int) (int, int) {
	page := 1
	size := defaultSize
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			size = n
		}
	}
	return page, size
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
