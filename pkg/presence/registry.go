package presence

import (
	"sync"
	"time"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/store"
)

// Registry tracks live websocket sessions per user. Online is the
// in-memory session count; last-active is persisted so it survives
// restarts and is visible to list views.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]map[string]struct{}{}}
}

// Connect records a session for the user. Returns true when this is the
// user's first live session, i.e. the user just came online.
func (r *Registry) Connect(userID, sessionID string) (bool, error) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		set = map[string]struct{}{}
		r.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
	first := len(set) == 1
	r.mu.Unlock()

	if first {
		_, err := store.UpdateUserState(userID, func(st *models.UserState) error {
			st.Online = true
			st.LastActiveTS = time.Now().UTC().UnixNano()
			return nil
		})
		if err != nil {
			logger.Error("presence_online_update_failed", "user", userID, "error", err)
			return first, err
		}
		logger.Debug("presence_online", "user", userID)
	}
	return first, nil
}

// Disconnect drops a session. Returns true when it was the user's last
// session, i.e. the user just went offline.
func (r *Registry) Disconnect(userID, sessionID string) (bool, error) {
	r.mu.Lock()
	set := r.sessions[userID]
	delete(set, sessionID)
	last := len(set) == 0
	if last {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	if last {
		_, err := store.UpdateUserState(userID, func(st *models.UserState) error {
			st.Online = false
			st.LastActiveTS = time.Now().UTC().UnixNano()
			return nil
		})
		if err != nil {
			logger.Error("presence_offline_update_failed", "user", userID, "error", err)
			return last, err
		}
		logger.Debug("presence_offline", "user", userID)
	}
	return last, nil
}

// Touch refreshes the user's persisted last-active timestamp. Called on
// a timer while a session is open.
func (r *Registry) Touch(userID string) error {
	_, err := store.UpdateUserState(userID, func(st *models.UserState) error {
		st.LastActiveTS = time.Now().UTC().UnixNano()
		return nil
	})
	return err
}

// Online reports live-session presence from memory only.
func (r *Registry) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID]) > 0
}

// Snapshot returns the in-memory online flag alongside the persisted
// last-active timestamp.
func (r *Registry) Snapshot(userID string) (bool, int64) {
	online := r.Online(userID)
	st, err := store.GetUserState(userID)
	if err != nil {
		return online, 0
	}
	return online, st.LastActiveTS
}

// Sessions returns the user's live session count.
func (r *Registry) Sessions(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID])
}
