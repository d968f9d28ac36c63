package models

// UserState holds the per-user state this service owns: the block list
// and presence bookkeeping. Identity itself lives in the account system;
// user ids are opaque here.
type UserState struct {
	ID      string   `json:"id"`
	Blocked []string `json:"blocked,omitempty"`
	Online  bool     `json:"online,omitempty"`
	// LastActiveTS is refreshed periodically while the user holds at
	// least one websocket session (ns).
	LastActiveTS int64 `json:"last_active_ts,omitempty"`
}

// HasBlocked reports whether target is in the user's block list.
func (u *UserState) HasBlocked(target string) bool {
	for _, b := range u.Blocked {
		if b == target {
			return true
		}
	}
	return false
}
