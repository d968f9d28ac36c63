package models

// ChatTypeDirect is the only chat type this service manages; group
// conversations live in a separate subsystem.
const ChatTypeDirect = "direct"

// ParticipantSettings holds the per-participant view of a chat. Every
// participant always has an entry, created together with the chat.
type ParticipantSettings struct {
	Muted bool `json:"muted,omitempty"`
	// LastRead is the id of the newest message the participant has read;
	// LastReadTS mirrors its created timestamp (ns) so unread counts can be
	// computed without loading the cursor message.
	LastRead   string `json:"last_read,omitempty"`
	LastReadTS int64  `json:"last_read_ts,omitempty"`
	JoinedTS   int64  `json:"joined_ts,omitempty"`
	// LeftTS is set when the participant closes the chat.
	LeftTS int64 `json:"left_ts,omitempty"`
}

// LastMessage is the denormalized preview kept on the chat for list views.
type LastMessage struct {
	ID      string `json:"id,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`
	TS      int64  `json:"ts,omitempty"`
}

type Chat struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Participants holds exactly two user ids for direct chats.
	Participants []string                       `json:"participants"`
	Settings     map[string]ParticipantSettings `json:"settings"`
	LastMessage  *LastMessage                   `json:"last_message,omitempty"`
	// LastActivityTS orders the chat list (ns).
	LastActivityTS int64 `json:"last_activity_ts,omitempty"`
	// Pinned is the set of pinned message ids and the single source of
	// truth for pin state; the per-message flag is derived at read time.
	Pinned    []string `json:"pinned,omitempty"`
	Active    bool     `json:"active"`
	CreatedTS int64    `json:"created_ts,omitempty"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Partner returns the other participant of a direct chat, or empty when
// userID is not a participant.
func (c *Chat) Partner(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// IsPinned reports whether msgID is in the chat's pinned set.
func (c *Chat) IsPinned(msgID string) bool {
	for _, id := range c.Pinned {
		if id == msgID {
			return true
		}
	}
	return false
}
