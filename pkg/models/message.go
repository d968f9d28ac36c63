package models

// Message types. Scripture messages carry a Scripture block; system
// messages are service-generated markers.
const (
	MessageTypeText      = "text"
	MessageTypeScripture = "scripture"
	MessageTypeSystem    = "system"
)

// Scripture is an optional payload for scripture-type messages.
type Scripture struct {
	Reference   string `json:"reference"`
	Text        string `json:"text,omitempty"`
	Translation string `json:"translation,omitempty"`
}

// Attachment references an uploaded file resolved by the storage
// collaborator before send.
type Attachment struct {
	URI      string `json:"uri"`
	FileType string `json:"file_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// Reaction records one (user, emoji) pair; the pair is unique per message
// and toggled by repeated reaction requests.
type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
}

// ReadReceipt records that a user has read the message.
type ReadReceipt struct {
	User   string `json:"user"`
	ReadTS int64  `json:"read_ts"`
}

// MessageRef is a resolved pointer to another message, used when
// rendering reply-to and forward sources.
type MessageRef struct {
	ID      string `json:"id"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

type Message struct {
	ID      string `json:"id"`
	Chat    string `json:"chat"`
	Sender  string `json:"sender"`
	Content string `json:"content,omitempty"`
	// Encrypted carries an opaque client-side ciphertext verbatim; the
	// server never interprets it.
	Encrypted   string       `json:"encrypted,omitempty"`
	Type        string       `json:"type"`
	Scripture   *Scripture   `json:"scripture,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// ReplyTo is only honored when the target belongs to the same chat.
	ReplyTo       string        `json:"reply_to,omitempty"`
	ForwardedFrom string        `json:"forwarded_from,omitempty"`
	Reactions     []Reaction    `json:"reactions,omitempty"`
	Edited        bool          `json:"edited,omitempty"`
	EditedTS      int64         `json:"edited_ts,omitempty"`
	Deleted       bool          `json:"deleted,omitempty"`
	DeletedTS     int64         `json:"deleted_ts,omitempty"`
	ReadBy        []ReadReceipt `json:"read_by,omitempty"`
	CreatedTS     int64         `json:"created_ts"`
}

// HasReaction reports whether the (user, emoji) pair is present.
func (m *Message) HasReaction(user, emoji string) bool {
	for _, r := range m.Reactions {
		if r.User == user && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// RenderedMessage is the wire form of a message: the stored record plus
// fields derived at read time.
type RenderedMessage struct {
	Message
	// Pinned is derived from the chat's pinned set.
	Pinned bool `json:"pinned,omitempty"`
	// ReplyToMessage / ForwardedFromMessage resolve the referenced
	// messages to small previews for clients.
	ReplyToMessage       *MessageRef `json:"reply_to_message,omitempty"`
	ForwardedFromMessage *MessageRef `json:"forwarded_from_message,omitempty"`
}
