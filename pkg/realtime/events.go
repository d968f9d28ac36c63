package realtime

// Event is the wire frame pushed to websocket sessions.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types understood by clients.
const (
	EventNewMessage       = "newMessage"
	EventMessageEdited    = "messageEdited"
	EventMessageDeleted   = "messageDeleted"
	EventMessageReaction  = "messageReaction"
	EventMessagePinned    = "messagePinned"
	EventMessageUnpinned  = "messageUnpinned"
	EventTyping           = "typing"
	EventStopTyping       = "stopTyping"
	EventChatUpdated      = "chatUpdated"
	EventUserOnlineStatus = "userOnlineStatus"
	EventPong             = "pong"
)
