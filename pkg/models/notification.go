package models

// NotificationKindMessage is the only kind this service emits today.
const NotificationKindMessage = "message"

// Notification is the record handed to the delivery collaborator when a
// send targets an offline, unmuted recipient. Exactly one is produced
// per qualifying send.
type Notification struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Kind      string `json:"kind"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	Chat      string `json:"chat,omitempty"`
	Message   string `json:"message,omitempty"`
	CreatedTS int64  `json:"created_ts"`
}
