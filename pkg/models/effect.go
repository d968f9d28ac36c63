package models

import "encoding/json"

// Effect kinds drained by the outbox worker. The records are committed
// in the same storage batch as the message that caused them.
const (
	EffectChatMeta = "chat_meta"
	EffectNotify   = "notify"
	EffectFanout   = "fanout"
)

// Effect is a pending side effect of a send: chat metadata update,
// notification decision, or real-time fan-out. Key is the storage key
// the record lives under until the worker completes it.
type Effect struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Chat     string          `json:"chat"`
	Message  string          `json:"message,omitempty"`
	Actor    string          `json:"actor,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
	TS       int64           `json:"ts"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	Key string `json:"-"`
}
