package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/outbox"
	"wisdomchat/pkg/store"
	"wisdomchat/pkg/telemetry"
	"wisdomchat/pkg/utils"
	"wisdomchat/pkg/validation"
)

// now is swappable in tests that exercise the edit window.
var now = time.Now

// Messages implements the message lifecycle: send, edit, delete,
// react, forward, pin and the read paths (list, search).
type Messages struct {
	Queue           *outbox.Queue
	EditWindow      time.Duration
	MaxContentBytes int64
}

func NewMessages(q *outbox.Queue, editWindow time.Duration, maxContentBytes int64) *Messages {
	if editWindow <= 0 {
		editWindow = 15 * time.Minute
	}
	if maxContentBytes <= 0 {
		maxContentBytes = 64 * 1024
	}
	return &Messages{Queue: q, EditWindow: editWindow, MaxContentBytes: maxContentBytes}
}

// SendInput is the caller-supplied portion of a new message.
type SendInput struct {
	Content     string              `json:"content"`
	Encrypted   string              `json:"encrypted_content,omitempty"`
	Type        string              `json:"type,omitempty"`
	Scripture   *models.Scripture   `json:"scripture,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
}

// Send validates and persists a new message in the chat. The chat-meta,
// notification and fan-out effects commit in the same batch as the
// message; the queue nudge afterwards is best effort.
func (s *Messages) Send(callerID, chatID string, in SendInput) (models.RenderedMessage, error) {
	c, err := store.GetChat(chatID)
	if err != nil {
		return models.RenderedMessage{}, mapStoreErr(err)
	}
	if !c.HasParticipant(callerID) {
		return models.RenderedMessage{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	if !c.Active {
		return models.RenderedMessage{}, fmt.Errorf("%w: chat is closed", ErrInvalidState)
	}
	if err := CheckSend(callerID, c.Partner(callerID)); err != nil {
		return models.RenderedMessage{}, err
	}
	if err := s.validateInput(&in); err != nil {
		return models.RenderedMessage{}, err
	}

	// A reply reference is only honored when the source message exists in
	// this same chat; otherwise the reference is dropped silently.
	if in.ReplyTo != "" {
		src, err := store.GetMessage(in.ReplyTo)
		if err != nil || src.Chat != chatID {
			in.ReplyTo = ""
		}
	}

	m := models.Message{
		ID:          utils.GenMessageID(),
		Chat:        chatID,
		Sender:      callerID,
		Content:     in.Content,
		Encrypted:   in.Encrypted,
		Type:        in.Type,
		Scripture:   in.Scripture,
		Attachments: in.Attachments,
		ReplyTo:     in.ReplyTo,
		CreatedTS:   now().UTC().UnixNano(),
	}
	if err := validation.ValidateMessage(m); err != nil {
		return models.RenderedMessage{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	rendered, err := s.renderMessage(m, c)
	if err != nil {
		return models.RenderedMessage{}, err
	}
	effects, err := buildSendEffects(m, rendered)
	if err != nil {
		return models.RenderedMessage{}, err
	}
	if err := store.AppendMessage(m, effects); err != nil {
		return models.RenderedMessage{}, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	s.nudge(effects)
	telemetry.MessagesSent.Inc()
	logger.Debug("message_sent", "chat", chatID, "msg", m.ID, "sender", callerID)
	return rendered, nil
}

func (s *Messages) validateInput(in *SendInput) error {
	if in.Content == "" && in.Encrypted == "" && len(in.Attachments) == 0 && in.Scripture == nil {
		return fmt.Errorf("%w: message has no content", ErrValidation)
	}
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	switch in.Type {
	case models.MessageTypeText, models.MessageTypeScripture, models.MessageTypeSystem:
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, in.Type)
	}
	if int64(len(in.Content)) > s.MaxContentBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, s.MaxContentBytes)
	}
	if in.Scripture != nil && in.Scripture.Reference == "" {
		return fmt.Errorf("%w: scripture requires a reference", ErrValidation)
	}
	return nil
}

// buildSendEffects returns the durable side effects of a send: chat
// metadata refresh, offline notification fan-out and websocket fan-out.
func buildSendEffects(m models.Message, rendered models.RenderedMessage) ([]models.Effect, error) {
	payload, err := json.Marshal(map[string]any{"type": "newMessage", "data": rendered})
	if err != nil {
		return nil, fmt.Errorf("marshal fanout payload: %w", err)
	}
	ts := m.CreatedTS
	return []models.Effect{
		{ID: utils.GenEffectID(), Kind: models.EffectChatMeta, Chat: m.Chat, Message: m.ID, Actor: m.Sender, TS: ts},
		{ID: utils.GenEffectID(), Kind: models.EffectNotify, Chat: m.Chat, Message: m.ID, Actor: m.Sender, TS: ts},
		{ID: utils.GenEffectID(), Kind: models.EffectFanout, Chat: m.Chat, Message: m.ID, Actor: m.Sender, TS: ts, Payload: payload},
	}, nil
}

func (s *Messages) nudge(effects []models.Effect) {
	if s.Queue == nil {
		return
	}
	for _, e := range effects {
		if err := s.Queue.TryEnqueue(e); err != nil {
			// durable already; redrive picks it up
			logger.Warn("outbox_nudge_dropped", "kind", e.Kind, "key", e.Key)
		}
	}
}

// Edit replaces the content of the caller's own message within the edit
// window.
func (s *Messages) Edit(callerID, msgID, content, encrypted string) (models.Message, error) {
	if content == "" && encrypted == "" {
		return models.Message{}, fmt.Errorf("%w: edited message has no content", ErrValidation)
	}
	if int64(len(content)) > s.MaxContentBytes {
		return models.Message{}, fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, s.MaxContentBytes)
	}
	m, err := store.UpdateMessage(msgID, func(m *models.Message) error {
		if m.Deleted {
			return fmt.Errorf("%w: message is deleted", ErrInvalidState)
		}
		if m.Sender != callerID {
			return fmt.Errorf("%w: only the sender may edit", ErrForbidden)
		}
		if now().UTC().UnixNano()-m.CreatedTS > int64(s.EditWindow) {
			return fmt.Errorf("%w: %s after send", ErrEditWindowExpired, s.EditWindow)
		}
		m.Content = content
		m.Encrypted = encrypted
		m.Edited = true
		m.EditedTS = now().UTC().UnixNano()
		return nil
	})
	if err != nil {
		return m, mapMsgErr(err)
	}
	return m, nil
}

// Delete tombstones the caller's own message. Content fields are cleared
// so later reads, including version history of other messages that
// reference it, render a placeholder. Reactions and read receipts
// already recorded stay on the record.
func (s *Messages) Delete(callerID, msgID string) (models.Message, error) {
	m, err := store.UpdateMessage(msgID, func(m *models.Message) error {
		if m.Sender != callerID {
			return fmt.Errorf("%w: only the sender may delete", ErrForbidden)
		}
		if m.Deleted {
			return fmt.Errorf("%w: message already deleted", ErrInvalidState)
		}
		m.Deleted = true
		m.DeletedTS = now().UTC().UnixNano()
		m.Content = ""
		m.Encrypted = ""
		m.Scripture = nil
		m.Attachments = nil
		return nil
	})
	if err != nil {
		return m, mapMsgErr(err)
	}
	logger.Debug("message_deleted", "msg", msgID)
	return m, nil
}

// React toggles the caller's reaction with the given emoji. Returns
// whether the reaction is present after the call.
func (s *Messages) React(callerID, msgID, emoji string) (bool, models.Message, error) {
	if emoji == "" {
		return false, models.Message{}, fmt.Errorf("%w: emoji required", ErrValidation)
	}
	added := false
	m, err := store.UpdateMessage(msgID, func(m *models.Message) error {
		if m.Deleted {
			return fmt.Errorf("%w: message is deleted", ErrInvalidState)
		}
		c, err := store.GetChat(m.Chat)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDependency, err)
		}
		if !c.HasParticipant(callerID) {
			return fmt.Errorf("%w: not a participant", ErrForbidden)
		}
		for i, r := range m.Reactions {
			if r.User == callerID && r.Emoji == emoji {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return nil
			}
		}
		m.Reactions = append(m.Reactions, models.Reaction{User: callerID, Emoji: emoji})
		added = true
		return nil
	})
	if err != nil {
		return false, m, mapMsgErr(err)
	}
	return added, m, nil
}

// Forward copies a message into another of the caller's chats, tagged
// with its provenance. The target chat gets the full send-path effects.
func (s *Messages) Forward(callerID, msgID, targetChatID string) (models.RenderedMessage, error) {
	src, err := store.GetMessage(msgID)
	if err != nil {
		return models.RenderedMessage{}, mapMsgErr(err)
	}
	if src.Deleted {
		return models.RenderedMessage{}, fmt.Errorf("%w: cannot forward a deleted message", ErrInvalidState)
	}
	srcChat, err := store.GetChat(src.Chat)
	if err != nil {
		return models.RenderedMessage{}, mapStoreErr(err)
	}
	if !srcChat.HasParticipant(callerID) {
		return models.RenderedMessage{}, fmt.Errorf("%w: not a participant of the source chat", ErrForbidden)
	}

	target, err := store.GetChat(targetChatID)
	if err != nil {
		return models.RenderedMessage{}, mapStoreErr(err)
	}
	if !target.HasParticipant(callerID) {
		return models.RenderedMessage{}, fmt.Errorf("%w: not a participant of the target chat", ErrForbidden)
	}
	if !target.Active {
		return models.RenderedMessage{}, fmt.Errorf("%w: target chat is closed", ErrInvalidState)
	}
	if err := CheckSend(callerID, target.Partner(callerID)); err != nil {
		return models.RenderedMessage{}, err
	}

	m := models.Message{
		ID:            utils.GenMessageID(),
		Chat:          targetChatID,
		Sender:        callerID,
		Content:       src.Content,
		Encrypted:     src.Encrypted,
		Type:          src.Type,
		Scripture:     src.Scripture,
		Attachments:   src.Attachments,
		ForwardedFrom: src.ID,
		CreatedTS:     now().UTC().UnixNano(),
	}
	rendered, err := s.renderMessage(m, target)
	if err != nil {
		return models.RenderedMessage{}, err
	}
	effects, err := buildSendEffects(m, rendered)
	if err != nil {
		return models.RenderedMessage{}, err
	}
	if err := store.AppendMessage(m, effects); err != nil {
		return models.RenderedMessage{}, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	s.nudge(effects)
	telemetry.MessagesSent.Inc()
	logger.Debug("message_forwarded", "src", msgID, "chat", targetChatID, "msg", m.ID)
	return rendered, nil
}

// Pin adds the message to the chat's pinned set. The set on the chat is
// the single source of truth; messages carry no pin flag of their own.
func (s *Messages) Pin(callerID, chatID, msgID string) (models.Chat, error) {
	return s.setPinned(callerID, chatID, msgID, true)
}

// Unpin removes the message from the chat's pinned set.
func (s *Messages) Unpin(callerID, chatID, msgID string) (models.Chat, error) {
	return s.setPinned(callerID, chatID, msgID, false)
}

func (s *Messages) setPinned(callerID, chatID, msgID string, pin bool) (models.Chat, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		return models.Chat{}, mapMsgErr(err)
	}
	if m.Chat != chatID {
		return models.Chat{}, fmt.Errorf("%w: message does not belong to this chat", ErrValidation)
	}
	if pin && m.Deleted {
		return models.Chat{}, fmt.Errorf("%w: cannot pin a deleted message", ErrInvalidState)
	}
	c, err := store.UpdateChat(chatID, func(c *models.Chat) error {
		if !c.HasParticipant(callerID) {
			return fmt.Errorf("%w: not a participant", ErrForbidden)
		}
		if pin {
			if c.IsPinned(msgID) {
				return nil
			}
			c.Pinned = append(c.Pinned, msgID)
			return nil
		}
		for i, id := range c.Pinned {
			if id == msgID {
				c.Pinned = append(c.Pinned[:i], c.Pinned[i+1:]...)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return c, mapStoreErr(err)
	}
	return c, nil
}

// List returns a page of the chat's messages, newest first, skipping
// tombstones, each rendered with pin state and resolved references.
func (s *Messages) List(callerID, chatID string, page, pageSize int) ([]models.RenderedMessage, error) {
	return s.listFiltered(callerID, chatID, page, pageSize, "")
}

// Search is List with a case-insensitive substring filter over content.
func (s *Messages) Search(callerID, chatID, q string, page, pageSize int) ([]models.RenderedMessage, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: search query required", ErrValidation)
	}
	return s.listFiltered(callerID, chatID, page, pageSize, strings.ToLower(q))
}

func (s *Messages) listFiltered(callerID, chatID string, page, pageSize int, q string) ([]models.RenderedMessage, error) {
	c, err := store.GetChat(chatID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !c.HasParticipant(callerID) {
		return nil, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	ids, err := store.ChatMessageIDs(chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	// ordering index is ascending; walk backwards for newest first
	var msgs []models.Message
	for i := len(ids) - 1; i >= 0; i-- {
		m, err := store.GetMessage(ids[i])
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrDependency, err)
		}
		if m.Deleted {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(m.Content), q) {
			continue
		}
		msgs = append(msgs, m)
	}
	msgs = pageOf(msgs, page, pageSize)

	out := make([]models.RenderedMessage, 0, len(msgs))
	for _, m := range msgs {
		r, err := s.renderMessage(m, c)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// renderMessage decorates a stored message for API consumers: pin state
// from the chat's pinned set and reply/forward sources resolved to
// lightweight refs. Deleted sources render as tombstone refs.
func (s *Messages) renderMessage(m models.Message, c models.Chat) (models.RenderedMessage, error) {
	r := models.RenderedMessage{Message: m, Pinned: c.IsPinned(m.ID)}
	if m.ReplyTo != "" {
		r.ReplyToMessage = refOf(m.ReplyTo)
	}
	if m.ForwardedFrom != "" {
		r.ForwardedFromMessage = refOf(m.ForwardedFrom)
	}
	return r, nil
}

func refOf(msgID string) *models.MessageRef {
	src, err := store.GetMessage(msgID)
	if err != nil {
		return &models.MessageRef{ID: msgID, Deleted: true}
	}
	if src.Deleted {
		return &models.MessageRef{ID: src.ID, Sender: src.Sender, Deleted: true}
	}
	return &models.MessageRef{ID: src.ID, Sender: src.Sender, Content: src.Content}
}

// mapMsgErr folds store-level lookup failures into the message error
// kinds; service errors pass through untouched.
func mapMsgErr(err error) error {
	if err == nil {
		return nil
	}
	if err == store.ErrNotFound {
		return fmt.Errorf("%w: message", ErrNotFound)
	}
	return err
}
