package chat

import (
	"fmt"
	"time"

	"wisdomchat/pkg/models"
	"wisdomchat/pkg/store"
)

// MarkRead advances the caller's read cursor to the given message. The
// cursor is monotonic: pointing it at an older message than the current
// cursor is rejected.
func MarkRead(callerID, chatID, msgID string) (models.Chat, error) {
	m, err := store.GetMessage(msgID)
	if err != nil {
		if err == store.ErrNotFound {
			return models.Chat{}, fmt.Errorf("%w: message", ErrNotFound)
		}
		return models.Chat{}, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if m.Chat != chatID {
		return models.Chat{}, fmt.Errorf("%w: message does not belong to this chat", ErrValidation)
	}
	var prevCursor int64
	c, err := store.UpdateChat(chatID, func(c *models.Chat) error {
		if !c.HasParticipant(callerID) {
			return fmt.Errorf("%w: not a participant", ErrForbidden)
		}
		st := c.Settings[callerID]
		if st.LastReadTS > m.CreatedTS {
			return fmt.Errorf("%w: read cursor cannot move backwards", ErrInvalidState)
		}
		prevCursor = st.LastReadTS
		st.LastRead = m.ID
		st.LastReadTS = m.CreatedTS
		c.Settings[callerID] = st
		return nil
	})
	if err != nil {
		return c, mapStoreErr(err)
	}
	stampReceipts(callerID, chatID, prevCursor, m.CreatedTS)
	return c, nil
}

// stampReceipts appends the caller's read receipt to every message the
// cursor move covers: partner messages, not deleted, newer than the old
// cursor and no newer than the new one. Best-effort; the cursor itself
// is already durable.
func stampReceipts(callerID, chatID string, from, upto int64) {
	ids, err := store.ChatMessageIDs(chatID)
	if err != nil {
		return
	}
	ts := time.Now().UTC().UnixNano()
	for _, id := range ids {
		_, _ = store.UpdateMessage(id, func(m *models.Message) error {
			if m.Deleted || m.Sender == callerID || m.CreatedTS <= from || m.CreatedTS > upto {
				return nil
			}
			for _, r := range m.ReadBy {
				if r.User == callerID {
					return nil
				}
			}
			m.ReadBy = append(m.ReadBy, models.ReadReceipt{User: callerID, ReadTS: ts})
			return nil
		})
	}
}

// UnreadCount counts messages in the chat newer than the user's read
// cursor, excluding the user's own and deleted messages.
func UnreadCount(c models.Chat, userID string) (int, error) {
	cursor := c.Settings[userID].LastReadTS
	ids, err := store.ChatMessageIDs(c.ID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	n := 0
	for _, id := range ids {
		m, err := store.GetMessage(id)
		if err != nil {
			continue
		}
		if m.Deleted || m.Sender == userID {
			continue
		}
		if m.CreatedTS > cursor {
			n++
		}
	}
	return n, nil
}
