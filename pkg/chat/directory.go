package chat

import (
	"fmt"
	"sort"
	"time"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/presence"
	"wisdomchat/pkg/store"
	"wisdomchat/pkg/utils"
)

// Directory manages the chat list: find-or-create, listing with unread
// and presence annotation, close and mute.
type Directory struct {
	Presence *presence.Registry
}

func NewDirectory(p *presence.Registry) *Directory {
	return &Directory{Presence: p}
}

// ChatSummary is a chat annotated for list views.
type ChatSummary struct {
	models.Chat
	Unread              int    `json:"unread"`
	Partner             string `json:"partner"`
	PartnerOnline       bool   `json:"partner_online"`
	PartnerLastActiveTS int64  `json:"partner_last_active_ts,omitempty"`
}

// FindOrCreate returns the active direct chat between caller and
// participant, creating it when none exists. Concurrent calls for the
// same pair converge on a single chat.
func (d *Directory) FindOrCreate(callerID, participantID string) (models.Chat, bool, error) {
	if participantID == "" {
		return models.Chat{}, false, fmt.Errorf("%w: participant required", ErrValidation)
	}
	if participantID == callerID {
		return models.Chat{}, false, fmt.Errorf("%w: cannot open a chat with yourself", ErrValidation)
	}
	ts := time.Now().UTC().UnixNano()
	c := models.Chat{
		ID:           utils.GenChatID(),
		Type:         models.ChatTypeDirect,
		Participants: []string{callerID, participantID},
		Settings: map[string]models.ParticipantSettings{
			callerID:      {JoinedTS: ts},
			participantID: {JoinedTS: ts},
		},
		Active:         true,
		CreatedTS:      ts,
		LastActivityTS: ts,
	}
	out, created, err := store.CreateChatForPair(c)
	if err != nil {
		return out, false, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if created {
		logger.Info("chat_opened", "chat", out.ID, "caller", callerID, "participant", participantID)
	}
	return out, created, nil
}

// List returns the caller's active chats ordered by last activity,
// newest first, each annotated with unread count and partner presence.
func (d *Directory) List(callerID string, page, pageSize int) ([]ChatSummary, error) {
	ids, err := store.UserChatIDs(callerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	var chats []models.Chat
	for _, id := range ids {
		c, err := store.GetChat(id)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrDependency, err)
		}
		if !c.Active || !c.HasParticipant(callerID) {
			continue
		}
		chats = append(chats, c)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return activityOf(chats[i]) > activityOf(chats[j])
	})
	chats = pageOf(chats, page, pageSize)

	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		unread, err := UnreadCount(c, callerID)
		if err != nil {
			return nil, err
		}
		s := ChatSummary{Chat: c, Unread: unread, Partner: c.Partner(callerID)}
		if d.Presence != nil && s.Partner != "" {
			s.PartnerOnline, s.PartnerLastActiveTS = d.Presence.Snapshot(s.Partner)
		}
		out = append(out, s)
	}
	return out, nil
}

// Close records the caller's departure and deactivates the chat. One
// side closing closes the conversation for both.
func (d *Directory) Close(callerID, chatID string) (models.Chat, error) {
	c, err := store.UpdateChat(chatID, func(c *models.Chat) error {
		if !c.HasParticipant(callerID) {
			return fmt.Errorf("%w: not a participant", ErrForbidden)
		}
		if !c.Active {
			return fmt.Errorf("%w: chat already closed", ErrInvalidState)
		}
		st := c.Settings[callerID]
		st.LeftTS = time.Now().UTC().UnixNano()
		c.Settings[callerID] = st
		c.Active = false
		return nil
	})
	if err != nil {
		return c, mapStoreErr(err)
	}
	logger.Info("chat_closed", "chat", chatID, "caller", callerID)
	return c, nil
}

// SetMuted flips the caller's mute flag for the chat.
func (d *Directory) SetMuted(callerID, chatID string, muted bool) (models.Chat, error) {
	c, err := store.UpdateChat(chatID, func(c *models.Chat) error {
		if !c.HasParticipant(callerID) {
			return fmt.Errorf("%w: not a participant", ErrForbidden)
		}
		st := c.Settings[callerID]
		st.Muted = muted
		c.Settings[callerID] = st
		return nil
	})
	if err != nil {
		return c, mapStoreErr(err)
	}
	return c, nil
}

// PartnersOf returns the distinct partners across the user's active
// chats; used to scope presence broadcasts.
func (d *Directory) PartnersOf(userID string) ([]string, error) {
	ids, err := store.UserChatIDs(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	seen := map[string]struct{}{}
	var out []string
	for _, id := range ids {
		c, err := store.GetChat(id)
		if err != nil || !c.Active {
			continue
		}
		p := c.Partner(userID)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func activityOf(c models.Chat) int64 {
	if c.LastActivityTS != 0 {
		return c.LastActivityTS
	}
	return c.CreatedTS
}

func pageOf[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// mapStoreErr folds store-level lookup failures into the chat error
// kinds; service errors pass through untouched.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if err == store.ErrNotFound {
		return fmt.Errorf("%w: chat", ErrNotFound)
	}
	return err
}
