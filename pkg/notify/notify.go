package notify

import (
	"context"
	"fmt"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/presence"
	"wisdomchat/pkg/store"
	"wisdomchat/pkg/telemetry"
	"wisdomchat/pkg/utils"
)

// Sink delivers one notification. Implementations are expected to be
// durable or at least idempotent; the dispatcher retries via the outbox.
type Sink interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// StoreSink appends notifications to the recipient's store-backed queue.
// A push provider would implement Sink the same way.
type StoreSink struct{}

func (StoreSink) Deliver(_ context.Context, n models.Notification) error {
	return store.SaveNotification(n)
}

// Dispatcher fans a message event out to offline, unmuted recipients.
type Dispatcher struct {
	Presence *presence.Registry
	Sink     Sink
}

func NewDispatcher(p *presence.Registry, sink Sink) *Dispatcher {
	if sink == nil {
		sink = StoreSink{}
	}
	return &Dispatcher{Presence: p, Sink: sink}
}

// Dispatch handles a notify effect. Recipients with a live session or a
// muted chat are skipped; everyone else gets a notification with a short
// content preview.
func (d *Dispatcher) Dispatch(ctx context.Context, e *models.Effect) error {
	m, err := store.GetMessage(e.Message)
	if err != nil {
		return fmt.Errorf("load message %s: %w", e.Message, err)
	}
	c, err := store.GetChat(e.Chat)
	if err != nil {
		return fmt.Errorf("load chat %s: %w", e.Chat, err)
	}

	for _, p := range c.Participants {
		if p == m.Sender {
			continue
		}
		if d.Presence != nil && d.Presence.Online(p) {
			continue
		}
		if c.Settings[p].Muted {
			continue
		}
		n := models.Notification{
			ID:        utils.GenNotificationID(),
			Recipient: p,
			Sender:    m.Sender,
			Kind:      models.NotificationKindMessage,
			Title:     "New message",
			Body:      preview(m),
			Chat:      c.ID,
			Message:   m.ID,
			CreatedTS: m.CreatedTS,
		}
		if err := d.Sink.Deliver(ctx, n); err != nil {
			return fmt.Errorf("deliver to %s: %w", p, err)
		}
		telemetry.NotificationsEnqueued.Inc()
		logger.Debug("notification_enqueued", "recipient", p, "chat", c.ID, "msg", m.ID)
	}
	return nil
}

// preview builds the notification body. Encrypted and empty-content
// messages never leak content into the notification.
func preview(m models.Message) string {
	switch {
	case m.Content != "":
		if len(m.Content) > 120 {
			return m.Content[:120]
		}
		return m.Content
	case m.Scripture != nil:
		return "Shared a scripture"
	case len(m.Attachments) > 0:
		return "Sent an attachment"
	default:
		return "Sent a message"
	}
}
