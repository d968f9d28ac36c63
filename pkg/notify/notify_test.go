package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"wisdomchat/pkg/models"
	"wisdomchat/pkg/presence"
	"wisdomchat/pkg/store"
)

func setupStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func seedChat(t *testing.T, muted map[string]bool) models.Chat {
	t.Helper()
	c := models.Chat{
		ID:           "chat-1",
		Type:         models.ChatTypeDirect,
		Participants: []string{"alice", "bob"},
		Settings:     map[string]models.ParticipantSettings{},
		Active:       true,
		CreatedTS:    time.Now().UTC().UnixNano(),
	}
	for u, m := range muted {
		st := c.Settings[u]
		st.Muted = m
		c.Settings[u] = st
	}
	if err := store.SaveChat(c); err != nil {
		t.Fatalf("save chat failed: %v", err)
	}
	return c
}

func seedMessage(t *testing.T, c models.Chat, sender string, m models.Message) models.Message {
	t.Helper()
	m.ID = "msg-1"
	m.Chat = c.ID
	m.Sender = sender
	m.CreatedTS = time.Now().UTC().UnixNano()
	if err := store.AppendMessage(m, nil); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	return m
}

func dispatch(t *testing.T, d *Dispatcher, c models.Chat, m models.Message) {
	t.Helper()
	e := &models.Effect{ID: "e1", Kind: models.EffectNotify, Chat: c.ID, Message: m.ID, Actor: m.Sender, TS: m.CreatedTS}
	if err := d.Dispatch(context.Background(), e); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
}

func TestDispatchNotifiesOfflineRecipient(t *testing.T) {
	setupStore(t)
	c := seedChat(t, nil)
	m := seedMessage(t, c, "alice", models.Message{Content: "are you free sunday?"})
	d := NewDispatcher(presence.NewRegistry(), nil)

	dispatch(t, d, c, m)

	got, err := store.ListNotifications("bob")
	if err != nil || len(got) != 1 {
		t.Fatalf("want 1 notification for bob, got %d (%v)", len(got), err)
	}
	n := got[0]
	if n.Sender != "alice" || n.Chat != c.ID || n.Message != m.ID || n.Body != "are you free sunday?" {
		t.Fatalf("notification fields wrong: %+v", n)
	}
	// the sender never notifies themselves
	if got, _ := store.ListNotifications("alice"); len(got) != 0 {
		t.Fatalf("sender should not be notified")
	}
}

func TestDispatchSkipsOnlineRecipient(t *testing.T) {
	setupStore(t)
	c := seedChat(t, nil)
	m := seedMessage(t, c, "alice", models.Message{Content: "hi"})
	reg := presence.NewRegistry()
	if _, err := reg.Connect("bob", "s1"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	d := NewDispatcher(reg, nil)

	dispatch(t, d, c, m)

	if got, _ := store.ListNotifications("bob"); len(got) != 0 {
		t.Fatalf("online recipient should not be notified")
	}
}

func TestDispatchSkipsMutedChat(t *testing.T) {
	setupStore(t)
	c := seedChat(t, map[string]bool{"bob": true})
	m := seedMessage(t, c, "alice", models.Message{Content: "hi"})
	d := NewDispatcher(presence.NewRegistry(), nil)

	dispatch(t, d, c, m)

	if got, _ := store.ListNotifications("bob"); len(got) != 0 {
		t.Fatalf("muted chat should not notify")
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("a", 200)
	cases := []struct {
		name string
		msg  models.Message
		want string
	}{
		{"plain", models.Message{Content: "short"}, "short"},
		{"truncated", models.Message{Content: long}, long[:120]},
		{"scripture", models.Message{Scripture: &models.Scripture{Reference: "Ps 23"}}, "Shared a scripture"},
		{"attachment", models.Message{Attachments: []models.Attachment{{URI: "/uploads/x"}}}, "Sent an attachment"},
		{"encrypted", models.Message{Encrypted: "AAECAwQ="}, "Sent a message"},
	}
	for _, tc := range cases {
		if got := preview(tc.msg); got != tc.want {
			t.Fatalf("%s: want %q, got %q", tc.name, tc.want, got)
		}
	}
}

type failSink struct{ calls int }

func (s *failSink) Deliver(context.Context, models.Notification) error {
	s.calls++
	return context.DeadlineExceeded
}

func TestDispatchPropagatesSinkErrors(t *testing.T) {
	setupStore(t)
	c := seedChat(t, nil)
	m := seedMessage(t, c, "alice", models.Message{Content: "hi"})
	sink := &failSink{}
	d := NewDispatcher(presence.NewRegistry(), sink)

	e := &models.Effect{ID: "e1", Kind: models.EffectNotify, Chat: c.ID, Message: m.ID, TS: m.CreatedTS}
	if err := d.Dispatch(context.Background(), e); err == nil {
		t.Fatalf("sink failure should surface so the outbox retries")
	}
	if sink.calls != 1 {
		t.Fatalf("want 1 delivery attempt, got %d", sink.calls)
	}
}
