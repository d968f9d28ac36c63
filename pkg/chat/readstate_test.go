package chat

import (
	"errors"
	"testing"

	"wisdomchat/pkg/store"
)

func TestMarkReadAdvancesCursor(t *testing.T) {
	setupStore(t)
	c := openPair(t, "alice", "bob")
	m := NewMessages(nil, 0, 0)

	m1, err := m.Send("bob", c.ID, SendInput{Content: "one"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	m2, err := m.Send("bob", c.ID, SendInput{Content: "two"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	cur, err := store.GetChat(c.ID)
	if err != nil {
		t.Fatalf("get chat failed: %v", err)
	}
	n, err := UnreadCount(cur, "alice")
	if err != nil || n != 2 {
		t.Fatalf("want 2 unread before marking, got %d (%v)", n, err)
	}

	after, err := MarkRead("alice", c.ID, m1.ID)
	if err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if after.Settings["alice"].LastRead != m1.ID {
		t.Fatalf("cursor not recorded: %+v", after.Settings["alice"])
	}
	n, err = UnreadCount(after, "alice")
	if err != nil || n != 1 {
		t.Fatalf("want 1 unread after partial mark, got %d (%v)", n, err)
	}

	after, err = MarkRead("alice", c.ID, m2.ID)
	if err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	n, err = UnreadCount(after, "alice")
	if err != nil || n != 0 {
		t.Fatalf("want 0 unread after full mark, got %d (%v)", n, err)
	}

	// the cursor message carries a receipt
	read, err := store.GetMessage(m2.ID)
	if err != nil {
		t.Fatalf("get message failed: %v", err)
	}
	if len(read.ReadBy) != 1 || read.ReadBy[0].User != "alice" {
		t.Fatalf("read receipt missing: %+v", read.ReadBy)
	}
}

func TestMarkReadIsMonotonic(t *testing.T) {
	setupStore(t)
	c := openPair(t, "alice", "bob")
	m := NewMessages(nil, 0, 0)

	m1, err := m.Send("bob", c.ID, SendInput{Content: "one"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	m2, err := m.Send("bob", c.ID, SendInput{Content: "two"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := MarkRead("alice", c.ID, m2.ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	// pointing the cursor at an older message is rejected
	if _, err := MarkRead("alice", c.ID, m1.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("backwards cursor: want invalid state, got %v", err)
	}
	// re-marking the same message is allowed
	if _, err := MarkRead("alice", c.ID, m2.ID); err != nil {
		t.Fatalf("re-mark failed: %v", err)
	}
}

func TestMarkReadStampsCoveredMessages(t *testing.T) {
	setupStore(t)
	c := openPair(t, "alice", "bob")
	m := NewMessages(nil, 0, 0)

	m1, err := m.Send("bob", c.ID, SendInput{Content: "one"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	mine, err := m.Send("alice", c.ID, SendInput{Content: "mine"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	m2, err := m.Send("bob", c.ID, SendInput{Content: "two"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// one mark at the newest message stamps every unread partner message
	if _, err := MarkRead("alice", c.ID, m2.ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	for _, id := range []string{m1.ID, m2.ID} {
		got, err := store.GetMessage(id)
		if err != nil {
			t.Fatalf("get message failed: %v", err)
		}
		if len(got.ReadBy) != 1 || got.ReadBy[0].User != "alice" {
			t.Fatalf("message %s missing alice's receipt: %+v", id, got.ReadBy)
		}
	}
	own, err := store.GetMessage(mine.ID)
	if err != nil {
		t.Fatalf("get message failed: %v", err)
	}
	if len(own.ReadBy) != 0 {
		t.Fatalf("own message should not carry a self receipt: %+v", own.ReadBy)
	}

	// re-marking does not duplicate receipts
	if _, err := MarkRead("alice", c.ID, m2.ID); err != nil {
		t.Fatalf("re-mark failed: %v", err)
	}
	got, err := store.GetMessage(m2.ID)
	if err != nil {
		t.Fatalf("get message failed: %v", err)
	}
	if len(got.ReadBy) != 1 {
		t.Fatalf("receipt duplicated on re-mark: %+v", got.ReadBy)
	}
}

func TestMarkReadValidation(t *testing.T) {
	setupStore(t)
	c1 := openPair(t, "alice", "bob")
	c2 := openPair(t, "alice", "carol")
	m := NewMessages(nil, 0, 0)

	sent, err := m.Send("bob", c1.ID, SendInput{Content: "hi"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := MarkRead("alice", c1.ID, "msg-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown message: want not found, got %v", err)
	}
	if _, err := MarkRead("alice", c2.ID, sent.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("cross-chat cursor: want validation error, got %v", err)
	}
	if _, err := MarkRead("mallory", c1.ID, sent.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider cursor: want forbidden, got %v", err)
	}
}

func TestUnreadSkipsOwnAndDeleted(t *testing.T) {
	setupStore(t)
	c := openPair(t, "alice", "bob")
	m := NewMessages(nil, 0, 0)

	if _, err := m.Send("alice", c.ID, SendInput{Content: "mine"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	theirs, err := m.Send("bob", c.ID, SendInput{Content: "theirs"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	gone, err := m.Send("bob", c.ID, SendInput{Content: "gone"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := m.Delete("bob", gone.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	cur, err := store.GetChat(c.ID)
	if err != nil {
		t.Fatalf("get chat failed: %v", err)
	}
	n, err := UnreadCount(cur, "alice")
	if err != nil || n != 1 {
		t.Fatalf("want 1 unread (only %q), got %d (%v)", theirs.Content, n, err)
	}
}
