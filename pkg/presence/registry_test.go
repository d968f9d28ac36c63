package presence

import (
	"testing"

	"wisdomchat/pkg/store"
)

func setupStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func TestConnectDisconnectTransitions(t *testing.T) {
	setupStore(t)
	r := NewRegistry()

	first, err := r.Connect("alice", "s1")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !first {
		t.Fatalf("first session should report the online transition")
	}
	if !r.Online("alice") || r.Sessions("alice") != 1 {
		t.Fatalf("registry state wrong after connect")
	}
	st, err := store.GetUserState("alice")
	if err != nil || !st.Online || st.LastActiveTS == 0 {
		t.Fatalf("persisted state not updated: %+v (%v)", st, err)
	}

	// second tab: no transition
	first, err = r.Connect("alice", "s2")
	if err != nil || first {
		t.Fatalf("second session should not report a transition: first=%v err=%v", first, err)
	}

	last, err := r.Disconnect("alice", "s1")
	if err != nil || last {
		t.Fatalf("closing one of two sessions is not the offline transition: last=%v err=%v", last, err)
	}
	if !r.Online("alice") {
		t.Fatalf("user went offline with a session still open")
	}

	last, err = r.Disconnect("alice", "s2")
	if err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if !last {
		t.Fatalf("closing the last session should report the offline transition")
	}
	if r.Online("alice") || r.Sessions("alice") != 0 {
		t.Fatalf("registry state wrong after last disconnect")
	}
	st, err = store.GetUserState("alice")
	if err != nil || st.Online {
		t.Fatalf("persisted state still online: %+v (%v)", st, err)
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	setupStore(t)
	r := NewRegistry()

	if _, err := r.Connect("alice", "s1"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := r.Disconnect("alice", "s1"); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	// a fresh registry has no memory of the session, but last-active
	// comes from the store
	r2 := NewRegistry()
	online, lastActive := r2.Snapshot("alice")
	if online {
		t.Fatalf("fresh registry should report offline")
	}
	if lastActive == 0 {
		t.Fatalf("last-active should persist across restarts")
	}
}

func TestTouchRefreshesLastActive(t *testing.T) {
	setupStore(t)
	r := NewRegistry()

	if _, err := r.Connect("alice", "s1"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	before, err := store.GetUserState("alice")
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if err := r.Touch("alice"); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	after, err := store.GetUserState("alice")
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if after.LastActiveTS < before.LastActiveTS {
		t.Fatalf("touch moved last-active backwards")
	}
}

func TestOnlineUnknownUser(t *testing.T) {
	setupStore(t)
	r := NewRegistry()
	if r.Online("stranger") {
		t.Fatalf("unknown user should be offline")
	}
	if online, _ := r.Snapshot("stranger"); online {
		t.Fatalf("snapshot of unknown user should be offline")
	}
}
