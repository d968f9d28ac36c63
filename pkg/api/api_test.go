package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"wisdomchat/pkg/api/handlers"
	"wisdomchat/pkg/auth"
	"wisdomchat/pkg/chat"
	"wisdomchat/pkg/files"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/presence"
	"wisdomchat/pkg/realtime"
	"wisdomchat/pkg/store"
)

const testSecret = "api-test-secret"

// newTestServer wires the services the way the app does: auth middleware
// in front of the versioned router.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pres := presence.NewRegistry()
	fs, err := files.NewLocalStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("files store failed: %v", err)
	}
	deps := &handlers.Deps{
		Dir:       chat.NewDirectory(pres),
		Msgs:      chat.NewMessages(nil, 15*time.Minute, 0),
		Presence:  pres,
		Hub:       realtime.NewHub(),
		Files:     fs,
		WSOrigins: []string{"https://app.example.com"},
	}
	v, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("verifier failed: %v", err)
	}
	h := auth.AuthenticateRequestMiddleware(auth.SecConfig{RPS: 1000, Burst: 1000}, v)(NewRouter(deps))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, auth.Claims{UserID: user})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return s
}

// call issues a JSON request as the given user and decodes the response
// body into out when it is non-nil.
func call(t *testing.T, srv *httptest.Server, user, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token(t, user))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("%s %s: bad response body: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func openChat(t *testing.T, srv *httptest.Server, caller, partner string) models.Chat {
	t.Helper()
	var c models.Chat
	code := call(t, srv, caller, http.MethodPost, "/v1/chats", map[string]string{"participant": partner}, &c)
	if code != http.StatusCreated && code != http.StatusOK {
		t.Fatalf("open chat failed with %d", code)
	}
	return c
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/v1/chats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401 without token, got %d", resp.StatusCode)
	}
}

func TestChatLifecycle(t *testing.T) {
	srv := newTestServer(t)

	var c models.Chat
	if code := call(t, srv, "alice", http.MethodPost, "/v1/chats", map[string]string{"participant": "bob"}, &c); code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d", code)
	}
	// find-or-create: the partner opening the same pair gets a 200
	var again models.Chat
	if code := call(t, srv, "bob", http.MethodPost, "/v1/chats", map[string]string{"participant": "alice"}, &again); code != http.StatusOK {
		t.Fatalf("reopen: want 200, got %d", code)
	}
	if again.ID != c.ID {
		t.Fatalf("reopen returned a different chat")
	}
	if code := call(t, srv, "alice", http.MethodPost, "/v1/chats", map[string]string{"participant": "alice"}, nil); code != http.StatusBadRequest {
		t.Fatalf("self chat: want 400, got %d", code)
	}

	var listed struct {
		Chats []chat.ChatSummary `json:"chats"`
	}
	if code := call(t, srv, "alice", http.MethodGet, "/v1/chats", nil, &listed); code != http.StatusOK {
		t.Fatalf("list: want 200, got %d", code)
	}
	if len(listed.Chats) != 1 || listed.Chats[0].Partner != "bob" {
		t.Fatalf("list wrong: %+v", listed.Chats)
	}

	if code := call(t, srv, "bob", http.MethodPut, "/v1/chats/"+c.ID+"/mute", map[string]bool{"muted": true}, nil); code != http.StatusOK {
		t.Fatalf("mute: want 200, got %d", code)
	}

	if code := call(t, srv, "mallory", http.MethodDelete, "/v1/chats/"+c.ID, nil, nil); code != http.StatusForbidden {
		t.Fatalf("outsider close: want 403, got %d", code)
	}
	if code := call(t, srv, "alice", http.MethodDelete, "/v1/chats/"+c.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("close: want 200, got %d", code)
	}
	if code := call(t, srv, "alice", http.MethodDelete, "/v1/chats/"+c.ID, nil, nil); code != http.StatusConflict {
		t.Fatalf("double close: want 409, got %d", code)
	}
	if code := call(t, srv, "alice", http.MethodDelete, "/v1/chats/chat-missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown chat: want 404, got %d", code)
	}
}

func TestMessageFlow(t *testing.T) {
	srv := newTestServer(t)
	c := openChat(t, srv, "alice", "bob")

	var sent models.RenderedMessage
	if code := call(t, srv, "alice", http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		map[string]string{"content": "morning devotional?"}, &sent); code != http.StatusCreated {
		t.Fatalf("send: want 201, got %d", code)
	}
	if code := call(t, srv, "alice", http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		map[string]string{}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty send: want 400, got %d", code)
	}
	if code := call(t, srv, "mallory", http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		map[string]string{"content": "hi"}, nil); code != http.StatusForbidden {
		t.Fatalf("outsider send: want 403, got %d", code)
	}

	var listed struct {
		Messages []models.RenderedMessage `json:"messages"`
	}
	if code := call(t, srv, "bob", http.MethodGet, "/v1/chats/"+c.ID+"/messages", nil, &listed); code != http.StatusOK {
		t.Fatalf("list: want 200, got %d", code)
	}
	if len(listed.Messages) != 1 || listed.Messages[0].Content != "morning devotional?" {
		t.Fatalf("list wrong: %+v", listed.Messages)
	}

	// edit: sender only
	if code := call(t, srv, "bob", http.MethodPut, "/v1/messages/"+sent.ID,
		map[string]string{"content": "hijack"}, nil); code != http.StatusForbidden {
		t.Fatalf("partner edit: want 403, got %d", code)
	}
	var edited models.Message
	if code := call(t, srv, "alice", http.MethodPut, "/v1/messages/"+sent.ID,
		map[string]string{"content": "morning prayer?"}, &edited); code != http.StatusOK {
		t.Fatalf("edit: want 200, got %d", code)
	}
	if !edited.Edited || edited.Content != "morning prayer?" {
		t.Fatalf("edit not applied: %+v", edited)
	}

	// reactions toggle
	var reacted struct {
		Added   bool           `json:"added"`
		Message models.Message `json:"message"`
	}
	if code := call(t, srv, "bob", http.MethodPost, "/v1/messages/"+sent.ID+"/reactions",
		map[string]string{"emoji": "🙏"}, &reacted); code != http.StatusOK || !reacted.Added {
		t.Fatalf("react: want 200/added, got %d %v", code, reacted.Added)
	}
	if code := call(t, srv, "bob", http.MethodPost, "/v1/messages/"+sent.ID+"/reactions",
		map[string]string{"emoji": "🙏"}, &reacted); code != http.StatusOK || reacted.Added {
		t.Fatalf("re-react should toggle off, got %d %v", code, reacted.Added)
	}

	// pin round trip
	if code := call(t, srv, "bob", http.MethodPut, "/v1/chats/"+c.ID+"/messages/"+sent.ID+"/pin", nil, nil); code != http.StatusOK {
		t.Fatalf("pin: want 200, got %d", code)
	}
	listed.Messages = nil
	call(t, srv, "alice", http.MethodGet, "/v1/chats/"+c.ID+"/messages", nil, &listed)
	if len(listed.Messages) != 1 || !listed.Messages[0].Pinned {
		t.Fatalf("pinned flag not rendered: %+v", listed.Messages)
	}
	if code := call(t, srv, "bob", http.MethodDelete, "/v1/chats/"+c.ID+"/messages/"+sent.ID+"/pin", nil, nil); code != http.StatusOK {
		t.Fatalf("unpin: want 200, got %d", code)
	}

	// forward into a second chat
	c2 := openChat(t, srv, "alice", "carol")
	var fwd models.RenderedMessage
	if code := call(t, srv, "alice", http.MethodPost, "/v1/messages/"+sent.ID+"/forward",
		map[string]string{"chat": c2.ID}, &fwd); code != http.StatusCreated {
		t.Fatalf("forward: want 201, got %d", code)
	}
	if fwd.ForwardedFrom != sent.ID {
		t.Fatalf("forward provenance missing: %+v", fwd)
	}

	// search
	var found struct {
		Messages []models.RenderedMessage `json:"messages"`
	}
	if code := call(t, srv, "bob", http.MethodGet, "/v1/chats/"+c.ID+"/messages/search?q=PRAYER", nil, &found); code != http.StatusOK {
		t.Fatalf("search: want 200, got %d", code)
	}
	if len(found.Messages) != 1 {
		t.Fatalf("search should match case-insensitively: %+v", found.Messages)
	}
	if code := call(t, srv, "bob", http.MethodGet, "/v1/chats/"+c.ID+"/messages/search?q=", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("empty query: want 400, got %d", code)
	}

	// delete then pin conflicts
	if code := call(t, srv, "alice", http.MethodDelete, "/v1/messages/"+sent.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("delete: want 200, got %d", code)
	}
	if code := call(t, srv, "alice", http.MethodPut, "/v1/chats/"+c.ID+"/messages/"+sent.ID+"/pin", nil, nil); code != http.StatusConflict {
		t.Fatalf("pin deleted: want 409, got %d", code)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	srv := newTestServer(t)
	c := openChat(t, srv, "alice", "bob")

	var m1, m2 models.RenderedMessage
	call(t, srv, "bob", http.MethodPost, "/v1/chats/"+c.ID+"/messages", map[string]string{"content": "one"}, &m1)
	call(t, srv, "bob", http.MethodPost, "/v1/chats/"+c.ID+"/messages", map[string]string{"content": "two"}, &m2)

	if code := call(t, srv, "alice", http.MethodPut, "/v1/chats/"+c.ID+"/read",
		map[string]string{"message": m2.ID}, nil); code != http.StatusOK {
		t.Fatalf("mark read: want 200, got %d", code)
	}
	// cursor never moves backwards
	if code := call(t, srv, "alice", http.MethodPut, "/v1/chats/"+c.ID+"/read",
		map[string]string{"message": m1.ID}, nil); code != http.StatusConflict {
		t.Fatalf("backwards cursor: want 409, got %d", code)
	}

	var listed struct {
		Chats []chat.ChatSummary `json:"chats"`
	}
	call(t, srv, "alice", http.MethodGet, "/v1/chats", nil, &listed)
	if len(listed.Chats) != 1 || listed.Chats[0].Unread != 0 {
		t.Fatalf("unread should be 0 after reading: %+v", listed.Chats)
	}
}

func TestBlocksEndpoint(t *testing.T) {
	srv := newTestServer(t)
	c := openChat(t, srv, "alice", "bob")

	if code := call(t, srv, "alice", http.MethodPut, "/v1/blocks/bob", nil, nil); code != http.StatusNoContent {
		t.Fatalf("block: want 204, got %d", code)
	}
	var listed struct {
		Blocked []string `json:"blocked"`
	}
	if code := call(t, srv, "alice", http.MethodGet, "/v1/blocks", nil, &listed); code != http.StatusOK {
		t.Fatalf("list blocks: want 200, got %d", code)
	}
	if len(listed.Blocked) != 1 || listed.Blocked[0] != "bob" {
		t.Fatalf("block list wrong: %v", listed.Blocked)
	}
	if code := call(t, srv, "alice", http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		map[string]string{"content": "hi"}, nil); code != http.StatusForbidden {
		t.Fatalf("blocked send: want 403, got %d", code)
	}
	// sender-side only
	if code := call(t, srv, "bob", http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		map[string]string{"content": "hi"}, nil); code != http.StatusCreated {
		t.Fatalf("recipient-side send: want 201, got %d", code)
	}
	if code := call(t, srv, "alice", http.MethodDelete, "/v1/blocks/bob", nil, nil); code != http.StatusNoContent {
		t.Fatalf("unblock: want 204, got %d", code)
	}
	if code := call(t, srv, "alice", http.MethodPost, "/v1/chats/"+c.ID+"/messages",
		map[string]string{"content": "hi again"}, nil); code != http.StatusCreated {
		t.Fatalf("send after unblock: want 201, got %d", code)
	}
}

func TestFileUpload(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "sermon-notes.txt")
	if err != nil {
		t.Fatalf("form file failed: %v", err)
	}
	fmt.Fprint(fw, "notes from sunday")
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/files", &buf)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: want 201, got %d", resp.StatusCode)
	}
	var att models.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		t.Fatalf("bad upload response: %v", err)
	}
	if !strings.HasPrefix(att.URI, "/uploads/") || att.FileName != "sermon-notes.txt" {
		t.Fatalf("attachment record wrong: %+v", att)
	}
}

func dialWS(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + token(t, user)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial as %s failed: %v", user, err)
	}
	return conn
}

func TestWebSocketOriginCheck(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + token(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// a browser origin outside the configured list is refused at the
	// handshake, before any session exists
	hdr := http.Header{"Origin": []string{"https://evil.example"}}
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatalf("cross-origin upgrade should be rejected")
	}

	hdr = http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err = websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("configured origin rejected: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev realtime.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	return ev
}

func TestWebSocketTypingAndPresence(t *testing.T) {
	srv := newTestServer(t)
	c := openChat(t, srv, "alice", "bob")

	bob := dialWS(t, srv, "bob")
	defer bob.Close(websocket.StatusNormalClosure, "done")
	ctx := context.Background()
	if err := wsjson.Write(ctx, bob, map[string]string{"type": "joinChat", "chat": c.ID}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	// ping/pong proves the join frame was consumed before alice connects
	if err := wsjson.Write(ctx, bob, map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if ev := readEvent(t, bob); ev.Type != realtime.EventPong {
		t.Fatalf("want pong, got %q", ev.Type)
	}

	alice := dialWS(t, srv, "alice")
	defer alice.Close(websocket.StatusNormalClosure, "done")

	// bob is alice's partner, so her arrival reaches him
	ev := readEvent(t, bob)
	if ev.Type != realtime.EventUserOnlineStatus {
		t.Fatalf("want %s, got %q", realtime.EventUserOnlineStatus, ev.Type)
	}
	data, ok := ev.Data.(map[string]any)
	if !ok || data["user"] != "alice" || data["online"] != true {
		t.Fatalf("presence payload wrong: %+v", ev.Data)
	}

	// typing indicators reach the room but never echo to the sender
	if err := wsjson.Write(ctx, alice, map[string]string{"type": "joinChat", "chat": c.ID}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := wsjson.Write(ctx, alice, map[string]string{"type": "typing", "chat": c.ID}); err != nil {
		t.Fatalf("typing failed: %v", err)
	}
	ev = readEvent(t, bob)
	if ev.Type != realtime.EventTyping {
		t.Fatalf("want typing, got %q", ev.Type)
	}
	data, _ = ev.Data.(map[string]any)
	if data["user"] != "alice" || data["chat"] != c.ID {
		t.Fatalf("typing payload wrong: %+v", ev.Data)
	}
}
