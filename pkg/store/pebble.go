package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = pebble.ErrNotFound

// seq is a small counter to keep index keys unique when multiple writes
// share the same nanosecond timestamp.
var seq uint64

// locks serializes read-modify-write cycles per document key. There is
// no global lock; unrelated documents update concurrently.
var locks striped

type striped struct {
	mu [64]sync.Mutex
}

func (s *striped) of(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.mu[h.Sum32()%64]
}

// Key namespaces. All timestamps are UTC UnixNano, zero-padded so byte
// order matches chronological order.
func chatMetaKey(chatID string) string { return "chat:" + chatID + ":meta" }
func chatMsgKey(chatID string, ts int64, s uint64) string {
	return fmt.Sprintf("chat:%s:msg:%020d-%06d", chatID, ts, s%1000000)
}
func msgKey(msgID string) string { return "msg:" + msgID }
func versionKey(msgID string, ts int64, s uint64) string {
	return fmt.Sprintf("version:msg:%s:%020d-%06d", msgID, ts, s%1000000)
}
func memberKey(userID, chatID string) string { return "user:" + userID + ":chat:" + chatID }
func stateKey(userID string) string          { return "user:" + userID + ":state" }
func outboxKey(ts int64, s uint64) string {
	return fmt.Sprintf("outbox:%020d-%06d", ts, s%1000000)
}
func notifyKey(userID string, ts int64, s uint64) string {
	return fmt.Sprintf("notify:%s:%020d-%06d", userID, ts, s%1000000)
}

// PairKey returns the unique active-pair index key for two participants,
// independent of argument order.
func PairKey(a, b string) string {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	return "chatpair:" + lo + "|" + hi
}

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func get(key string) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

func set(key string, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set([]byte(key), value, pebble.Sync)
}

// GetChat loads a chat by id.
func GetChat(chatID string) (models.Chat, error) {
	var c models.Chat
	b, err := get(chatMetaKey(chatID))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("invalid chat metadata: %w", err)
	}
	return c, nil
}

// SaveChat writes chat metadata and the membership index entries for its
// participants in one batch.
func SaveChat(c models.Chat) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(chatMetaKey(c.ID)), data, nil); err != nil {
		return err
	}
	for _, p := range c.Participants {
		if err := b.Set([]byte(memberKey(p, c.ID)), []byte(c.ID), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("save_chat_failed", "chat", c.ID, "error", err)
		return err
	}
	return nil
}

// CreateChatForPair creates the chat unless an active chat already exists
// for the participant pair. The pair index is read and written under the
// pair's key lock so concurrent creates for one pair yield exactly one
// active chat. Returns the surviving chat and whether it was created.
func CreateChatForPair(c models.Chat) (models.Chat, bool, error) {
	if db == nil {
		return c, false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if len(c.Participants) != 2 {
		return c, false, fmt.Errorf("direct chat requires exactly two participants")
	}
	pk := PairKey(c.Participants[0], c.Participants[1])
	mu := locks.of(pk)
	mu.Lock()
	defer mu.Unlock()

	if v, err := get(pk); err == nil {
		existing, gerr := GetChat(string(v))
		if gerr == nil && existing.Active {
			return existing, false, nil
		}
		// closed chat: fall through and bind the pair to a fresh one
	} else if err != ErrNotFound {
		return c, false, err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return c, false, fmt.Errorf("failed to marshal chat: %w", err)
	}
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(chatMetaKey(c.ID)), data, nil); err != nil {
		return c, false, err
	}
	if err := b.Set([]byte(pk), []byte(c.ID), nil); err != nil {
		return c, false, err
	}
	for _, p := range c.Participants {
		if err := b.Set([]byte(memberKey(p, c.ID)), []byte(c.ID), nil); err != nil {
			return c, false, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("create_chat_failed", "chat", c.ID, "error", err)
		return c, false, err
	}
	logger.Info("chat_created", "chat", c.ID)
	return c, true, nil
}

// UpdateChat applies fn to the stored chat under its key lock and writes
// the result back. fn errors abort the update untouched.
func UpdateChat(chatID string, fn func(*models.Chat) error) (models.Chat, error) {
	mu := locks.of(chatMetaKey(chatID))
	mu.Lock()
	defer mu.Unlock()

	c, err := GetChat(chatID)
	if err != nil {
		return c, err
	}
	if err := fn(&c); err != nil {
		return c, err
	}
	data, merr := json.Marshal(c)
	if merr != nil {
		return c, fmt.Errorf("failed to marshal chat: %w", merr)
	}
	if err := set(chatMetaKey(chatID), data); err != nil {
		logger.Error("update_chat_failed", "chat", chatID, "error", err)
		return c, err
	}
	return c, nil
}

// AppendMessage commits a new message together with its pending side
// effect records in a single batch: the latest-value key, the per-chat
// ordering index, the first version entry and one outbox key per effect.
// The effects slice is updated in place with assigned storage keys.
func AppendMessage(msg models.Message, effects []models.Effect) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ts := msg.CreatedTS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	s := atomic.AddUint64(&seq, 1)

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(msgKey(msg.ID)), data, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(chatMsgKey(msg.Chat, ts, s)), []byte(msg.ID), nil); err != nil {
		return err
	}
	if err := b.Set([]byte(versionKey(msg.ID, ts, s)), data, nil); err != nil {
		return err
	}
	for i := range effects {
		es := atomic.AddUint64(&seq, 1)
		key := outboxKey(ts, es)
		effects[i].Key = key
		eb, merr := json.Marshal(effects[i])
		if merr != nil {
			return fmt.Errorf("failed to marshal effect: %w", merr)
		}
		if err := b.Set([]byte(key), eb, nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("append_message_failed", "chat", msg.Chat, "msg", msg.ID, "error", err)
		return err
	}
	logger.Debug("message_appended", "chat", msg.Chat, "msg", msg.ID, "effects", len(effects))
	return nil
}

// GetMessage loads the latest version of a message by id.
func GetMessage(msgID string) (models.Message, error) {
	var m models.Message
	b, err := get(msgKey(msgID))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// UpdateMessage applies fn to the stored message under its key lock,
// writes the new latest value and appends a version entry.
func UpdateMessage(msgID string, fn func(*models.Message) error) (models.Message, error) {
	mu := locks.of(msgKey(msgID))
	mu.Lock()
	defer mu.Unlock()

	m, err := GetMessage(msgID)
	if err != nil {
		return m, err
	}
	if err := fn(&m); err != nil {
		return m, err
	}
	data, merr := json.Marshal(m)
	if merr != nil {
		return m, fmt.Errorf("failed to marshal message: %w", merr)
	}
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(msgKey(msgID)), data, nil); err != nil {
		return m, err
	}
	if err := b.Set([]byte(versionKey(msgID, ts, s)), data, nil); err != nil {
		return m, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("update_message_failed", "msg", msgID, "error", err)
		return m, err
	}
	return m, nil
}

// ListMessageVersions returns all stored versions for a message id in
// chronological order.
func ListMessageVersions(msgID string) ([]models.Message, error) {
	prefix := []byte("version:msg:" + msgID + ":")
	var out []models.Message
	err := scan(prefix, func(k, v []byte) error {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("invalid message JSON: %w", err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// ChatMessageIDs returns the message ids of a chat in insertion order.
func ChatMessageIDs(chatID string) ([]string, error) {
	prefix := []byte("chat:" + chatID + ":msg:")
	var out []string
	err := scan(prefix, func(k, v []byte) error {
		out = append(out, string(v))
		return nil
	})
	return out, err
}

// UserChatIDs returns the ids of all chats the user is a member of.
func UserChatIDs(userID string) ([]string, error) {
	prefix := []byte("user:" + userID + ":chat:")
	var out []string
	err := scan(prefix, func(k, v []byte) error {
		out = append(out, string(v))
		return nil
	})
	return out, err
}

// GetUserState loads a user's state record. Missing users get a zero
// state with the id filled in; callers never see ErrNotFound here.
func GetUserState(userID string) (models.UserState, error) {
	st := models.UserState{ID: userID}
	b, err := get(stateKey(userID))
	if err != nil {
		if err == ErrNotFound {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("invalid user state: %w", err)
	}
	return st, nil
}

// UpdateUserState applies fn to the user's state under its key lock,
// creating the record when missing.
func UpdateUserState(userID string, fn func(*models.UserState) error) (models.UserState, error) {
	mu := locks.of(stateKey(userID))
	mu.Lock()
	defer mu.Unlock()

	st, err := GetUserState(userID)
	if err != nil {
		return st, err
	}
	if err := fn(&st); err != nil {
		return st, err
	}
	data, merr := json.Marshal(st)
	if merr != nil {
		return st, fmt.Errorf("failed to marshal user state: %w", merr)
	}
	if err := set(stateKey(userID), data); err != nil {
		logger.Error("update_user_state_failed", "user", userID, "error", err)
		return st, err
	}
	return st, nil
}

// SaveEffect rewrites a pending effect in place (attempt bookkeeping).
func SaveEffect(e models.Effect) error {
	if e.Key == "" {
		return fmt.Errorf("effect has no storage key")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal effect: %w", err)
	}
	return set(e.Key, data)
}

// DeleteEffect removes a completed effect record.
func DeleteEffect(key string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// PendingEffects returns all outstanding outbox records in enqueue order.
func PendingEffects() ([]models.Effect, error) {
	prefix := []byte("outbox:")
	var out []models.Effect
	err := scan(prefix, func(k, v []byte) error {
		var e models.Effect
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("invalid effect JSON: %w", err)
		}
		e.Key = string(k)
		out = append(out, e)
		return nil
	})
	return out, err
}

// SaveNotification appends a notification record to the recipient's
// store-backed queue.
func SaveNotification(n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	ts := n.CreatedTS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	s := atomic.AddUint64(&seq, 1)
	return set(notifyKey(n.Recipient, ts, s), data)
}

// ListNotifications returns a recipient's notification records, newest
// last.
func ListNotifications(userID string) ([]models.Notification, error) {
	prefix := []byte("notify:" + userID + ":")
	var out []models.Notification
	err := scan(prefix, func(k, v []byte) error {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("invalid notification JSON: %w", err)
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

// ListKeys returns all keys (as strings) that start with the given prefix.
func ListKeys(prefix string) ([]string, error) {
	var out []string
	err := scan([]byte(prefix), func(k, v []byte) error {
		out = append(out, string(k))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// scan iterates all keys under prefix, handing each key/value copy to fn.
func scan(prefix []byte, fn func(k, v []byte) error) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return iter.Error()
}
