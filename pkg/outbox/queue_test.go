package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisdomchat/pkg/models"
	"wisdomchat/pkg/store"
)

func setupStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

// appendWithEffects persists a throwaway message so the effects get
// durable outbox keys, mirroring the send path.
func appendWithEffects(t *testing.T, effects []models.Effect) []models.Effect {
	t.Helper()
	m := models.Message{ID: "msg-test", Chat: "chat-test", Sender: "alice", Content: "x", CreatedTS: time.Now().UTC().UnixNano()}
	if err := store.AppendMessage(m, effects); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	return effects
}

func TestTryEnqueueFullQueue(t *testing.T) {
	q := NewQueue(2)
	e := models.Effect{ID: "e", Kind: models.EffectFanout, TS: 1, Payload: []byte(`{"type":"x"}`)}

	if err := q.TryEnqueue(e); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := q.TryEnqueue(e); err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if err := q.TryEnqueue(e); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if q.Len() != 2 || q.Dropped() != 1 {
		t.Fatalf("len=%d dropped=%d, want 2/1", q.Len(), q.Dropped())
	}
	q.CloseAndDrain()
}

func TestItemPayloadCopied(t *testing.T) {
	q := NewQueue(1)
	payload := []byte(`{"type":"newMessage"}`)
	e := models.Effect{ID: "e", Kind: models.EffectFanout, TS: 1, Payload: payload}
	if err := q.TryEnqueue(e); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	// mutating the caller's slice must not reach the queued copy
	payload[2] = 'X'
	it := <-q.Out()
	if string(it.Effect.Payload) != `{"type":"newMessage"}` {
		t.Fatalf("payload aliased caller memory: %s", it.Effect.Payload)
	}
	it.Done()
}

func TestProcessorCompletesEffects(t *testing.T) {
	setupStore(t)
	q := NewQueue(8)
	p := NewProcessor(q)

	var handled []string
	p.RegisterHandler(models.EffectNotify, func(ctx context.Context, e *models.Effect) error {
		handled = append(handled, e.ID)
		return nil
	})

	appendWithEffects(t, []models.Effect{
		{ID: "e1", Kind: models.EffectNotify, Chat: "chat-test", TS: 1},
		{ID: "e2", Kind: models.EffectNotify, Chat: "chat-test", TS: 2},
	})
	if err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("process pending failed: %v", err)
	}
	if len(handled) != 2 {
		t.Fatalf("want 2 handled, got %v", handled)
	}
	left, err := store.PendingEffects()
	if err != nil {
		t.Fatalf("pending scan failed: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("completed effects not deleted: %d left", len(left))
	}
}

func TestProcessorRetriesOnError(t *testing.T) {
	setupStore(t)
	q := NewQueue(8)
	p := NewProcessor(q)

	fail := true
	p.RegisterHandler(models.EffectNotify, func(ctx context.Context, e *models.Effect) error {
		if fail {
			return errors.New("sink unavailable")
		}
		return nil
	})

	appendWithEffects(t, []models.Effect{{ID: "e1", Kind: models.EffectNotify, Chat: "chat-test", TS: 1}})
	if err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("process pending failed: %v", err)
	}
	left, err := store.PendingEffects()
	if err != nil {
		t.Fatalf("pending scan failed: %v", err)
	}
	if len(left) != 1 || left[0].Attempts != 1 {
		t.Fatalf("failed effect should stay pending with attempts=1: %+v", left)
	}

	fail = false
	if err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	left, _ = store.PendingEffects()
	if len(left) != 0 {
		t.Fatalf("retried effect not completed: %d left", len(left))
	}
}

func TestProcessorDropsUnknownKinds(t *testing.T) {
	setupStore(t)
	q := NewQueue(8)
	p := NewProcessor(q)

	appendWithEffects(t, []models.Effect{{ID: "e1", Kind: "telegraph", Chat: "chat-test", TS: 1}})
	if err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("process pending failed: %v", err)
	}
	left, _ := store.PendingEffects()
	if len(left) != 0 {
		t.Fatalf("unknown-kind effect should be discarded, %d left", len(left))
	}
}

func TestProcessorRunDrainsQueue(t *testing.T) {
	setupStore(t)
	q := NewQueue(8)
	p := NewProcessor(q)

	done := make(chan string, 1)
	p.RegisterHandler(models.EffectFanout, func(ctx context.Context, e *models.Effect) error {
		done <- e.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	effects := appendWithEffects(t, []models.Effect{{ID: "e1", Kind: models.EffectFanout, Chat: "chat-test", TS: 1}})
	if err := q.TryEnqueue(effects[0]); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	select {
	case id := <-done:
		if id != "e1" {
			t.Fatalf("wrong effect handled: %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never drained the queue")
	}
}

func TestRedriveOnceRespectsMinAge(t *testing.T) {
	setupStore(t)
	q := NewQueue(8)

	old := time.Now().UTC().Add(-time.Minute).UnixNano()
	fresh := time.Now().UTC().UnixNano()
	appendWithEffects(t, []models.Effect{
		{ID: "stale", Kind: models.EffectNotify, Chat: "chat-test", TS: old},
		{ID: "fresh", Kind: models.EffectNotify, Chat: "chat-test", TS: fresh},
	})

	n, err := RedriveOnce(30*time.Second, q)
	if err != nil {
		t.Fatalf("redrive failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 requeued (stale only), got %d", n)
	}
	it := <-q.Out()
	if it.Effect.ID != "stale" {
		t.Fatalf("wrong effect requeued: %s", it.Effect.ID)
	}
	it.Done()
}
