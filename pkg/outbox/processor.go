package outbox

import (
	"context"
	"fmt"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/models"
	"wisdomchat/pkg/store"
	"wisdomchat/pkg/telemetry"
)

// Handler processes one pending effect. A nil error completes the
// effect and deletes its record; an error leaves the record in place
// with an incremented attempt count for redrive to retry.
type Handler func(ctx context.Context, e *models.Effect) error

// Processor drains the nudge queue and dispatches effects to the
// handler registered for their kind.
type Processor struct {
	q        *Queue
	handlers map[string]Handler
}

func NewProcessor(q *Queue) *Processor {
	return &Processor{q: q, handlers: map[string]Handler{}}
}

// RegisterHandler wires a handler for an effect kind. Registration
// happens at startup, before Run; it is not safe concurrently with it.
func (p *Processor) RegisterHandler(kind string, h Handler) {
	p.handlers[kind] = h
}

// Run drains the queue until ctx is canceled or the queue is closed.
// A single drain goroutine preserves the enqueue order of effects.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case it, ok := <-p.q.Out():
			if !ok {
				return
			}
			telemetry.OutboxDepth.Set(float64(p.q.Len()))
			p.process(ctx, it)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) process(ctx context.Context, it *Item) {
	defer it.Done()
	e := it.Effect
	h, ok := p.handlers[e.Kind]
	if !ok {
		logger.Warn("outbox_unknown_effect_kind", "kind", e.Kind, "key", e.Key)
		_ = store.DeleteEffect(e.Key)
		return
	}
	if err := h(ctx, e); err != nil {
		logger.Warn("outbox_effect_failed", "kind", e.Kind, "key", e.Key, "attempts", e.Attempts+1, "error", err)
		e.Attempts++
		if serr := store.SaveEffect(*e); serr != nil {
			logger.Error("outbox_effect_save_failed", "key", e.Key, "error", serr)
		}
		telemetry.OutboxRetries.Inc()
		return
	}
	if err := store.DeleteEffect(e.Key); err != nil {
		logger.Error("outbox_effect_delete_failed", "key", e.Key, "error", err)
		return
	}
	telemetry.OutboxCompleted.Inc()
}

// ProcessPending loads every durable pending effect and runs it through
// the registered handlers synchronously. Used at startup to clear
// leftovers from a previous run, and by redrive.
func (p *Processor) ProcessPending(ctx context.Context) error {
	effects, err := store.PendingEffects()
	if err != nil {
		return fmt.Errorf("load pending effects: %w", err)
	}
	for i := range effects {
		e := effects[i]
		it := p.q.newItem(e)
		p.process(ctx, it)
	}
	return nil
}
