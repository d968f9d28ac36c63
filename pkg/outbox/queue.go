package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"wisdomchat/pkg/models"
	"wisdomchat/pkg/telemetry"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
// A full queue is not a lost effect: the record is already durable and
// the redrive scan will pick it up.
var ErrQueueFull = errors.New("outbox queue full")

// Item wraps a pending effect and owns a pooled ByteBuffer if one was
// used for the payload. Consumers MUST call Done() exactly once after
// processing the item to return pooled resources.
type Item struct {
	Effect *models.Effect

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

var effectPool = sync.Pool{New: func() any { return &models.Effect{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer controls the largest buffer size that will be returned
// to the pooled ByteBuffer. Larger buffers are dropped so resident
// memory stays bounded.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// SetMaxPooledBuffer overrides the pooled buffer cap (startup only).
func SetMaxPooledBuffer(n int) {
	if n > 0 {
		maxPooledBuffer = n
	}
}

// Done releases internal pooled resources back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Effect != nil {
			it.Effect.Payload = nil
			effectPool.Put(it.Effect)
			it.Effect = nil
		}
		itemPool.Put(it)
	})
}

// Queue is the bounded in-memory nudge channel between the primary
// write and the effect worker. Effects are durable before they are
// enqueued here, so drops only delay processing until redrive.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
}

// NewQueue creates a bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns a read-only channel that the worker ranges over. Do not
// close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) newItem(e models.Effect) *Item {
	ne := effectPool.Get().(*models.Effect)
	*ne = e
	var bb *bytebufferpool.ByteBuffer
	if len(e.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], e.Payload...)
		ne.Payload = bb.B[:len(e.Payload)]
	}
	it := itemPool.Get().(*Item)
	*it = Item{Effect: ne, buf: bb}
	return it
}

func (q *Queue) release(it *Item) {
	if it.buf != nil {
		bytebufferpool.Put(it.buf)
	}
	it.Effect.Payload = nil
	effectPool.Put(it.Effect)
	it.Effect = nil
	itemPool.Put(it)
}

// TryEnqueue attempts to enqueue the effect, copying its payload into a
// pooled buffer. Returns ErrQueueFull when the queue is at capacity.
func (q *Queue) TryEnqueue(e models.Effect) error {
	it := q.newItem(e)
	select {
	case q.ch <- it:
		telemetry.OutboxDepth.Set(float64(len(q.ch)))
		return nil
	default:
		q.release(it)
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// Enqueue blocks until space is available or the context is done.
func (q *Queue) Enqueue(ctx context.Context, e models.Effect) error {
	it := q.newItem(e)
	select {
	case q.ch <- it:
		telemetry.OutboxDepth.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		q.release(it)
		atomic.AddUint64(&q.dropped, 1)
		return ctx.Err()
	}
}

// CloseAndDrain closes the queue channel and drains remaining items,
// ensuring their resources are released.
func (q *Queue) CloseAndDrain() {
	close(q.ch)
	for it := range q.ch {
		it.Done()
	}
}

// Len returns the current number of items in the queue.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity of the queue.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of nudges dropped due to a full queue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
