// Package delivery pushes freshly appended messages to connected
// recipients. Delivery is best-effort: a full queue or an empty room
// never fails the send that triggered it.
package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"converse/pkg/logger"
	"converse/pkg/telemetry"
)

// Notice is a lightweight in-memory fanout order for one message.
// Payload may be backed by a pooled ByteBuffer; consumers must call
// Item.Done() when finished.
type Notice struct {
	Conversation string
	Message      string
	Recipients   []string
	// Payload holds the pre-encoded frame for the message (may be nil,
	// in which case workers encode from the store).
	Payload []byte
	// EnqSeq is a monotonic enqueue sequence assigned when the notice
	// is accepted into the queue.
	EnqSeq uint64
}

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("delivery queue full")

// Item wraps a Notice and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing the item.
type Item struct {
	Notice *Notice

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				// drop the buffer so GC can reclaim the underlying array
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Notice != nil {
			it.Notice.Payload = nil
			it.Notice.Recipients = nil
			noticePool.Put(it.Notice)
			it.Notice = nil
		}
		itemPool.Put(it)
	})
}

var noticePool = sync.Pool{New: func() any { return &Notice{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer controls the largest buffer returned to the pool.
// Larger buffers are dropped to avoid unbounded resident memory.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// SetMaxPooledBuffer overrides the pooled buffer cap (startup only).
func SetMaxPooledBuffer(n int) {
	if n > 0 {
		maxPooledBuffer = n
	}
}

// Queue is a bounded in-memory fanout queue. It is safe for concurrent
// producers; workers consume via RunWorker.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	enqSeq   uint64
}

// NewQueue creates a bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

func (q *Queue) wrap(n *Notice) *Item {
	newN := noticePool.Get().(*Notice)
	*newN = *n
	if n.Recipients != nil {
		newN.Recipients = append([]string(nil), n.Recipients...)
	}
	newN.EnqSeq = atomic.AddUint64(&q.enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(n.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], n.Payload...)
		newN.Payload = bb.B[:len(n.Payload)]
	}
	it := itemPool.Get().(*Item)
	*it = Item{Notice: newN, buf: bb}
	return it
}

func (q *Queue) release(it *Item) {
	if it.buf != nil {
		bytebufferpool.Put(it.buf)
	}
	noticePool.Put(it.Notice)
	itemPool.Put(it)
	atomic.AddUint64(&q.dropped, 1)
}

// TryEnqueue enqueues a notice without blocking. If the queue is full
// ErrQueueFull is returned and the notice is dropped.
func (q *Queue) TryEnqueue(n *Notice) error {
	it := q.wrap(n)
	select {
	case q.ch <- it:
		return nil
	default:
		q.release(it)
		return ErrQueueFull
	}
}

// Enqueue blocks until space is available or the context is done.
func (q *Queue) Enqueue(ctx context.Context, n *Notice) error {
	it := q.wrap(n)
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		q.release(it)
		return ctx.Err()
	}
}

// Notify implements the engine notifier contract: a fire-and-forget
// enqueue used on the send path. Drops are counted, never surfaced.
func (q *Queue) Notify(conversationID, messageID string, recipients []string) {
	err := q.TryEnqueue(&Notice{
		Conversation: conversationID,
		Message:      messageID,
		Recipients:   recipients,
	})
	if err != nil {
		telemetry.DeliveryDropped.Inc()
		logger.Warn("delivery_notice_dropped",
			zap.String("conversation", conversationID),
			zap.String("message", messageID),
			zap.Int("queue_len", q.Len()),
		)
	}
}

// RunWorker runs a worker loop invoking handler for each dequeued
// notice. Item.Done() is guaranteed even when handler errors. The
// worker exits when stop is closed or the queue is closed.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Notice) error) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			func(it *Item) {
				defer it.Done()
				_ = handler(it.Notice)
			}(it)
		case <-stop:
			return
		}
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

// Len returns the current number of queued notices.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of notices dropped due to a full queue or
// context cancellation during enqueue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
