package reconcile

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// ErrQueueFull is returned by TryEnqueue when the outbox is at capacity.
var ErrQueueFull = errors.New("outbox full")

// Op is one pending submission: an optimistically-appended message
// awaiting confirmation. Payload holds the marshaled message and may be
// backed by a pooled buffer; consumers must call Item.Done() when
// finished.
type Op struct {
	Conv   string
	TempID string
	Payload []byte
	// EnqSeq is a monotonic enqueue sequence assigned on acceptance.
	EnqSeq uint64
}

// Item wraps an Op and owns its pooled buffer, if any. Done() must be
// called exactly once after processing.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

var opPool = sync.Pool{New: func() any { return &Op{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer bounds the largest buffer returned to the pool; bigger
// ones are dropped so resident memory stays bounded.
const maxPooledBuffer = 256 * 1024

// Done releases pooled resources back to their pools.
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
		if it.Op != nil {
			it.Op.Payload = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
		itemPool.Put(it)
	})
}

// Outbox is a bounded in-memory queue of pending submissions. Safe for
// concurrent producers; workers range over Out(). Enqueues racing a
// close are rejected with ErrQueueFull instead of hitting the closed
// channel.
type Outbox struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	enqSeq   uint64

	mu     sync.RWMutex
	closed bool
}

// NewOutbox creates a bounded Outbox (capacity must be > 0).
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Outbox{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the consumer side. Do not close it from callers.
func (o *Outbox) Out() <-chan *Item { return o.ch }

// TryEnqueue enqueues op without blocking, copying its payload into a
// pooled buffer. Returns ErrQueueFull when the outbox is at capacity or
// already closed.
func (o *Outbox) TryEnqueue(op *Op) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		atomic.AddUint64(&o.dropped, 1)
		return ErrQueueFull
	}

	newOp := opPool.Get().(*Op)
	*newOp = *op
	newOp.EnqSeq = atomic.AddUint64(&o.enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}

	it := itemPool.Get().(*Item)
	*it = Item{Op: newOp, buf: bb}

	select {
	case o.ch <- it:
		return nil
	default:
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		opPool.Put(newOp)
		atomic.AddUint64(&o.dropped, 1)
		return ErrQueueFull
	}
}

// CloseAndDrain closes the queue and releases any remaining items.
// Safe to call more than once; producers blocked in TryEnqueue finish
// before the channel closes.
func (o *Outbox) CloseAndDrain() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.ch)
	o.mu.Unlock()
	for it := range o.ch {
		it.Done()
	}
}

// Len returns the number of queued submissions.
func (o *Outbox) Len() int { return len(o.ch) }

// Cap returns the configured capacity.
func (o *Outbox) Cap() int { return o.capacity }

// Dropped returns how many submissions were rejected at capacity.
func (o *Outbox) Dropped() uint64 { return atomic.LoadUint64(&o.dropped) }
