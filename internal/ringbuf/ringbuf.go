// Package ringbuf provides a lock-free, single-producer single-consumer (SPSC)
// ring buffer for model.Bar. It sits between the market data feed's read loop
// and the trader so a slow bar consumer never blocks the WebSocket reader.
package ringbuf

import (
	"sync/atomic"

	"perpbot/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC bar queue. Exactly one goroutine may Push and
// exactly one may Pop. Capacity is a power of two so index wrapping is a
// single mask.
type Ring struct {
	buf  []model.Bar
	mask uint64

	// head and tail sit on their own cache lines: the producer writes head,
	// the consumer writes tail, and false sharing between them would cost
	// more than the padding.
	_pad0 [cacheLine]byte
	head  atomic.Uint64
	_pad1 [cacheLine]byte
	tail  atomic.Uint64
	_pad2 [cacheLine]byte

	overflow atomic.Uint64 // dropped pushes, surfaced as a metric
}

// New creates a Ring holding at least capacity bars; the size is rounded up
// to the next power of two, minimum 2.
func New(capacity int) *Ring {
	size := nextPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &Ring{
		buf:  make([]model.Bar, size),
		mask: uint64(size - 1),
	}
}

// Push enqueues a bar without blocking. When the ring is full the bar is
// dropped, the overflow counter advances, and Push reports false.
func (r *Ring) Push(b model.Bar) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}
	r.buf[head&r.mask] = b
	r.head.Store(head + 1)
	return true
}

// Pop dequeues the oldest bar without blocking; ok is false when the ring
// is empty.
func (r *Ring) Pop() (bar model.Bar, ok bool) {
	tail := r.tail.Load()
	if tail >= r.head.Load() {
		return model.Bar{}, false
	}
	bar = r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return bar, true
}

// Overflow returns the total number of bars dropped by Push against a full
// ring since creation.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
