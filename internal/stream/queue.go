package stream

import (
	"context"
	"sync"
)

// DefaultBufferSize is the queue capacity used when none is configured.
const DefaultBufferSize = 64

// Queue is a bounded FIFO of events. Push never blocks: when the queue is full
// the oldest event is dropped. Retained events keep their order.
type Queue struct {
	mu      sync.Mutex
	buf     []Event
	size    int
	dropped uint64
	closed  bool

	ready  chan struct{}
	doneCh chan struct{}
}

// NewQueue creates a queue holding at most size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Queue{
		buf:    make([]Event, 0, size),
		size:   size,
		ready:  make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

// Push appends ev. It returns false if the queue is closed.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.buf) == q.size {
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.dropped++
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting events. Buffered events stay readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.doneCh)
}

// Next blocks until an event is available, the queue is closed and drained
// (ErrClosed), or ctx is done.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			ev := q.buf[0]
			copy(q.buf, q.buf[1:])
			q.buf = q.buf[:len(q.buf)-1]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.doneCh:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns how many events were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
