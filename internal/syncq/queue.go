package syncq

import "sync"

// opQueue is a thread-safe FIFO of pending remote writes.
//
// The queue uses a buffered channel of size 1 for signaling so the Run loop
// can wait with a context. It also tracks whether the consumer is busy with
// a dequeued op, which lets Drain wait for true quiescence rather than just
// an empty slice.
type opQueue struct {
	mu     sync.Mutex
	ops    []Op
	busy   bool
	closed bool
	signal chan struct{} // Signals op availability (buffered, size 1)

	idle       chan struct{} // Closed while empty and not busy
	idleClosed bool
}

func newOpQueue() *opQueue {
	idle := make(chan struct{})
	close(idle)
	return &opQueue{
		ops:        make([]Op, 0, 16),
		signal:     make(chan struct{}, 1),
		idle:       idle,
		idleClosed: true,
	}
}

// Enqueue appends op after dropping queued ops it supersedes.
// Returns the number of dropped ops and false if the queue is closed.
func (q *opQueue) Enqueue(op Op) (dropped int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, false
	}

	kept := q.ops[:0]
	for _, prev := range q.ops {
		if op.supersedes(prev) {
			dropped++
			continue
		}
		kept = append(kept, prev)
	}
	// Clear the tail so dropped ops do not pin their item slices.
	for i := len(kept); i < len(q.ops); i++ {
		q.ops[i] = Op{}
	}
	q.ops = append(kept, op)

	if q.idleClosed {
		q.idle = make(chan struct{})
		q.idleClosed = false
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return dropped, true
}

// TryDequeue removes the front op and marks the consumer busy.
// Returns (Op{}, false) if the queue is empty.
func (q *opQueue) TryDequeue() (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return Op{}, false
	}

	op := q.ops[0]
	q.ops[0] = Op{}
	if len(q.ops) == 1 {
		q.ops = q.ops[:0]
	} else {
		q.ops = q.ops[1:]
	}
	q.busy = true
	return op, true
}

// Done marks the dequeued op as finished.
func (q *opQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.busy = false
	q.markIdleLocked()
}

// Purge drops every queued op for which drop returns true.
func (q *opQueue) Purge(drop func(Op) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	kept := q.ops[:0]
	for _, op := range q.ops {
		if drop(op) {
			n++
			continue
		}
		kept = append(kept, op)
	}
	for i := len(kept); i < len(q.ops); i++ {
		q.ops[i] = Op{}
	}
	q.ops = kept
	q.markIdleLocked()
	return n
}

// Wait returns a channel that signals when ops may be available.
func (q *opQueue) Wait() <-chan struct{} {
	return q.signal
}

// Idle returns a channel that is closed once the queue is empty and no op
// is in flight.
func (q *opQueue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// Len returns the number of queued ops, excluding one in flight.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Close stops accepting ops, discards queued ones and wakes all waiters.
func (q *opQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.ops = nil
	close(q.signal)
	q.busy = false
	q.markIdleLocked()
}

// Closed reports whether Close has been called.
func (q *opQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *opQueue) markIdleLocked() {
	if !q.busy && len(q.ops) == 0 && !q.idleClosed {
		close(q.idle)
		q.idleClosed = true
	}
}
