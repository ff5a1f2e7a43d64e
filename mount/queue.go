package mount

import "sync"

// queue is the shared instruction list. The front of the queue is the end of
// the slice, so head insertion and removal are appends: the most recently
// head-inserted instruction runs next (stack discipline), while tail-appended
// instructions run only after everything already queued has drained.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*instruction
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// pushFront inserts a priority instruction; it will be the next one popped.
func (q *queue) pushFront(in *instruction) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, in)
	q.cond.Signal()
	return true
}

// pushFrontUnless is pushFront gated on a session stop channel. The check
// happens under the queue lock so that cancelSession can atomically close the
// channel and sweep the queue without racing a concurrent insertion.
func (q *queue) pushFrontUnless(in *instruction, stop chan struct{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-stop:
		return false
	default:
	}
	if q.closed {
		return false
	}
	q.items = append(q.items, in)
	q.cond.Signal()
	return true
}

// pushBack appends a low-priority instruction behind everything queued.
func (q *queue) pushBack(in *instruction) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append([]*instruction{in}, q.items...)
	q.cond.Signal()
	return true
}

// pushBackUnless is pushBack gated on a session stop channel, with the same
// atomicity as pushFrontUnless. Sessions queue their repeating pulses at the
// tail so priority instructions and stop requests are never starved by a
// repeating chain.
func (q *queue) pushBackUnless(in *instruction, stop chan struct{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-stop:
		return false
	default:
	}
	if q.closed {
		return false
	}
	q.items = append([]*instruction{in}, q.items...)
	q.cond.Signal()
	return true
}

// pop blocks until an instruction is available or the queue is closed.
func (q *queue) pop() (*instruction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	in := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return in, true
}

// cancelSession closes a session's stop channel and completes every queued
// instruction belonging to it with ErrCanceled, atomically with respect to
// the session's own insertions.
func (q *queue) cancelSession(cancel func(), match func(*instruction) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancel()
	return q.removeLocked(match)
}

// removeMatching completes and removes every queued instruction the match
// function selects.
func (q *queue) removeMatching(match func(*instruction) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(match)
}

func (q *queue) removeLocked(match func(*instruction) bool) int {
	kept := q.items[:0]
	removed := 0
	for _, in := range q.items {
		if match(in) {
			in.complete(ErrCanceled)
			removed++
			continue
		}
		kept = append(kept, in)
	}
	q.items = kept
	return removed
}

func (q *queue) count(match func(*instruction) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, in := range q.items {
		if match(in) {
			n++
		}
	}
	return n
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close marks the queue closed, wakes the consumer, and returns whatever was
// still queued so the worker can fail it.
func (q *queue) close() []*instruction {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	left := q.items
	q.items = nil
	q.cond.Broadcast()
	return left
}
