package tracker

import "sync"

// batchQueue buffers events between flushes. When full it drops the
// oldest entry instead of blocking the caller.
type batchQueue struct {
	mu     sync.Mutex
	events []Event
	max    int
}

func newBatchQueue(max int) *batchQueue {
	return &batchQueue{max: max}
}

// push adds ev and returns the event it evicted, if any.
func (q *batchQueue) push(ev Event) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped Event
	evicted := false
	if len(q.events) >= q.max {
		dropped = q.events[0]
		q.events = q.events[1:]
		evicted = true
	}
	q.events = append(q.events, ev)
	return dropped, evicted
}

// take removes and returns up to n events, oldest first.
func (q *batchQueue) take(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.events) {
		n = len(q.events)
	}
	out := make([]Event, n)
	copy(out, q.events[:n])
	q.events = q.events[n:]
	return out
}

func (q *batchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
