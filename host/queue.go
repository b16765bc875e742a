package host

import "sync"

// EventQueue is the FIFO of deferred work owned by one instance.
//
// Producers on any goroutine call Push; the owning scheduling loop is the
// only consumer. Enqueue and wake-up happen under the same mutex the loop
// holds when it decides to sleep, so no event can slip between the loop's
// emptiness check and its wait.
type EventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	spare  []Event
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends ev and wakes the consumer.
func (q *EventQueue) Push(ev Event) {
	if ev == nil {
		panic("EventQueue.Push: ev must not be nil")
	}
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Notify wakes the consumer without queueing anything.
func (q *EventQueue) Notify() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// takeLocked swaps out every queued event. Caller holds q.mu.
// The returned slice is only valid until the next takeLocked.
func (q *EventQueue) takeLocked() []Event {
	batch := q.events
	q.events = q.spare[:0]
	q.spare = batch
	return batch
}

// waitLocked blocks until Push or Notify. Caller holds q.mu.
func (q *EventQueue) waitLocked() {
	q.cond.Wait()
}
