package host

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reactor is the timer substrate shared by every instance of an Environment.
//
// A single goroutine (Run) fires timer callbacks in deadline order. Holders
// keep the reactor alive with Hold/Release; Run returns once the last holder
// releases, the same way an instance's keep-alive lets the process wind down
// after its final instance terminates.
type Reactor struct {
	mu      sync.Mutex
	timers  timerHeap
	nextSeq uint64
	holds   int
	wake    chan struct{}
}

// NewReactor creates an idle reactor.
func NewReactor() *Reactor {
	r := &Reactor{wake: make(chan struct{}, 1)}
	heap.Init(&r.timers)
	return r
}

// Timer is a pending reactor callback.
type Timer struct {
	when  time.Time
	seq   uint64
	fn    func()
	index int // position in the heap, -1 once fired or stopped
}

// AfterFunc schedules fn to run on the reactor goroutine at (or after) when.
func (r *Reactor) AfterFunc(when time.Time, fn func()) *Timer {
	if fn == nil {
		panic("Reactor.AfterFunc: fn must not be nil")
	}
	r.mu.Lock()
	r.nextSeq++
	t := &Timer{when: when, seq: r.nextSeq, fn: fn}
	heap.Push(&r.timers, t)
	first := t.index == 0
	r.mu.Unlock()
	if first {
		r.signal()
	}
	return t
}

// Stop removes t if it has not fired yet. It reports whether t was pending.
// A callback already handed to the reactor goroutine may still run.
func (r *Reactor) Stop(t *Timer) bool {
	if t == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&r.timers, t.index)
	return true
}

// Hold registers a keep-alive unit.
func (r *Reactor) Hold() {
	r.mu.Lock()
	r.holds++
	r.mu.Unlock()
}

// Release drops a keep-alive unit taken with Hold.
func (r *Reactor) Release() {
	r.mu.Lock()
	if r.holds == 0 {
		r.mu.Unlock()
		panic("Reactor.Release: no matching Hold")
	}
	r.holds--
	idle := r.holds == 0
	r.mu.Unlock()
	if idle {
		r.signal()
	}
}

// Holds returns the number of outstanding keep-alive units.
func (r *Reactor) Holds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holds
}

// Pending returns the number of scheduled timers.
func (r *Reactor) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timers.Len()
}

func (r *Reactor) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run fires timers until no holder remains or ctx is done.
// Returns ctx.Err() on cancellation, nil on a natural end.
func (r *Reactor) Run(ctx context.Context) error {
	logrus.Debug("reactor: started")
	defer logrus.Debug("reactor: stopped")

	var sleep *time.Timer
	defer func() {
		if sleep != nil {
			sleep.Stop()
		}
	}()

	var due []*Timer
	for {
		r.mu.Lock()
		if r.holds == 0 {
			r.mu.Unlock()
			return nil
		}
		now := time.Now()
		due = due[:0]
		for r.timers.Len() > 0 && !r.timers[0].when.After(now) {
			due = append(due, heap.Pop(&r.timers).(*Timer))
		}
		wait := time.Duration(-1)
		if len(due) == 0 && r.timers.Len() > 0 {
			wait = r.timers[0].when.Sub(now)
		}
		r.mu.Unlock()

		if len(due) > 0 {
			for i, t := range due {
				t.fn()
				due[i] = nil
			}
			continue
		}

		var fire <-chan time.Time
		if wait >= 0 {
			if sleep == nil {
				sleep = time.NewTimer(wait)
			} else {
				sleep.Reset(wait)
			}
			fire = sleep.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		case <-fire:
		}
		if sleep != nil {
			sleep.Stop()
		}
	}
}

// timerHeap orders timers by deadline, then by scheduling order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].when.Equal(h[j].when) {
		return h[i].when.Before(h[j].when)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
