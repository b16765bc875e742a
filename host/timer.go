package host

import (
	"sync"
	"time"
)

// PreemptionTimer fires periodically while an instance is inside RunStep.
// Each expiry runs onExpire on the reactor goroutine and re-arms itself one
// interval after the previous deadline. Stop is called after every step and
// is cheap; an expiry racing with Stop is discarded.
type PreemptionTimer struct {
	reactor  *Reactor
	interval time.Duration
	onExpire func()

	mu       sync.Mutex
	gen      uint64
	armed    bool
	deadline time.Time
	pending  *Timer
}

// NewPreemptionTimer creates a stopped timer. Panics if interval <= 0.
func NewPreemptionTimer(r *Reactor, interval time.Duration, onExpire func()) *PreemptionTimer {
	if interval <= 0 {
		panic("PreemptionTimer: interval must be > 0")
	}
	return &PreemptionTimer{reactor: r, interval: interval, onExpire: onExpire}
}

// Start arms the timer one interval from now.
func (p *PreemptionTimer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.armed = true
	p.deadline = time.Now().Add(p.interval)
	p.scheduleLocked()
}

// Stop disarms the timer. Stopping a stopped timer is a no-op.
func (p *PreemptionTimer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *PreemptionTimer) stopLocked() {
	p.armed = false
	p.gen++
	if p.pending != nil {
		p.reactor.Stop(p.pending)
		p.pending = nil
	}
}

func (p *PreemptionTimer) scheduleLocked() {
	gen := p.gen
	p.pending = p.reactor.AfterFunc(p.deadline, func() { p.fire(gen) })
}

func (p *PreemptionTimer) fire(gen uint64) {
	p.mu.Lock()
	if !p.armed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.onExpire()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed || gen != p.gen {
		return
	}
	p.deadline = p.deadline.Add(p.interval)
	// Skip ticks we already missed instead of firing a burst.
	if now := time.Now(); p.deadline.Before(now) {
		p.deadline = now.Add(p.interval)
	}
	p.scheduleLocked()
}

// AlarmTimer is a one-shot wake-up for an instance that asked to run again
// at a given time. Expiry only calls notify; it never touches interpreter state.
type AlarmTimer struct {
	reactor *Reactor
	notify  func()

	mu      sync.Mutex
	gen     uint64
	pending *Timer
}

// NewAlarmTimer creates a disarmed alarm.
func NewAlarmTimer(r *Reactor, notify func()) *AlarmTimer {
	return &AlarmTimer{reactor: r, notify: notify}
}

// Arm schedules the alarm for when, replacing any previous arming.
func (a *AlarmTimer) Arm(when time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelLocked()
	gen := a.gen
	a.pending = a.reactor.AfterFunc(when, func() {
		a.mu.Lock()
		live := gen == a.gen
		if live {
			a.pending = nil
		}
		a.mu.Unlock()
		if live {
			a.notify()
		}
	})
}

// Cancel disarms the alarm. It is idempotent.
func (a *AlarmTimer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelLocked()
}

// Armed reports whether an expiry is still pending.
func (a *AlarmTimer) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

func (a *AlarmTimer) cancelLocked() {
	a.gen++
	if a.pending != nil {
		a.reactor.Stop(a.pending)
		a.pending = nil
	}
}
