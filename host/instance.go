package host

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vmhost/host/pickle"
	"github.com/inference-sim/vmhost/host/trace"
)

// State is the tri-state termination flag of an Instance.
// Transitions only move forward: Running -> Terminating -> Terminated,
// or Running -> Terminated.
type State int32

const (
	StateRunning State = iota
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Instance is one isolated, cooperatively scheduled VM.
//
// Its scheduling loop runs on a dedicated goroutine started by
// Environment.CreateInstance. Other goroutines interact with it only through
// Post, Wake, the atomic state, and the messaging bridge.
type Instance struct {
	id      int64
	env     *Environment
	program string
	isURL   bool

	state    atomic.Int32
	asyncOps atomic.Int64 // outstanding interest that keeps a quiescent instance alive

	queue  *EventQueue
	stream Stream

	monitorsMu sync.Mutex
	monitors   []int64
	notified   bool // monitors were told; later registrations are refused

	interp  Interpreter
	preempt *PreemptionTimer
	alarm   *AlarmTimer
	uuids   *UUIDGenerator

	done chan struct{}
}

func newInstance(env *Environment, id int64, program string, isURL bool) *Instance {
	inst := &Instance{
		id:      id,
		env:     env,
		program: program,
		isURL:   isURL,
		queue:   NewEventQueue(),
		uuids:   NewSeededUUIDGenerator(),
		done:    make(chan struct{}),
	}
	inst.preempt = NewPreemptionTimer(env.reactor, env.config.PreemptInterval, inst.onPreempt)
	inst.alarm = NewAlarmTimer(env.reactor, func() {
		env.metrics.AlarmsFired.Add(1)
		inst.queue.Notify()
	})
	return inst
}

// ID returns the process-unique identifier.
func (inst *Instance) ID() int64 { return inst.id }

// Env returns the owning environment.
func (inst *Instance) Env() *Environment { return inst.env }

// Program returns the program reference the instance was created with.
func (inst *Instance) Program() (program string, isURL bool) { return inst.program, inst.isURL }

// State returns the termination flag without locking.
func (inst *Instance) State() State { return State(inst.state.Load()) }

// IsRunning reports whether termination has not been requested yet.
func (inst *Instance) IsRunning() bool { return inst.State() == StateRunning }

// Done is closed once the scheduling loop has exited.
func (inst *Instance) Done() <-chan struct{} { return inst.done }

// PendingAsync returns the pending-async-operations counter.
func (inst *Instance) PendingAsync() int64 { return inst.asyncOps.Load() }

// AddPendingAsync adjusts the pending-async-operations counter. An I/O
// completion source adds one before starting and removes it from the
// completion event it posts. Dropping to zero wakes the loop so a quiescent
// instance can end even when the caller is not on the loop goroutine.
func (inst *Instance) AddPendingAsync(delta int64) int64 {
	n := inst.asyncOps.Add(delta)
	if n == 0 {
		inst.Wake()
	}
	return n
}

// Interpreter returns the interpreter, or nil before it has started.
func (inst *Instance) Interpreter() Interpreter { return inst.interp }

// NewUUID draws a random 128-bit identifier from this instance's generator.
func (inst *Instance) NewUUID() UUID { return inst.uuids.Next() }

// Post queues ev for the scheduling loop and wakes it. Safe from any goroutine.
// Events posted to a terminated instance are dropped and Post returns false.
func (inst *Instance) Post(ev Event) bool {
	if inst.State() == StateTerminated {
		return false
	}
	inst.queue.Push(ev)
	return true
}

// Wake nudges a sleeping scheduling loop without queueing work.
func (inst *Instance) Wake() {
	inst.queue.Notify()
}

// TakeStream hands out the head of the inbound stream. It may only be called
// once per instance; the instance then counts as waiting on the stream until
// it is closed. Taking an already closed stream yields a reader that is
// immediately at its end.
func (inst *Instance) TakeStream() (*StreamReader, error) {
	r, ok, closed := inst.stream.take()
	if !ok {
		return nil, fmt.Errorf("instance %d: %w", inst.id, ErrStreamConsumed)
	}
	if !closed {
		inst.asyncOps.Add(1)
	}
	return r, nil
}

// CloseStream closes the inbound port. Only the first call has an effect.
// It may be called from any goroutine.
func (inst *Instance) CloseStream() {
	first, taken := inst.stream.close()
	if first && taken {
		inst.AddPendingAsync(-1)
	}
}

// PortClosed reports whether messages to this instance are dropped.
func (inst *Instance) PortClosed() bool { return inst.stream.Closed() }

// AddMonitor registers observer to be told when inst terminates.
// Duplicate registrations produce duplicate notices.
func (inst *Instance) AddMonitor(observer int64) error {
	inst.monitorsMu.Lock()
	defer inst.monitorsMu.Unlock()
	if inst.notified {
		return fmt.Errorf("monitor instance %d: %w", inst.id, ErrTerminated)
	}
	inst.monitors = append(inst.monitors, observer)
	return nil
}

// Monitors returns a snapshot of registered observers.
func (inst *Instance) Monitors() []int64 {
	inst.monitorsMu.Lock()
	defer inst.monitorsMu.Unlock()
	out := make([]int64, len(inst.monitors))
	copy(out, inst.monitors)
	return out
}

func (inst *Instance) start() {
	defer close(inst.done)

	interp, err := inst.env.boot(inst)
	if err != nil {
		logrus.WithField("instance", inst.id).Errorf("could not start instance: %v", err)
		inst.env.metrics.InstanceErrors.Add(1)
		inst.env.record(trace.Record{Kind: trace.KindStartFailed, Instance: inst.id, Detail: err.Error()})
		inst.terminate()
		return
	}
	inst.interp = interp
	logrus.WithField("instance", inst.id).Debugf("instance started (program=%q url=%t)", inst.program, inst.isURL)
	inst.run()
}

// run is the scheduling loop. It exits only once the instance can never
// be woken again, then terminates it.
func (inst *Instance) run() {
	q := inst.queue
	for {
		inst.interp.SetReferenceTime(inst.env.ReferenceTime())

		inst.preempt.Start()
		d, ok := inst.step()
		inst.preempt.Stop()
		if !ok {
			break
		}

		q.mu.Lock()
		if !inst.IsRunning() || (d.Kind == NeverAgain && inst.asyncOps.Load() == 0 && len(q.events) == 0) {
			q.mu.Unlock()
			break
		}

		// Only the events queued at this point run; anything they post waits
		// for the next cycle so RunStep is not starved.
		if len(q.events) > 0 {
			batch := q.takeLocked()
			q.mu.Unlock()
			ok = inst.execute(batch)
			clear(batch)
			if !ok {
				break
			}
			q.mu.Lock()
			d = Now()
		}

		if d.Kind != AgainNow {
			if d.Kind == AgainLater {
				inst.alarm.Arm(inst.env.TimeOf(d.WakeAt))
			}
			q.waitLocked()
		}
		q.mu.Unlock()

		inst.alarm.Cancel()
	}

	inst.alarm.Cancel()
	inst.terminate()
}

// step runs one bounded interpreter slice. A panic is contained to this
// instance: it is logged and the loop exits.
func (inst *Instance) step() (d Directive, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("instance", inst.id).Errorf("interpreter panic: %v\n%s", r, debug.Stack())
			inst.env.metrics.InstanceErrors.Add(1)
			ok = false
		}
	}()
	return inst.interp.RunStep(), true
}

// execute runs a batch of events in FIFO order. Errors are local to the
// instance; a panic ends the loop like a panic in RunStep.
func (inst *Instance) execute(batch []Event) (ok bool) {
	var current Event
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{"instance": inst.id, "event": current.Kind()}).
				Errorf("event panic: %v\n%s", r, debug.Stack())
			inst.env.metrics.InstanceErrors.Add(1)
			ok = false
		}
	}()
	for _, ev := range batch {
		current = ev
		inst.env.metrics.EventsDrained.Add(1)
		if err := ev.Execute(inst); err != nil {
			inst.raise(ev.Kind(), err)
		}
	}
	return true
}

func (inst *Instance) raise(kind EventKind, err error) {
	inst.env.metrics.InstanceErrors.Add(1)
	logrus.WithFields(logrus.Fields{"instance": inst.id, "event": kind}).Warnf("instance error: %v", err)
	if r, ok := inst.interp.(ErrorReceiver); ok {
		r.ReceiveError(err)
	}
}

func (inst *Instance) onPreempt() {
	inst.env.metrics.Preemptions.Add(1)
	inst.interp.SetReferenceTime(inst.env.ReferenceTime())
	inst.interp.RequestPreempt()
}

// deliver appends a value that already lives in this instance's context.
func (inst *Instance) deliver(from int64, v pickle.Value) {
	if !inst.stream.Append(v) {
		inst.dropped(from, "port closed")
		return
	}
	inst.env.metrics.MessagesDelivered.Add(1)
	inst.env.record(trace.Record{Kind: trace.KindDelivered, Instance: inst.id, Peer: from})
}

func (inst *Instance) dropped(from int64, why string) {
	inst.env.metrics.MessagesDropped.Add(1)
	inst.env.record(trace.Record{Kind: trace.KindDropped, Instance: inst.id, Peer: from, Detail: why})
}

func (inst *Instance) packFunc() (pickle.PackFunc, error) {
	if inst.interp == nil {
		return nil, fmt.Errorf("instance %d not started: %w %s", inst.id, ErrMissingEntryPoint, pickle.PackProperty)
	}
	p, ok := inst.interp.Property(pickle.PackProperty)
	if ok {
		switch f := p.(type) {
		case pickle.PackFunc:
			return f, nil
		case func(pickle.Value) ([]byte, error):
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w %s", ErrMissingEntryPoint, pickle.PackProperty)
}

func (inst *Instance) unpackFunc() (pickle.UnpackFunc, error) {
	if inst.interp == nil {
		return nil, fmt.Errorf("instance %d not started: %w %s", inst.id, ErrMissingEntryPoint, pickle.UnpackProperty)
	}
	p, ok := inst.interp.Property(pickle.UnpackProperty)
	if ok {
		switch f := p.(type) {
		case pickle.UnpackFunc:
			return f, nil
		case func([]byte) (pickle.Value, error):
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w %s", ErrMissingEntryPoint, pickle.UnpackProperty)
}

// terminate runs at most once, always on the instance's own goroutine:
// close the port, notify monitors, release the reactor keep-alive.
func (inst *Instance) terminate() {
	prev := State(inst.state.Swap(int32(StateTerminated)))
	if prev == StateTerminated {
		return
	}
	if prev == StateRunning {
		inst.env.instanceDown(0)
	}

	inst.CloseStream()
	inst.tellMonitors()

	inst.env.metrics.InstancesTerminated.Add(1)
	inst.env.record(trace.Record{Kind: trace.KindTerminated, Instance: inst.id})
	logrus.WithField("instance", inst.id).Debug("instance terminated")

	inst.env.reactor.Release()
}

func (inst *Instance) tellMonitors() {
	inst.monitorsMu.Lock()
	inst.notified = true
	monitors := make([]int64, len(inst.monitors))
	copy(monitors, inst.monitors)
	inst.monitorsMu.Unlock()

	for _, id := range monitors {
		m, err := inst.env.Lookup(id)
		if err != nil {
			logrus.WithField("instance", inst.id).Warnf("monitor %d: %v", id, err)
			continue
		}
		if m.Post(&TerminationNoticeEvent{Dead: inst.id}) {
			inst.env.record(trace.Record{Kind: trace.KindNotice, Instance: id, Peer: inst.id})
		}
	}
}
