package host

import (
	"fmt"

	"github.com/inference-sim/vmhost/host/pickle"
)

// EventKind names the kind of deferred work an Event carries.
type EventKind string

const (
	EventDeliverMessage    EventKind = "deliver-message"
	EventTerminationNotice EventKind = "termination-notice"
	EventTerminate         EventKind = "terminate"
	EventCustom            EventKind = "custom"
)

// Event is a unit of deferred work queued on exactly one Instance.
// Events may be posted from any goroutine; Execute always runs on the
// owning instance's scheduling loop, in FIFO order.
type Event interface {
	Kind() EventKind
	Execute(inst *Instance) error
}

// DeliverMessageEvent carries a packed value from another instance.
// Execute unpacks it in the receiver's context and appends it to the stream.
type DeliverMessageEvent struct {
	From    int64  // Sender identifier (0 for the host itself)
	Payload []byte // Opaque buffer produced by the sender's pack entry point
}

func (e *DeliverMessageEvent) Kind() EventKind { return EventDeliverMessage }

// Execute decodes the payload. A closed port drops the message silently.
func (e *DeliverMessageEvent) Execute(inst *Instance) error {
	if inst.stream.Closed() {
		inst.dropped(e.From, "port closed before delivery")
		return nil
	}
	unpack, err := inst.unpackFunc()
	if err != nil {
		return err
	}
	v, err := unpack(e.Payload)
	if err != nil {
		return fmt.Errorf("receive from instance %d: %w", e.From, err)
	}
	inst.deliver(e.From, v)
	return nil
}

// TerminationNoticeEvent tells a monitor that an observed instance died.
type TerminationNoticeEvent struct {
	Dead int64 // Identifier of the terminated instance
}

func (e *TerminationNoticeEvent) Kind() EventKind { return EventTerminationNotice }

// Execute appends terminated(Dead) to the monitor's stream, subject to the
// same closed-port rule as any other message.
func (e *TerminationNoticeEvent) Execute(inst *Instance) error {
	if inst.stream.Closed() {
		inst.dropped(e.Dead, "termination notice after port closed")
		return nil
	}
	inst.env.metrics.TerminationNotices.Add(1)
	inst.deliver(e.Dead, TerminationNotice(e.Dead))
	return nil
}

// TerminationNotice builds the value a monitor receives when instance id dies.
func TerminationNotice(id int64) pickle.Value {
	return pickle.NewTuple("terminated", pickle.Int(id))
}

// TerminateEvent runs termination on the instance's own goroutine.
type TerminateEvent struct{}

func (e *TerminateEvent) Kind() EventKind { return EventTerminate }

func (e *TerminateEvent) Execute(inst *Instance) error {
	inst.terminate()
	return nil
}

// FuncEvent wraps arbitrary work, e.g. an I/O completion handler.
type FuncEvent struct {
	Name string
	Fn   func(*Instance) error
}

func (e *FuncEvent) Kind() EventKind { return EventCustom }

func (e *FuncEvent) Execute(inst *Instance) error {
	if e.Fn == nil {
		return nil
	}
	return e.Fn(inst)
}
