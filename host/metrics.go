// Tracks host-wide scheduling and messaging counters such as:
//   - instances created and terminated
//   - events drained, preemptions and alarms fired
//   - messages sent, delivered, and dropped on closed ports

package host

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Metrics aggregates counters over the lifetime of an Environment.
// Every field is updated atomically from instance loops and the reactor.
type Metrics struct {
	InstancesCreated    atomic.Int64
	InstancesTerminated atomic.Int64

	EventsDrained  atomic.Int64 // Events executed by scheduling loops
	Preemptions    atomic.Int64 // Preemption timer expiries
	AlarmsFired    atomic.Int64 // Alarm expiries that woke a loop
	InstanceErrors atomic.Int64 // Instance-local errors and contained panics

	MessagesSent       atomic.Int64 // Deliveries posted by the messaging bridge
	MessagesDelivered  atomic.Int64 // Values appended to a stream
	MessagesDropped    atomic.Int64 // Values discarded because the port was closed
	TerminationNotices atomic.Int64 // terminated(id) notices appended
	BytesSent          atomic.Int64 // Packed payload bytes
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	InstancesCreated    int64
	InstancesTerminated int64
	EventsDrained       int64
	Preemptions         int64
	AlarmsFired         int64
	InstanceErrors      int64
	MessagesSent        int64
	MessagesDelivered   int64
	MessagesDropped     int64
	TerminationNotices  int64
	BytesSent           int64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		InstancesCreated:    m.InstancesCreated.Load(),
		InstancesTerminated: m.InstancesTerminated.Load(),
		EventsDrained:       m.EventsDrained.Load(),
		Preemptions:         m.Preemptions.Load(),
		AlarmsFired:         m.AlarmsFired.Load(),
		InstanceErrors:      m.InstanceErrors.Load(),
		MessagesSent:        m.MessagesSent.Load(),
		MessagesDelivered:   m.MessagesDelivered.Load(),
		MessagesDropped:     m.MessagesDropped.Load(),
		TerminationNotices:  m.TerminationNotices.Load(),
		BytesSent:           m.BytesSent.Load(),
	}
}

// Print writes the end-of-run report.
func (m *Metrics) Print(w io.Writer) {
	s := m.Snapshot()
	fmt.Fprintln(w, "=== Host Metrics ===")
	fmt.Fprintf(w, "Instances Created    : %d\n", s.InstancesCreated)
	fmt.Fprintf(w, "Instances Terminated : %d\n", s.InstancesTerminated)
	fmt.Fprintf(w, "Events Drained       : %d\n", s.EventsDrained)
	fmt.Fprintf(w, "Preemptions          : %d\n", s.Preemptions)
	fmt.Fprintf(w, "Alarms Fired         : %d\n", s.AlarmsFired)
	fmt.Fprintf(w, "Instance Errors      : %d\n", s.InstanceErrors)
	fmt.Fprintf(w, "Messages Sent        : %d\n", s.MessagesSent)
	fmt.Fprintf(w, "Messages Delivered   : %d\n", s.MessagesDelivered)
	fmt.Fprintf(w, "Messages Dropped     : %d\n", s.MessagesDropped)
	fmt.Fprintf(w, "Termination Notices  : %d\n", s.TerminationNotices)
	if s.MessagesSent > 0 {
		fmt.Fprintf(w, "Average Payload      : %.2f bytes\n", float64(s.BytesSent)/float64(s.MessagesSent))
	}
}
