// Package trace provides lifecycle-trace recording for VM instances.
// It does not import host/ and stores only plain data types.
package trace

// Kind classifies a lifecycle record.
type Kind string

const (
	KindCreated     Kind = "created"
	KindStartFailed Kind = "start-failed"
	KindKilled      Kind = "killed"
	KindTerminated  Kind = "terminated"
	KindNotice      Kind = "notice"    // termination notice posted to a monitor
	KindSent        Kind = "sent"      // message posted to an instance queue
	KindDelivered   Kind = "delivered" // message appended to an instance stream
	KindDropped     Kind = "dropped"   // message discarded at a closed port
)

// Record captures a single lifecycle or messaging event.
type Record struct {
	Kind     Kind
	Instance int64  // instance the record is about (receiver for messages)
	Peer     int64  // sender, dead instance for notices, 0 for the host
	Clock    int64  // reference time in milliseconds
	Detail   string // free-form context (program, exit code, drop reason)
}

// IsMessage reports whether the record belongs to the messages level.
func (r Record) IsMessage() bool {
	switch r.Kind {
	case KindSent, KindDelivered, KindDropped:
		return true
	default:
		return false
	}
}
