package host

import "fmt"

// DirectiveKind tells the scheduling loop what the interpreter wants next.
type DirectiveKind int

const (
	NeverAgain DirectiveKind = iota // nothing runnable; only events can create work
	AgainNow                        // yielded with work left
	AgainLater                      // sleep until Directive.WakeAt
)

func (k DirectiveKind) String() string {
	switch k {
	case NeverAgain:
		return "never-again"
	case AgainNow:
		return "again-now"
	case AgainLater:
		return "again-later"
	default:
		return fmt.Sprintf("DirectiveKind(%d)", int(k))
	}
}

// Directive is the result of one bounded interpreter step.
type Directive struct {
	Kind   DirectiveKind
	WakeAt int64 // reference time in milliseconds; only meaningful for AgainLater
}

// Never returns a NeverAgain directive.
func Never() Directive { return Directive{Kind: NeverAgain} }

// Now returns an AgainNow directive.
func Now() Directive { return Directive{Kind: AgainNow} }

// Later returns an AgainLater directive waking at reference time t.
func Later(t int64) Directive { return Directive{Kind: AgainLater, WakeAt: t} }

// Interpreter is the per-instance execution engine driven by the scheduling loop.
//
// RunStep is only called from the instance's loop goroutine. RequestPreempt
// and SetReferenceTime are also called from the reactor goroutine while
// RunStep is running, so they must be safe for concurrent use.
type Interpreter interface {
	// RunStep executes until the interpreter yields, finishes, or blocks.
	RunStep() Directive
	// RequestPreempt asks RunStep to return at its next safe point. Idempotent.
	RequestPreempt()
	// SetReferenceTime injects the current reference time in milliseconds.
	SetReferenceTime(ms int64)
	// Property looks up a named entry point, e.g. pickle.PackProperty.
	Property(name string) (any, bool)
}

// ErrorReceiver is implemented by interpreters that want instance-local
// errors raised outside RunStep (e.g. a failed unpack on delivery).
type ErrorReceiver interface {
	ReceiveError(err error)
}

// InterpreterFactory builds the interpreter for a freshly created instance.
// initial is the boot value: the unpacked image for URL programs, the
// program string otherwise.
type InterpreterFactory func(inst *Instance, initial any) (Interpreter, error)
