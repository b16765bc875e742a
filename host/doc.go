// Package host runs many isolated VM instances inside one process.
//
// # Reading Guide
//
// Start with these files to understand the scheduling core:
//   - instance.go: the per-instance scheduling loop and termination protocol
//   - queue.go: the event queue the loop drains and sleeps on
//   - reactor.go and timer.go: the shared timer goroutine, preemption and alarm timers
//   - environment.go: the registry (identifiers, alive count, exit hook)
//
// # Architecture
//
// Every Instance owns one goroutine that repeatedly calls Interpreter.RunStep,
// drains its EventQueue, and sleeps until an event, an alarm, or an explicit
// wake. A shared Reactor goroutine fires preemption timers that ask the
// interpreter to yield, so no instance can monopolize its slice.
//
// Instances share no values. Send packs a value in the sender (pickle.pack
// property), posts the bytes to the receiver, and the receiver unpacks them
// into its own inbound Stream. Monitors receive terminated(id) when an
// observed instance dies. The Environment calls its exit hook exactly once,
// when the last live instance terminates or is killed.
//
// # Key Interfaces
//   - Interpreter: bounded RunStep plus thread-safe preemption and clock injection
//   - Event: deferred work executed on the owning loop (deliver, notice, terminate, custom)
//   - BootLoader: resolves URL programs into boot values
package host
