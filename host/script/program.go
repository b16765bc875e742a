// Package script is the reference interpreter for the VM host.
//
// A program is a pickle.List of instruction tuples, for example
// [spin(100000) send(2 "hi") recv() print(last)]. Programs are written in
// YAML and compiled with Compile, or booted directly from a packed image.
//
// Two atoms are resolved at run time wherever an operand is expected:
// `self` is the running instance's identifier and `last` is the value
// produced by the previous recv, spawn, or uuid.
package script

import (
	"errors"
	"fmt"

	"github.com/inference-sim/vmhost/host/pickle"
)

// ErrInvalidProgram is returned for programs the machine cannot run.
var ErrInvalidProgram = errors.New("invalid program")

// Operand atoms.
const (
	AtomSelf = pickle.Atom("self")
	AtomLast = pickle.Atom("last")
)

// arity maps each instruction to its operand count.
var arity = map[pickle.Atom]int{
	"spin":    1, // busy loop for n iterations, preemptible
	"sleep":   1, // wait n milliseconds of reference time
	"send":    2, // send(id, value)
	"recv":    0,
	"print":   1,
	"monitor": 1, // watch instance id
	"spawn":   1, // boot url as a new instance
	"kill":    2, // kill(id, code)
	"exit":    1,
	"close":   0, // close own port
	"uuid":    0,
}

// IsInstruction reports whether name is a known instruction.
func IsInstruction(name string) bool {
	_, ok := arity[pickle.Atom(name)]
	return ok
}

// Validate checks that v is a list of well-formed instructions and returns it.
func Validate(v pickle.Value) (pickle.List, error) {
	prog, ok := v.(pickle.List)
	if !ok {
		return nil, fmt.Errorf("%w: program must be a list, got %s", ErrInvalidProgram, pickle.Format(v))
	}
	for pc, e := range prog {
		ins, ok := e.(pickle.Tuple)
		if !ok {
			return nil, fmt.Errorf("%w: instruction %d is not a tuple: %s", ErrInvalidProgram, pc, pickle.Format(e))
		}
		want, known := arity[ins.Label]
		if !known {
			return nil, fmt.Errorf("%w: instruction %d: unknown instruction %q", ErrInvalidProgram, pc, ins.Label)
		}
		if ins.Arity() != want {
			return nil, fmt.Errorf("%w: instruction %d: %s takes %d operand(s), got %d",
				ErrInvalidProgram, pc, ins.Label, want, ins.Arity())
		}
	}
	return prog, nil
}
