// Package pickle defines the value model exchanged between VM instances and
// the codec that copies values across instance isolation.
//
// A packed value is opaque to the host: it is produced by Pack in the sending
// instance, carried as a byte slice, and rebuilt by Unpack in the receiver.
package pickle

import (
	"fmt"
	"strings"
)

// Value is any of: nil, Int, Float, Bool, String, Atom, Bytes, List, Tuple.
// Pack also accepts the matching Go builtin types and normalizes them.
type Value = any

type (
	Int    int64
	Float  float64
	Bool   bool
	String string
	Atom   string
	Bytes  []byte
	List   []Value
)

// Tuple is a labelled record with positional fields, e.g. terminated(3).
type Tuple struct {
	Label  Atom
	Fields []Value
}

// NewTuple builds a Tuple from a label and its fields.
func NewTuple(label string, fields ...Value) Tuple {
	return Tuple{Label: Atom(label), Fields: fields}
}

// Arity returns the number of fields.
func (t Tuple) Arity() int { return len(t.Fields) }

// Field returns field i, or nil when out of range.
func (t Tuple) Field(i int) Value {
	if i < 0 || i >= len(t.Fields) {
		return nil
	}
	return t.Fields[i]
}

// Normalize converts Go builtin types to their pickle counterparts.
// It returns ErrUnsupported for anything outside the value model, including
// values nested deeper than the codec accepts (a self-referencing List).
func Normalize(v Value) (Value, error) {
	return normalize(v, 0)
}

func normalize(v Value, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}
	switch x := v.(type) {
	case nil, Int, Float, Bool, String, Atom, Bytes:
		return x, nil
	case int:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case float64:
		return Float(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case List:
		out := make(List, len(x))
		for i, e := range x {
			n, err := normalize(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []Value:
		return normalize(List(x), depth)
	case Tuple:
		fields := make([]Value, len(x.Fields))
		for i, e := range x.Fields {
			n, err := normalize(e, depth+1)
			if err != nil {
				return nil, err
			}
			fields[i] = n
		}
		return Tuple{Label: x.Label, Fields: fields}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

// Equal reports whether a and b denote the same value after normalization.
func Equal(a, b Value) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return equal(na, nb, 0)
}

func equal(a, b Value, depth int) bool {
	if depth > maxDepth {
		return false
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case Bytes:
		y, ok := b.(Bytes)
		return ok && string(x) == string(y)
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i], depth+1) {
				return false
			}
		}
		return true
	case Tuple:
		y, ok := b.(Tuple)
		if !ok || x.Label != y.Label || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if !equal(x.Fields[i], y.Fields[i], depth+1) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Format renders a value in a compact, human-readable form. Nesting past
// the codec limit is elided as "...".
func Format(v Value) string {
	var sb strings.Builder
	format(&sb, v, 0)
	return sb.String()
}

func format(sb *strings.Builder, v Value, depth int) {
	if depth > maxDepth {
		sb.WriteString("...")
		return
	}
	switch x := v.(type) {
	case nil:
		sb.WriteString("nil")
	case Int:
		fmt.Fprintf(sb, "%d", int64(x))
	case Float:
		fmt.Fprintf(sb, "%g", float64(x))
	case Bool:
		fmt.Fprintf(sb, "%t", bool(x))
	case String:
		fmt.Fprintf(sb, "%q", string(x))
	case Atom:
		sb.WriteString(string(x))
	case Bytes:
		fmt.Fprintf(sb, "<%d bytes>", len(x))
	case []Value:
		format(sb, List(x), depth)
	case List:
		sb.WriteString("[")
		for i, e := range x {
			if i > 0 {
				sb.WriteString(" ")
			}
			format(sb, e, depth+1)
		}
		sb.WriteString("]")
	case Tuple:
		sb.WriteString(string(x.Label))
		sb.WriteString("(")
		for i, e := range x.Fields {
			if i > 0 {
				sb.WriteString(" ")
			}
			format(sb, e, depth+1)
		}
		sb.WriteString(")")
	default:
		fmt.Fprintf(sb, "%v", x)
	}
}
