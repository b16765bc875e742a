package script

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/vmhost/host/pickle"
)

// Compile turns a YAML instruction list into a validated program value.
//
//	[{spin: 100000}, {send: [2, "hello"]}, recv, {print: last}]
//
// Plain scalars become atoms, quoted scalars become strings, and a mapping
// with one key inside an operand becomes a tuple.
func Compile(src []byte) (pickle.List, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(src))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("%w: empty script", ErrInvalidProgram)
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: line %d: script must be a list of instructions", ErrInvalidProgram, root.Line)
	}

	prog := make(pickle.List, 0, len(root.Content))
	for _, n := range root.Content {
		ins, err := instruction(n)
		if err != nil {
			return nil, err
		}
		prog = append(prog, ins)
	}
	return Validate(prog)
}

func instruction(n *yaml.Node) (pickle.Tuple, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return pickle.NewTuple(n.Value), nil
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return pickle.Tuple{}, fmt.Errorf("%w: line %d: one instruction per list item", ErrInvalidProgram, n.Line)
		}
		name, arg := n.Content[0], n.Content[1]
		if !IsInstruction(name.Value) {
			return pickle.Tuple{}, fmt.Errorf("%w: line %d: unknown instruction %q", ErrInvalidProgram, name.Line, name.Value)
		}
		if arg.Kind == yaml.SequenceNode {
			fields := make([]pickle.Value, 0, len(arg.Content))
			for _, a := range arg.Content {
				v, err := operand(a)
				if err != nil {
					return pickle.Tuple{}, err
				}
				fields = append(fields, v)
			}
			return pickle.NewTuple(name.Value, fields...), nil
		}
		v, err := operand(arg)
		if err != nil {
			return pickle.Tuple{}, err
		}
		return pickle.NewTuple(name.Value, v), nil
	default:
		return pickle.Tuple{}, fmt.Errorf("%w: line %d: unexpected instruction form", ErrInvalidProgram, n.Line)
	}
}

func operand(n *yaml.Node) (pickle.Value, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return scalar(n)
	case yaml.SequenceNode:
		out := make(pickle.List, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := operand(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return nil, fmt.Errorf("%w: line %d: a tuple operand has exactly one label", ErrInvalidProgram, n.Line)
		}
		label, body := n.Content[0], n.Content[1]
		var fields []pickle.Value
		if body.Kind == yaml.SequenceNode {
			for _, c := range body.Content {
				v, err := operand(c)
				if err != nil {
					return nil, err
				}
				fields = append(fields, v)
			}
		} else {
			v, err := operand(body)
			if err != nil {
				return nil, err
			}
			fields = []pickle.Value{v}
		}
		return pickle.NewTuple(label.Value, fields...), nil
	case yaml.AliasNode:
		return operand(n.Alias)
	default:
		return nil, fmt.Errorf("%w: line %d: unsupported operand", ErrInvalidProgram, n.Line)
	}
}

func scalar(n *yaml.Node) (pickle.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad bool %q", ErrInvalidProgram, n.Line, n.Value)
		}
		return pickle.Bool(b), nil
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad int %q", ErrInvalidProgram, n.Line, n.Value)
		}
		return pickle.Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, fmt.Errorf("%w: line %d: bad float %q", ErrInvalidProgram, n.Line, n.Value)
		}
		return pickle.Float(f), nil
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad binary", ErrInvalidProgram, n.Line)
		}
		return pickle.Bytes(b), nil
	default:
		if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
			return pickle.String(n.Value), nil
		}
		return pickle.Atom(n.Value), nil
	}
}
