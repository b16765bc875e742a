package pickle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/crypto/blake2b"
)

// FormatVersion is written into every packed buffer.
const FormatVersion = "1.0.0"

// compatibleVersions is the range of format versions Unpack accepts.
const compatibleVersions = ">= 1.0.0, < 2.0.0"

// Property names under which an interpreter exposes its codec entry points.
const (
	PackProperty   = "pickle.pack"
	UnpackProperty = "pickle.unpack"
)

const (
	maxDepth = 512
	magic    = "VMPK"
)

var (
	// ErrUnsupported is returned by Pack for values outside the value model.
	ErrUnsupported = errors.New("pickle: unsupported value")
	// ErrCorrupt is returned by Unpack for malformed or tampered buffers.
	ErrCorrupt = errors.New("pickle: corrupt buffer")
	// ErrVersion is returned by Unpack for buffers written by an incompatible format.
	ErrVersion = errors.New("pickle: incompatible format version")
)

// PackFunc serializes a value owned by the calling instance.
type PackFunc func(Value) ([]byte, error)

// UnpackFunc rebuilds a value in the calling instance.
type UnpackFunc func([]byte) (Value, error)

var compat = mustConstraint(compatibleVersions)

func mustConstraint(expr string) *semver.Constraints {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		panic(fmt.Sprintf("pickle: bad version constraint %q: %v", expr, err))
	}
	return c
}

type tag byte

const (
	tagNil tag = iota
	tagInt
	tagFloat
	tagBool
	tagString
	tagAtom
	tagBytes
	tagList
	tagTuple
)

// Pack serializes v into a self-describing buffer:
//
//	"VMPK" | len(version) | version | uvarint(len(body)) | body | blake2b-256(body)
func Pack(v Value) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	body, err := appendValue(nil, n, 0)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(body)

	out := make([]byte, 0, len(magic)+1+len(FormatVersion)+binary.MaxVarintLen64+len(body)+len(sum))
	out = append(out, magic...)
	out = append(out, byte(len(FormatVersion)))
	out = append(out, FormatVersion...)
	out = binary.AppendUvarint(out, uint64(len(body)))
	out = append(out, body...)
	out = append(out, sum[:]...)
	return out, nil
}

func appendValue(buf []byte, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}
	switch x := v.(type) {
	case nil:
		return append(buf, byte(tagNil)), nil
	case Int:
		buf = append(buf, byte(tagInt))
		return binary.AppendVarint(buf, int64(x)), nil
	case Float:
		buf = append(buf, byte(tagFloat))
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(float64(x))), nil
	case Bool:
		if x {
			return append(buf, byte(tagBool), 1), nil
		}
		return append(buf, byte(tagBool), 0), nil
	case String:
		return appendString(append(buf, byte(tagString)), string(x)), nil
	case Atom:
		return appendString(append(buf, byte(tagAtom)), string(x)), nil
	case Bytes:
		return appendString(append(buf, byte(tagBytes)), string(x)), nil
	case List:
		buf = append(buf, byte(tagList))
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		var err error
		for _, e := range x {
			if buf, err = appendValue(buf, e, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case Tuple:
		buf = appendString(append(buf, byte(tagTuple)), string(x.Label))
		buf = binary.AppendUvarint(buf, uint64(len(x.Fields)))
		var err error
		for _, e := range x.Fields {
			if buf, err = appendValue(buf, e, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// Unpack rebuilds a value from a buffer produced by Pack.
func Unpack(data []byte) (Value, error) {
	r := bytes.NewReader(data)

	head := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(r, head); err != nil || string(head[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	ver := make([]byte, head[len(magic)])
	if _, err := io.ReadFull(r, ver); err != nil {
		return nil, fmt.Errorf("%w: truncated version", ErrCorrupt)
	}
	if err := checkVersion(string(ver)); err != nil {
		return nil, err
	}

	size, err := binary.ReadUvarint(r)
	if err != nil || size > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: bad body length", ErrCorrupt)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: truncated body", ErrCorrupt)
	}
	var sum [blake2b.Size256]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated checksum", ErrCorrupt)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	if blake2b.Sum256(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	d := decoder{r: bytes.NewReader(body)}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d unread body bytes", ErrCorrupt, d.r.Len())
	}
	return v, nil
}

// Version returns the format version recorded in a packed buffer.
func Version(data []byte) (*semver.Version, error) {
	if len(data) < len(magic)+1 || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	n := int(data[len(magic)])
	start := len(magic) + 1
	if len(data) < start+n {
		return nil, fmt.Errorf("%w: truncated version", ErrCorrupt)
	}
	v, err := semver.NewVersion(string(data[start : start+n]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVersion, err)
	}
	return v, nil
}

func checkVersion(s string) error {
	v, err := semver.NewVersion(s)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrVersion, s, err)
	}
	if !compat.Check(v) {
		return fmt.Errorf("%w: %s not in %s", ErrVersion, v, compatibleVersions)
	}
	return nil
}

type decoder struct {
	r *bytes.Reader
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrCorrupt, maxDepth)
	}
	b, err := d.r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated value", ErrCorrupt)
	}
	switch tag(b) {
	case tagNil:
		return nil, nil
	case tagInt:
		n, err := binary.ReadVarint(d.r)
		if err != nil {
			return nil, fmt.Errorf("%w: bad int", ErrCorrupt)
		}
		return Int(n), nil
	case tagFloat:
		var raw [8]byte
		if _, err := io.ReadFull(d.r, raw[:]); err != nil {
			return nil, fmt.Errorf("%w: bad float", ErrCorrupt)
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(raw[:]))), nil
	case tagBool:
		c, err := d.r.ReadByte()
		if err != nil || c > 1 {
			return nil, fmt.Errorf("%w: bad bool", ErrCorrupt)
		}
		return Bool(c == 1), nil
	case tagString:
		s, err := d.string()
		return String(s), err
	case tagAtom:
		s, err := d.string()
		return Atom(s), err
	case tagBytes:
		s, err := d.string()
		return Bytes(s), err
	case tagList:
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		out := make(List, 0, n)
		for i := 0; i < n; i++ {
			e, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case tagTuple:
		label, err := d.string()
		if err != nil {
			return nil, err
		}
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		fields := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			e, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			fields = append(fields, e)
		}
		return Tuple{Label: Atom(label), Fields: fields}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrCorrupt, b)
	}
}

// count reads an element count; every element takes at least one byte.
func (d *decoder) count() (int, error) {
	n, err := binary.ReadUvarint(d.r)
	if err != nil || n > uint64(d.r.Len()) {
		return 0, fmt.Errorf("%w: bad element count", ErrCorrupt)
	}
	return int(n), nil
}

func (d *decoder) string() (string, error) {
	n, err := binary.ReadUvarint(d.r)
	if err != nil || n > uint64(d.r.Len()) {
		return "", fmt.Errorf("%w: bad string length", ErrCorrupt)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", fmt.Errorf("%w: truncated string", ErrCorrupt)
	}
	return string(buf), nil
}
