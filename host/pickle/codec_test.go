package pickle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack_RoundTrip_PreservesValue(t *testing.T) {
	tests := []struct {
		name string
		in   Value
	}{
		{"nil", nil},
		{"int", Int(-42)},
		{"float", Float(3.25)},
		{"bool", Bool(true)},
		{"string", String("héllo")},
		{"atom", Atom("ok")},
		{"bytes", Bytes{0, 1, 2, 255}},
		{"empty list", List{}},
		{"tuple", NewTuple("terminated", Int(3))},
		{"nested", List{Int(1), NewTuple("pair", Atom("a"), List{String("x"), nil}), Bytes("raw")}},
		{"native types", []Value{1, "two", true, 4.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a value packed in one context
			data, err := Pack(tc.in)
			require.NoError(t, err)

			// WHEN it is unpacked in another
			out, err := Unpack(data)
			require.NoError(t, err)

			// THEN the result is value-equal to the original
			assert.True(t, Equal(tc.in, out), "got %s, want %s", Format(out), Format(tc.in))
		})
	}
}

func TestPack_UnsupportedType_ReturnsError(t *testing.T) {
	_, err := Pack(map[string]int{"a": 1})
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = Pack(List{Int(1), struct{}{}})
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestUnpack_TamperedBody_FailsChecksum(t *testing.T) {
	data, err := Pack(String("payload"))
	require.NoError(t, err)

	// Flip a byte inside the body, leaving framing intact.
	data[len(magic)+1+len(FormatVersion)+2] ^= 0xFF

	_, err = Unpack(data)
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
}

func TestUnpack_Truncated_ReturnsCorrupt(t *testing.T) {
	data, err := Pack(List{Int(1), Int(2)})
	require.NoError(t, err)

	for _, n := range []int{0, 3, len(magic) + 2, len(data) - 1} {
		_, err := Unpack(data[:n])
		assert.True(t, errors.Is(err, ErrCorrupt), "prefix %d: got %v", n, err)
	}
}

func TestUnpack_TrailingBytes_ReturnsCorrupt(t *testing.T) {
	data, err := Pack(Int(7))
	require.NoError(t, err)

	_, err = Unpack(append(data, 0))
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestUnpack_IncompatibleMajor_ReturnsVersionError(t *testing.T) {
	// GIVEN a buffer whose header claims format 2.0.0
	data, err := Pack(Int(1))
	require.NoError(t, err)
	copy(data[len(magic)+1:], "2.0.0")

	// WHEN it is unpacked
	_, err = Unpack(data)

	// THEN it is rejected as incompatible
	assert.True(t, errors.Is(err, ErrVersion), "got %v", err)
}

func TestVersion_ReadsHeader(t *testing.T) {
	data, err := Pack(Atom("x"))
	require.NoError(t, err)

	v, err := Version(data)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, v.String())
}

func TestEqual_DistinguishesStringFromAtom(t *testing.T) {
	assert.False(t, Equal(String("ok"), Atom("ok")))
	assert.True(t, Equal("ok", String("ok")))
	assert.False(t, Equal(List{Int(1)}, List{Int(1), Int(2)}))
	assert.False(t, Equal(NewTuple("a", Int(1)), NewTuple("b", Int(1))))
}

func TestFormat_RendersNestedValues(t *testing.T) {
	v := List{Int(1), NewTuple("terminated", Int(3)), String("s"), nil}
	assert.Equal(t, `[1 terminated(3) "s" nil]`, Format(v))
}

func TestPack_SelfReferencingList_ReturnsUnsupported(t *testing.T) {
	// GIVEN a list that contains itself
	l := List{Int(1), nil}
	l[1] = l

	// WHEN packed, compared, and formatted
	_, err := Pack(l)

	// THEN packing fails with an error instead of exhausting the stack
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = Normalize(NewTuple("wrap", l))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, Equal(l, l))
	assert.Contains(t, Format(l), "...")
}
