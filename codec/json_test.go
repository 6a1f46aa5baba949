package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type shape interface {
	Area() int
}

type square struct {
	Side int
}

func (s square) Area() int {
	return s.Side * s.Side
}

type rect struct {
	Width  int
	Height int
}

func (r rect) Area() int {
	return r.Width * r.Height
}

func newTypes(t *testing.T) *Types {
	types := NewTypes()
	require.NoError(t, Register[square](types, "square"))
	require.NoError(t, Register[rect](types, "rect"))
	return types
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	requireT := require.New(t)

	types := newTypes(t)
	requireT.Error(Register[square](types, "square2"))
	requireT.Error(Register[int](types, "rect"))
	requireT.Error(Register[int](types, ""))
}

func TestPolymorphicRoundTrip(t *testing.T) {
	requireT := require.New(t)

	c := NewJSON(newTypes(t))

	data, err := c.Encode(rect{Width: 2, Height: 3}, true)
	requireT.NoError(err)

	var s shape
	requireT.NoError(c.Decode(data, &s, true))
	requireT.Equal(rect{Width: 2, Height: 3}, s)
	requireT.Equal(6, s.Area())

	data, err = c.Encode(&square{Side: 3}, true)
	requireT.NoError(err)
	requireT.NoError(c.Decode(data, &s, true))
	requireT.Equal(square{Side: 3}, s)
}

func TestPolymorphicErrors(t *testing.T) {
	requireT := require.New(t)

	c := NewJSON(newTypes(t))

	_, err := c.Encode(struct{}{}, true)
	requireT.ErrorIs(err, ErrUnknownType)

	data, err := c.Encode(square{Side: 1}, true)
	requireT.NoError(err)

	var r rect
	requireT.ErrorIs(c.Decode(data, &r, true), ErrIncompatibleType)

	requireT.ErrorIs(c.Decode([]byte(`{"t":"circle","v":{}}`), &r, true), ErrUnknownType)
}

func TestPlainRoundTrip(t *testing.T) {
	requireT := require.New(t)

	c := NewJSON(nil)

	data, err := c.Encode(map[string]int{"a": 1}, false)
	requireT.NoError(err)

	var v map[string]int
	requireT.NoError(c.Decode(data, &v, false))
	requireT.Equal(map[string]int{"a": 1}, v)
}
