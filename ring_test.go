package tether

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	requireT := require.New(t)

	r := newRing[int](3)
	requireT.Zero(r.Len())

	for i := range 5 {
		r.Push(i * 10)
	}

	requireT.EqualValues(2, r.Start())
	requireT.EqualValues(5, r.End())
	requireT.EqualValues(3, r.Len())

	_, exists := r.Get(1)
	requireT.False(exists)
	_, exists = r.Get(5)
	requireT.False(exists)

	for i := uint64(2); i < 5; i++ {
		v, exists := r.Get(i)
		requireT.True(exists)
		requireT.EqualValues(i*10, v)
	}
}
