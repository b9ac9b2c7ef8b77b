package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockforest/blockforest/sim/nodeid"
)

func TestNewLayout_Validation(t *testing.T) {
	tests := []struct {
		name             string
		dim, cells, halo int
		wantErr          bool
	}{
		{"valid 2D", 2, 8, 2, false},
		{"odd cells", 2, 7, 2, true},
		{"halo too small", 1, 8, 1, true},
		{"bad dim", 0, 8, 2, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLayout(tc.dim, tc.cells, tc.halo)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLayout_Sizes(t *testing.T) {
	l, err := NewLayout(2, 8, 2)
	require.NoError(t, err)

	assert.Equal(t, 12*12, l.Size())
	assert.Equal(t, 64, l.InteriorSize())
	assert.Equal(t, 8, l.FaceCells())
	assert.Equal(t, 1, l.Total(2))

	count := 0
	l.ForEachInterior(func(c [3]int) { count++ })
	assert.Equal(t, 64, count)
}

func TestNeighborPairs_East(t *testing.T) {
	// GIVEN a 1D layout with 4 interior cells and 2 ghost layers
	l, err := NewLayout(1, 4, 2)
	require.NoError(t, err)

	// WHEN asking which neighbor cells fill the East ghost layers
	pairs := l.NeighborPairs(nodeid.East)

	// THEN layer 0 (index 6) comes from the neighbor's first interior cell (index 2)
	require.Len(t, pairs, 2)
	assert.Equal(t, GhostPair{Layer: 0, Ghost: 6, Source: 2, Cell: [3]int{6, 0, 0}}, pairs[0])
	assert.Equal(t, GhostPair{Layer: 1, Ghost: 7, Source: 3, Cell: [3]int{7, 0, 0}}, pairs[1])

	west := l.NeighborPairs(nodeid.West)
	assert.Equal(t, 1, west[0].Ghost)
	assert.Equal(t, 5, west[0].Source)
	assert.Equal(t, 0, west[1].Ghost)
	assert.Equal(t, 4, west[1].Source)
}

func TestFaceCellsOf_2D(t *testing.T) {
	l, err := NewLayout(2, 4, 2)
	require.NoError(t, err)

	north := l.FaceCellsOf(nodeid.North)

	require.Len(t, north, 4)
	for i, fc := range north {
		assert.Equal(t, i, fc.Face)
		assert.Equal(t, l.Index(2+i, 5, 0), fc.Cell)
	}
}

func TestBuffer_UnknownKindPanics(t *testing.T) {
	l, _ := NewLayout(1, 4, 2)
	b := New(l, Shape{Equations: 2})
	assert.Panics(t, func() { b.Buffer(BufferKind(42)) })
}

func TestSwapAverageAndRightHandSide(t *testing.T) {
	l, _ := NewLayout(1, 4, 2)
	b := New(l, Shape{Equations: 1})
	b.Buffer(RightHandSide)[0][3] = 7

	b.SwapAverageAndRightHandSide()

	assert.Equal(t, 7.0, b.Buffer(Average)[0][3])
	assert.Equal(t, 0.0, b.Buffer(RightHandSide)[0][3])
}

func TestSurface_ZeroedAndReset(t *testing.T) {
	l, _ := NewLayout(2, 4, 2)
	b := New(l, Shape{Equations: 3})
	s := b.JumpFluxes()

	assert.Len(t, s[nodeid.North], 3)
	assert.Empty(t, s[nodeid.Top], "inactive face in 2D")
	s[nodeid.East][1][2] = 5

	s.Reset()

	assert.Equal(t, 0.0, s[nodeid.East][1][2])
}

func TestSetBuffer_ShapeMismatchPanics(t *testing.T) {
	l, _ := NewLayout(1, 4, 2)
	b := New(l, Shape{Equations: 2})
	assert.Panics(t, func() { b.SetBuffer(Average, FieldSet{make(Field, l.Size())}) })
}
