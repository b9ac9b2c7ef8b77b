package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDomain(t *testing.T, dim int, roots [3]int, periodic [3]bool) Domain {
	t.Helper()
	d, err := NewDomain(dim, roots, periodic)
	require.NoError(t, err)
	return d
}

// allIDs returns every id of a fully refined forest up to maxLevel.
func allIDs(d Domain, maxLevel int) []ID {
	var out []ID
	level := d.RootIDs()
	for l := 0; l <= maxLevel; l++ {
		out = append(out, level...)
		var next []ID
		if l < maxLevel {
			for _, id := range level {
				next = append(next, id.Children(d.Dim)...)
			}
		}
		level = next
	}
	return out
}

func TestParentChild_RoundTrip(t *testing.T) {
	// GIVEN a 3D domain refined to level 3
	d := mustDomain(t, 3, [3]int{2, 3, 1}, [3]bool{})

	// WHEN walking every node's children
	for _, id := range allIDs(d, 3) {
		if id.Level() == 3 {
			continue
		}
		for i, c := range id.Children(3) {
			// THEN every child points back to its parent with its sibling index
			assert.Equal(t, id, c.Parent(), "parent of %v", c)
			assert.Equal(t, i, c.ChildIndex())
			assert.Equal(t, id.Level()+1, c.Level())
			assert.Equal(t, id.Root(), c.Root())
		}
	}
}

func TestOrder_IsDepthFirstPreOrder(t *testing.T) {
	// GIVEN a node with a refined child
	root := ID(0)
	c0 := root.Child(0)
	c1 := root.Child(1)
	c0c3 := c0.Child(3)

	// THEN parent < children, and the whole subtree of c0 sorts before c1
	assert.Less(t, uint64(root), uint64(c0))
	assert.Less(t, uint64(c0), uint64(c0c3))
	assert.Less(t, uint64(c0c3), uint64(c1))
	assert.True(t, root.IsAncestorOf(c0c3))
	assert.False(t, c1.IsAncestorOf(c0c3))

	next := Domain{Dim: 1, Roots: [3]int{2, 1, 1}}.RootIDs()[1]
	assert.Less(t, uint64(c1.Child(1).Child(1)), uint64(next), "all descendants of root 0 sort before root 1")
}

func TestNeighbor_Symmetry(t *testing.T) {
	tests := []struct {
		name     string
		dim      int
		roots    [3]int
		periodic [3]bool
	}{
		{"1D periodic", 1, [3]int{3, 1, 1}, [3]bool{true}},
		{"2D bounded", 2, [3]int{2, 2, 1}, [3]bool{}},
		{"3D mixed", 3, [3]int{1, 2, 2}, [3]bool{true, false, true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := mustDomain(t, tc.dim, tc.roots, tc.periodic)
			for _, id := range allIDs(d, 3) {
				for _, dir := range Directions(tc.dim) {
					n, ok := d.Neighbor(id, dir)
					if !ok {
						assert.True(t, d.IsExternalBoundary(id, dir))
						continue
					}
					back, ok := d.Neighbor(n, dir.Opposite())
					require.True(t, ok, "reverse neighbor of %v across %v", n, dir.Opposite())
					assert.Equal(t, id, back, "%v -> %v -> %v", id, dir, n)
					assert.Equal(t, id.Level(), n.Level())
				}
			}
		})
	}
}

func TestNeighbor_CrossesRootBoundary(t *testing.T) {
	// GIVEN two 1D roots, each refined once
	d := mustDomain(t, 1, [3]int{2, 1, 1}, [3]bool{})
	roots := d.RootIDs()
	eastChildOfFirst := roots[0].Child(1)

	// WHEN taking the east neighbor of the east child of root 0
	n, ok := d.Neighbor(eastChildOfFirst, East)

	// THEN it is the west child of root 1
	require.True(t, ok)
	assert.Equal(t, roots[1].Child(0), n)

	// AND the west face of root 0's west child is external
	_, ok = d.Neighbor(roots[0].Child(0), West)
	assert.False(t, ok)
}

func TestNeighbor_PeriodicWrap(t *testing.T) {
	d := mustDomain(t, 1, [3]int{2, 1, 1}, [3]bool{true})
	roots := d.RootIDs()

	n, ok := d.Neighbor(roots[0].Child(0), West)

	require.True(t, ok)
	assert.Equal(t, roots[1].Child(1), n)
}

func TestCoordinates_RoundTrip(t *testing.T) {
	d := mustDomain(t, 2, [3]int{3, 2, 1}, [3]bool{})
	for _, id := range allIDs(d, 4) {
		c := d.Coordinates(id)
		assert.Equal(t, id, d.FromCoordinates(id.Level(), c))
	}
}

func TestParent_LevelZeroPanics(t *testing.T) {
	assert.Panics(t, func() { ID(0).Parent() })
}

func TestNewDomain_Validation(t *testing.T) {
	_, err := NewDomain(2, [3]int{2, 2, 2}, [3]bool{})
	assert.Error(t, err, "inactive z axis with 2 roots")
	_, err = NewDomain(4, [3]int{1, 1, 1}, [3]bool{})
	assert.Error(t, err)
	_, err = NewDomain(3, [3]int{64, 64, 2}, [3]bool{})
	assert.Error(t, err, "too many roots")
}

func TestUnique(t *testing.T) {
	a, b := ID(0).Child(1), ID(0).Child(0)
	got := Unique([]ID{a, b, a, b})
	assert.Equal(t, []ID{b, a}, got)
}

func TestString(t *testing.T) {
	assert.Equal(t, "0/13@2", ID(0).Child(1).Child(3).String())
}
