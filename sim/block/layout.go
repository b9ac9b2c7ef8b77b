// Package block holds the heavy per-node data of the forest: cell-centred
// field buffers with a halo of ghost cells around a fixed interior, and the
// per-face surface buffers used by the jump-flux correction.
package block

import (
	"fmt"

	"github.com/blockforest/blockforest/sim/nodeid"
)

// Layout describes the cell arrangement shared by every block of a run.
// Axes beyond Dim are inactive and hold exactly one cell with no halo.
type Layout struct {
	Dim   int // 1, 2 or 3
	Cells int // interior cells per active axis (even)
	Halo  int // ghost layers per active face
}

// NewLayout validates and returns a Layout.
func NewLayout(dim, cells, halo int) (Layout, error) {
	if dim < 1 || dim > 3 {
		return Layout{}, fmt.Errorf("dimension must be 1, 2 or 3, got %d", dim)
	}
	if cells < 4 || cells%2 != 0 {
		return Layout{}, fmt.Errorf("interior cells must be even and at least 4, got %d", cells)
	}
	if halo < 2 || halo > cells {
		return Layout{}, fmt.Errorf("halo width must be in [2, %d], got %d", cells, halo)
	}
	return Layout{Dim: dim, Cells: cells, Halo: halo}, nil
}

// Total returns the number of cells along the axis including ghost layers.
func (l Layout) Total(axis int) int {
	if axis >= l.Dim {
		return 1
	}
	return l.Cells + 2*l.Halo
}

// FirstInterior returns the index of the first interior cell along the axis.
func (l Layout) FirstInterior(axis int) int {
	if axis >= l.Dim {
		return 0
	}
	return l.Halo
}

// LastInterior returns the index of the last interior cell along the axis.
func (l Layout) LastInterior(axis int) int {
	if axis >= l.Dim {
		return 0
	}
	return l.Halo + l.Cells - 1
}

// Interior returns the number of interior cells along the axis.
func (l Layout) Interior(axis int) int {
	if axis >= l.Dim {
		return 1
	}
	return l.Cells
}

// Size returns the number of cells of a field including ghost cells.
func (l Layout) Size() int {
	return l.Total(0) * l.Total(1) * l.Total(2)
}

// InteriorSize returns the number of interior cells of a field.
func (l Layout) InteriorSize() int {
	return l.Interior(0) * l.Interior(1) * l.Interior(2)
}

// FaceCells returns the number of interior cells touching one face.
func (l Layout) FaceCells() int {
	n := 1
	for axis := 1; axis < l.Dim; axis++ {
		n *= l.Cells
	}
	return n
}

// Index linearises cell coordinates (x slowest, z fastest).
func (l Layout) Index(i, j, k int) int {
	return (i*l.Total(1)+j)*l.Total(2) + k
}

// IndexOf is Index for a coordinate triple.
func (l Layout) IndexOf(c [3]int) int {
	return l.Index(c[0], c[1], c[2])
}

// Stride returns the distance in linear index between neighboring cells
// along the axis.
func (l Layout) Stride(axis int) int {
	var unit [3]int
	unit[axis] = 1
	return l.IndexOf(unit)
}

// ForEachInterior calls fn for every interior cell in index order.
func (l Layout) ForEachInterior(fn func(c [3]int)) {
	for i := l.FirstInterior(0); i <= l.LastInterior(0); i++ {
		for j := l.FirstInterior(1); j <= l.LastInterior(1); j++ {
			for k := l.FirstInterior(2); k <= l.LastInterior(2); k++ {
				fn([3]int{i, j, k})
			}
		}
	}
}

// tangentialAxes returns the active axes other than the normal one, ascending.
func (l Layout) tangentialAxes(normal int) []int {
	axes := make([]int, 0, 2)
	for axis := 0; axis < l.Dim; axis++ {
		if axis != normal {
			axes = append(axes, axis)
		}
	}
	return axes
}

// forEachFacePosition enumerates the interior tangential positions of a face
// in face order. face is the position inside the surface buffer.
func (l Layout) forEachFacePosition(dir nodeid.Direction, fn func(face int, c [3]int)) {
	normal := dir.Axis()
	if normal >= l.Dim {
		panic(fmt.Sprintf("block: face %v does not exist in %dD", dir, l.Dim))
	}
	tangential := l.tangentialAxes(normal)
	var c [3]int
	face := 0
	var walk func(depth int)
	walk = func(depth int) {
		if depth == len(tangential) {
			fn(face, c)
			face++
			return
		}
		axis := tangential[depth]
		for v := l.FirstInterior(axis); v <= l.LastInterior(axis); v++ {
			c[axis] = v
			walk(depth + 1)
		}
	}
	walk(0)
}

// FaceCell pairs the surface buffer position of a face with the interior
// cell adjacent to that face.
type FaceCell struct {
	Face int // position inside a surface buffer
	Cell int // linear index of the interior cell
}

// FaceCellsOf returns the interior cells adjacent to the face in face order.
func (l Layout) FaceCellsOf(dir nodeid.Direction) []FaceCell {
	normal := dir.Axis()
	out := make([]FaceCell, 0, l.FaceCells())
	l.forEachFacePosition(dir, func(face int, c [3]int) {
		if dir.Sign() > 0 {
			c[normal] = l.LastInterior(normal)
		} else {
			c[normal] = l.FirstInterior(normal)
		}
		out = append(out, FaceCell{Face: face, Cell: l.IndexOf(c)})
	})
	return out
}

// GhostPair maps one ghost cell of a face to the cell that fills it.
// Pairs are ordered by layer first, then by face position.
type GhostPair struct {
	Layer  int    // 0 is the layer touching the interior
	Ghost  int    // linear index of the ghost cell
	Source int    // linear index of the source cell
	Cell   [3]int // coordinates of the ghost cell
}

// ghostCoordinate returns the normal coordinate of ghost layer n of the face.
func (l Layout) ghostCoordinate(dir nodeid.Direction, n int) int {
	if dir.Sign() > 0 {
		return l.LastInterior(dir.Axis()) + 1 + n
	}
	return l.FirstInterior(dir.Axis()) - 1 - n
}

// NeighborPairs returns, for the ghost cells of face dir, the interior cell
// of the same-level neighbor across that face which fills them. The East ghost
// layer n is the neighbor's (n+1)-th interior cell counted from its West side.
func (l Layout) NeighborPairs(dir nodeid.Direction) []GhostPair {
	normal := dir.Axis()
	out := make([]GhostPair, 0, l.Halo*l.FaceCells())
	for n := 0; n < l.Halo; n++ {
		l.forEachFacePosition(dir, func(_ int, c [3]int) {
			ghost := c
			ghost[normal] = l.ghostCoordinate(dir, n)
			source := c
			if dir.Sign() > 0 {
				source[normal] = l.FirstInterior(normal) + n
			} else {
				source[normal] = l.LastInterior(normal) - n
			}
			out = append(out, GhostPair{Layer: n, Ghost: l.IndexOf(ghost), Source: l.IndexOf(source), Cell: ghost})
		})
	}
	return out
}

// ExtensionPairs returns, for the ghost cells of face dir, the node's own
// interior cell closest to the face.
func (l Layout) ExtensionPairs(dir nodeid.Direction) []GhostPair {
	normal := dir.Axis()
	out := make([]GhostPair, 0, l.Halo*l.FaceCells())
	for n := 0; n < l.Halo; n++ {
		l.forEachFacePosition(dir, func(_ int, c [3]int) {
			ghost := c
			ghost[normal] = l.ghostCoordinate(dir, n)
			source := c
			if dir.Sign() > 0 {
				source[normal] = l.LastInterior(normal)
			} else {
				source[normal] = l.FirstInterior(normal)
			}
			out = append(out, GhostPair{Layer: n, Ghost: l.IndexOf(ghost), Source: l.IndexOf(source), Cell: ghost})
		})
	}
	return out
}

// CellSize returns the edge length of a cell on the given level for a root
// block of edge length rootLength.
func (l Layout) CellSize(level int, rootLength float64) float64 {
	return rootLength / float64(l.Cells) / float64(uint64(1)<<uint(level))
}
