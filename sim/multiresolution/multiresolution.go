// Package multiresolution implements the operators that move data between a
// parent block and its children: prediction (coarse to fine), restriction
// (fine to coarse, cell and face averages) and the wavelet indicator that
// drives remeshing.
//
// A child covers one half of its parent along every active axis. Child cell f
// (counted from the first interior cell) lies inside parent cell
// o*Cells/2 + floor(f/2), where o is the child's offset inside the parent.
package multiresolution

import (
	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/nodeid"
)

// Fifth-order interpolation coefficients of the prediction along one axis.
const (
	firstCoefficient  = -22.0 / 128.0
	secondCoefficient = 3.0 / 128.0
	thirdOrderFactor  = -1.0 / 8.0
)

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// ParentCell returns the parent cell containing the given child cell. Child
// cells may lie in the halo; the result may then lie in the parent's halo.
func ParentCell(l block.Layout, child nodeid.ID, cell [3]int) [3]int {
	offset := nodeid.ChildOffset(child)
	var p [3]int
	for axis := 0; axis < 3; axis++ {
		if axis >= l.Dim {
			continue
		}
		f := cell[axis] - l.FirstInterior(axis)
		p[axis] = l.FirstInterior(axis) + offset[axis]*l.Cells/2 + floorDiv(f, 2)
	}
	return p
}

// isLeftHalf reports whether the child cell is the lower of the two fine
// cells inside its parent cell along axis.
func isLeftHalf(l block.Layout, cell [3]int, axis int) bool {
	return floorDiv(cell[axis]-l.FirstInterior(axis), 2)*2 == cell[axis]-l.FirstInterior(axis)
}

// correction returns the prediction increment of the left fine cell inside
// parent cell p along axis. The stencil degrades to third order and then to
// injection when it would leave the field.
func correction(l block.Layout, parent block.Field, p [3]int, axis int) float64 {
	at := func(shift int) float64 {
		c := p
		c[axis] += shift
		return parent[l.IndexOf(c)]
	}
	last := l.Total(axis) - 1
	switch {
	case p[axis]-2 >= 0 && p[axis]+2 <= last:
		return firstCoefficient*(at(1)-at(-1)) + secondCoefficient*(at(2)-at(-2))
	case p[axis]-1 >= 0 && p[axis]+1 <= last:
		return thirdOrderFactor * (at(1) - at(-1))
	}
	return 0
}

// predictAxes evaluates the prediction of one child cell from the parent,
// adding the per-axis increments of the given axes.
func predictAxes(l block.Layout, parent block.Field, child nodeid.ID, cell [3]int, axes []int) float64 {
	p := ParentCell(l, child, cell)
	value := parent[l.IndexOf(p)]
	for _, axis := range axes {
		q := correction(l, parent, p, axis)
		if isLeftHalf(l, cell, axis) {
			value += q
		} else {
			value -= q
		}
	}
	return value
}

func activeAxes(l block.Layout) []int {
	axes := make([]int, l.Dim)
	for i := range axes {
		axes[i] = i
	}
	return axes
}

// Predict fills the interior of child from the parent field. The increments
// of all axes are added to the parent value, so the mean of the 2^d children
// cells always equals the parent cell and constant data is reproduced exactly.
func Predict(l block.Layout, parent, child block.Field, childID nodeid.ID) {
	axes := activeAxes(l)
	l.ForEachInterior(func(c [3]int) {
		child[l.IndexOf(c)] = predictAxes(l, parent, childID, c, axes)
	})
}

// PredictGhost returns the value of a ghost cell of a child whose face along
// normal has no same-level neighbor. Only the normal direction is
// interpolated; tangentially the parent value is taken as is.
func PredictGhost(l block.Layout, parent block.Field, childID nodeid.ID, cell [3]int, normal int) float64 {
	return predictAxes(l, parent, childID, cell, []int{normal})
}

// InjectGhost returns the parent value of the cell containing the child cell.
func InjectGhost[T any](l block.Layout, parent []T, childID nodeid.ID, cell [3]int) T {
	return parent[l.IndexOf(ParentCell(l, childID, cell))]
}

// quadrant enumerates the parent cells covered by a child in index order.
func quadrant(l block.Layout, childID nodeid.ID, fn func(parentCell [3]int, firstFine [3]int)) {
	offset := nodeid.ChildOffset(childID)
	half := [3]int{1, 1, 1}
	for axis := 0; axis < l.Dim; axis++ {
		half[axis] = l.Cells / 2
	}
	for i := 0; i < half[0]; i++ {
		for j := 0; j < half[1]; j++ {
			for k := 0; k < half[2]; k++ {
				q := [3]int{i, j, k}
				var p, f [3]int
				for axis := 0; axis < 3; axis++ {
					if axis >= l.Dim {
						continue
					}
					p[axis] = l.FirstInterior(axis) + offset[axis]*l.Cells/2 + q[axis]
					f[axis] = l.FirstInterior(axis) + 2*q[axis]
				}
				fn(p, f)
			}
		}
	}
}

// Restrict returns the cell averages of the child over the parent cells it
// covers, in quadrant index order. Fine cells are summed in a fixed order.
func Restrict(l block.Layout, child block.Field, childID nodeid.ID) []float64 {
	n := 1 << l.Dim
	out := make([]float64, 0, l.InteriorSize()/n)
	quadrant(l, childID, func(_ [3]int, f [3]int) {
		sum := 0.0
		for corner := 0; corner < n; corner++ {
			c := f
			for axis := 0; axis < l.Dim; axis++ {
				c[axis] += (corner >> axis) & 1
			}
			sum += child[l.IndexOf(c)]
		}
		out = append(out, sum/float64(n))
	})
	return out
}

// WriteQuadrant stores restricted values (as returned by Restrict) into the
// parent cells covered by the child.
func WriteQuadrant(l block.Layout, parent block.Field, childID nodeid.ID, values []float64) {
	i := 0
	quadrant(l, childID, func(p [3]int, _ [3]int) {
		parent[l.IndexOf(p)] = values[i]
		i++
	})
}

// QuadrantSize returns the number of parent cells covered by one child.
func QuadrantSize(l block.Layout) int {
	return l.InteriorSize() >> l.Dim
}

// TouchesParentFace reports whether the child's face in direction dir lies
// on the parent's face in the same direction.
func TouchesParentFace(childID nodeid.ID, dir nodeid.Direction) bool {
	offset := nodeid.ChildOffset(childID)[dir.Axis()]
	if dir.Sign() > 0 {
		return offset == 1
	}
	return offset == 0
}

// RestrictFace adds the area average of a child face (one surface field)
// onto the part of the parent face it covers. The child face must touch the
// parent face.
func RestrictFace(l block.Layout, childFace, parentFace []float64, childID nodeid.ID, dir nodeid.Direction) {
	tangential := make([]int, 0, 2)
	for axis := 0; axis < l.Dim; axis++ {
		if axis != dir.Axis() {
			tangential = append(tangential, axis)
		}
	}
	offset := nodeid.ChildOffset(childID)
	weight := 1.0 / float64(int(1)<<len(tangential))
	for face, v := range childFace {
		pos := [2]int{}
		rest := face
		for t := len(tangential) - 1; t >= 0; t-- {
			pos[t] = rest % l.Cells
			rest /= l.Cells
		}
		parentFaceIndex := 0
		for t, axis := range tangential {
			parentFaceIndex = parentFaceIndex*l.Cells + offset[axis]*l.Cells/2 + pos[t]/2
		}
		parentFace[parentFaceIndex] += weight * v
	}
}
