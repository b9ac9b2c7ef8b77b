package nodeid

import "fmt"

// Direction names one of the six faces of a block.
type Direction int

// The order of the directions is the fixed face order used for every
// summation over faces.
const (
	East Direction = iota
	West
	North
	South
	Top
	Bottom
)

// AllDirections lists the six faces in canonical order.
var AllDirections = [6]Direction{East, West, North, South, Top, Bottom}

var directionNames = [6]string{"East", "West", "North", "South", "Top", "Bottom"}

func (d Direction) String() string {
	if d < East || d > Bottom {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Axis returns 0 for East/West, 1 for North/South and 2 for Top/Bottom.
func (d Direction) Axis() int {
	return int(d) / 2
}

// Sign returns +1 for the positive side of an axis and -1 for the negative one.
func (d Direction) Sign() int {
	if int(d)%2 == 0 {
		return 1
	}
	return -1
}

// Opposite returns the face on the other side of the same axis.
func (d Direction) Opposite() Direction {
	return Direction(int(d) ^ 1)
}

// Directions returns the faces that exist in a domain of the given dimension.
func Directions(dim int) []Direction {
	return AllDirections[:2*dim]
}

// Domain describes the level-zero block arrangement of a forest.
type Domain struct {
	Dim      int     // 1, 2 or 3
	Roots    [3]int  // level-zero blocks per axis; inactive axes must be 1
	Periodic [3]bool // periodic wrap-around per axis
}

// NewDomain validates and returns a Domain.
func NewDomain(dim int, roots [3]int, periodic [3]bool) (Domain, error) {
	if dim < 1 || dim > 3 {
		return Domain{}, fmt.Errorf("dimension must be 1, 2 or 3, got %d", dim)
	}
	total := 1
	for axis := 0; axis < 3; axis++ {
		if roots[axis] < 1 {
			return Domain{}, fmt.Errorf("roots[%d] must be positive, got %d", axis, roots[axis])
		}
		if axis >= dim && roots[axis] != 1 {
			return Domain{}, fmt.Errorf("roots[%d] must be 1 in %dD, got %d", axis, dim, roots[axis])
		}
		if axis >= dim && periodic[axis] {
			return Domain{}, fmt.Errorf("periodic[%d] is set on an inactive axis", axis)
		}
		total *= roots[axis]
	}
	if total > MaxRoots {
		return Domain{}, fmt.Errorf("%d level-zero blocks exceed the limit of %d", total, MaxRoots)
	}
	return Domain{Dim: dim, Roots: roots, Periodic: periodic}, nil
}

// RootCount returns the number of level-zero blocks.
func (d Domain) RootCount() int {
	return d.Roots[0] * d.Roots[1] * d.Roots[2]
}

// RootIDs returns the ids of all level-zero blocks in ascending order.
func (d Domain) RootIDs() []ID {
	ids := make([]ID, d.RootCount())
	for r := range ids {
		ids[r] = ID(uint64(r) << rootShift)
	}
	return ids
}

// Coordinates returns the integer position of the node on its own level.
func (d Domain) Coordinates(id ID) [3]int {
	r := id.Root()
	root := [3]int{r % d.Roots[0], (r / d.Roots[0]) % d.Roots[1], r / (d.Roots[0] * d.Roots[1])}
	l := id.Level()
	coords := [3]int{}
	for axis := 0; axis < 3; axis++ {
		coords[axis] = root[axis] << l
	}
	p := id.path()
	for k := 1; k <= l; k++ {
		c := (p >> pathOffset(k)) & 7
		for axis := 0; axis < 3; axis++ {
			coords[axis] |= int((c>>axis)&1) << (l - k)
		}
	}
	return coords
}

// FromCoordinates is the inverse of Coordinates.
func (d Domain) FromCoordinates(level int, coords [3]int) ID {
	root := [3]int{}
	for axis := 0; axis < 3; axis++ {
		root[axis] = coords[axis] >> level
	}
	r := root[0] + d.Roots[0]*(root[1]+d.Roots[1]*root[2])
	var p uint64
	for k := 1; k <= level; k++ {
		var c uint64
		for axis := 0; axis < 3; axis++ {
			c |= uint64((coords[axis]>>(level-k))&1) << axis
		}
		p |= c << pathOffset(k)
	}
	return ID(uint64(r)<<rootShift | p<<pathShift | uint64(level))
}

// extent returns the number of nodes along the axis on the given level.
func (d Domain) extent(axis, level int) int {
	return d.Roots[axis] << level
}

// IsExternalBoundary reports whether the face lies on a non-periodic domain
// boundary.
func (d Domain) IsExternalBoundary(id ID, dir Direction) bool {
	axis := dir.Axis()
	if axis >= d.Dim {
		panic(fmt.Sprintf("nodeid: direction %v does not exist in %dD", dir, d.Dim))
	}
	if d.Periodic[axis] {
		return false
	}
	c := d.Coordinates(id)[axis]
	if dir.Sign() > 0 {
		return c == d.extent(axis, id.Level())-1
	}
	return c == 0
}

// Neighbor returns the same-level neighbor across the face. The boolean is
// false when the face is an external (non-periodic) domain boundary.
func (d Domain) Neighbor(id ID, dir Direction) (ID, bool) {
	if d.IsExternalBoundary(id, dir) {
		return 0, false
	}
	axis := dir.Axis()
	coords := d.Coordinates(id)
	n := d.extent(axis, id.Level())
	coords[axis] = (coords[axis] + dir.Sign() + n) % n
	return d.FromCoordinates(id.Level(), coords), true
}

// ChildOffset returns the 0/1 offset of the node inside its parent per axis.
func ChildOffset(id ID) [3]int {
	c := id.ChildIndex()
	return [3]int{c & 1, (c >> 1) & 1, (c >> 2) & 1}
}
