// Package nodeid encodes the position of a block in the forest into a single
// integer. Parent, children and same-level neighbors are derived with bit
// arithmetic only; no lookup into the tree is needed.
//
// Layout (most significant first):
//
//	| 3 spare | 12 root index | 45 child path (15 levels x 3 bits) | 4 level |
//
// The child path is left-aligned, so the integer order of ids is the
// depth-first pre-order of the forest: a parent sorts before its children,
// siblings sort by child index and every subtree occupies a contiguous id range.
// All canonical traversals and tie-breaks in this module use that order.
package nodeid

import (
	"fmt"
	"sort"
)

// ID identifies a node of the block forest.
type ID uint64

const (
	// MaxLevel is the deepest refinement level an ID can encode.
	MaxLevel = 15
	// MaxRoots is the number of level-zero blocks an ID can encode.
	MaxRoots = 1 << rootBits

	levelBits = 4
	pathBits  = 3 * MaxLevel
	rootBits  = 12

	levelMask = (1 << levelBits) - 1
	pathShift = levelBits
	rootShift = pathBits + levelBits
)

// Level returns the refinement level of the node.
func (id ID) Level() int {
	return int(id & levelMask)
}

// Root returns the linear index of the level-zero ancestor.
func (id ID) Root() int {
	return int(id >> rootShift)
}

func (id ID) path() uint64 {
	return (uint64(id) >> pathShift) & ((1 << pathBits) - 1)
}

// pathOffset is the bit offset (inside the path field) of the child index
// chosen when descending to the given level.
func pathOffset(level int) uint {
	return uint(3 * (MaxLevel - level))
}

// ChildIndex returns the position of the node among its siblings, i.e. the
// bits x | y<<1 | z<<2 of its offset inside the parent. Level-zero nodes
// return 0.
func (id ID) ChildIndex() int {
	l := id.Level()
	if l == 0 {
		return 0
	}
	return int((id.path() >> pathOffset(l)) & 7)
}

// Parent returns the id of the parent node. Panics on level-zero ids.
func (id ID) Parent() ID {
	l := id.Level()
	if l == 0 {
		panic(fmt.Sprintf("nodeid: level-zero node %d has no parent", uint64(id)))
	}
	cleared := uint64(id) &^ (uint64(7) << (pathShift + pathOffset(l)))
	return ID((cleared &^ levelMask) | uint64(l-1))
}

// Child returns the child with the given sibling index (0..7).
func (id ID) Child(index int) ID {
	l := id.Level()
	if l >= MaxLevel {
		panic(fmt.Sprintf("nodeid: node %d is already on the deepest level %d", uint64(id), MaxLevel))
	}
	if index < 0 || index > 7 {
		panic(fmt.Sprintf("nodeid: invalid child index %d", index))
	}
	withChild := uint64(id) | uint64(index)<<(pathShift+pathOffset(l+1))
	return ID((withChild &^ levelMask) | uint64(l+1))
}

// Children returns the 2^dim children in ascending id order.
func (id ID) Children(dim int) []ID {
	n := 1 << dim
	children := make([]ID, n)
	for i := 0; i < n; i++ {
		children[i] = id.Child(i)
	}
	return children
}

// IsAncestorOf reports whether id is a strict ancestor of other.
func (id ID) IsAncestorOf(other ID) bool {
	for other.Level() > id.Level() {
		other = other.Parent()
		if other == id {
			return true
		}
	}
	return false
}

// String renders the id as root/path@level, e.g. "3/01@2".
func (id ID) String() string {
	s := fmt.Sprintf("%d/", id.Root())
	for l := 1; l <= id.Level(); l++ {
		s += fmt.Sprintf("%d", (id.path()>>pathOffset(l))&7)
	}
	return fmt.Sprintf("%s@%d", s, id.Level())
}

// Sort orders ids ascending, i.e. in canonical traversal order.
func Sort(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Unique sorts ids and drops duplicates in place.
func Unique(ids []ID) []ID {
	Sort(ids)
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}
