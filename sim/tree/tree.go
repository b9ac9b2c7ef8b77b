// Package tree is the rank-local store of heavy node data. It holds a Node for
// every id the topology directory assigns to this rank, leaves and parents
// alike, and keeps the directory informed of structural changes it makes.
package tree

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/multiresolution"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/topology"
)

// Tree owns the nodes of one rank.
type Tree struct {
	dir    *topology.Directory
	layout block.Layout
	shape  block.Shape
	rank   int
	nodes  map[nodeid.ID]*Node
}

// New creates an empty tree for rank.
func New(dir *topology.Directory, layout block.Layout, shape block.Shape, rank int) *Tree {
	return &Tree{
		dir:    dir,
		layout: layout,
		shape:  shape,
		rank:   rank,
		nodes:  make(map[nodeid.ID]*Node),
	}
}

// Directory returns the topology directory the tree follows.
func (t *Tree) Directory() *topology.Directory { return t.dir }

// Layout returns the block layout.
func (t *Tree) Layout() block.Layout { return t.layout }

// Shape returns the per-material field counts.
func (t *Tree) Shape() block.Shape { return t.shape }

// Rank returns the rank owning this tree.
func (t *Tree) Rank() int { return t.rank }

// CreateNode allocates a node with zeroed buffers for the given materials.
func (t *Tree) CreateNode(id nodeid.ID, materials []topology.Material) *Node {
	if _, ok := t.nodes[id]; ok {
		panic(fmt.Sprintf("tree.CreateNode: node %v already exists on rank %d", id, t.rank))
	}
	n := newNode(id, t.layout, t.shape, materials)
	t.nodes[id] = n
	return n
}

// FollowMaterials brings the phases of every local node in line with the
// materials the directory lists for it. Multi-material leaves carry an
// interface description; every other node drops it.
func (t *Tree) FollowMaterials() {
	for _, id := range t.IDs() {
		n := t.nodes[id]
		want := t.dir.MaterialsOfNode(id)
		for _, m := range append([]topology.Material(nil), n.materials...) {
			if !slices.Contains(want, m) {
				n.RemovePhase(m)
			}
		}
		for _, m := range want {
			n.AddPhase(m)
		}
		if len(want) > 1 && t.dir.NodeIsLeaf(id) {
			n.EnsureInterface()
		} else {
			n.DropInterface()
		}
	}
}

// RefineNode creates the children of a local single-material leaf, predicts
// their right-hand-side buffers from the parent's and records the refinement
// in the directory. The caller commits the directory afterwards.
func (t *Tree) RefineNode(id nodeid.ID) []nodeid.ID {
	parent := t.GetNodeWithId(id)
	if !t.dir.NodeIsLeaf(id) {
		panic(fmt.Sprintf("tree.RefineNode: node %v is not a leaf", id))
	}
	if t.dir.IsNodeMultiPhase(id) {
		panic(fmt.Sprintf("tree.RefineNode: node %v holds more than one material", id))
	}
	material := t.dir.SingleMaterialOfNode(id)
	source := parent.Phase(material).Buffer(block.RightHandSide)
	children := id.Children(t.layout.Dim)
	for _, childID := range children {
		child := t.CreateNode(childID, []topology.Material{material})
		target := child.Phase(material).Buffer(block.RightHandSide)
		for eq := range source {
			multiresolution.Predict(t.layout, source[eq], target[eq], childID)
		}
		t.layout.ForEachInterior(func(c [3]int) {
			child.tags[t.layout.IndexOf(c)] = multiresolution.InjectGhost(t.layout, parent.tags, childID, c)
		})
	}
	t.dir.RefineNodeWithId(id)
	logrus.Debugf("rank %d refined %v", t.rank, id)
	return children
}

// RemoveNodeWithId drops the heavy data of a node. No exchange may reference
// the node afterwards.
func (t *Tree) RemoveNodeWithId(id nodeid.ID) {
	if _, ok := t.nodes[id]; !ok {
		panic(fmt.Sprintf("tree.RemoveNodeWithId: node %v does not exist on rank %d", id, t.rank))
	}
	delete(t.nodes, id)
}

// GetNodeWithId returns a local node.
func (t *Tree) GetNodeWithId(id nodeid.ID) *Node {
	n, ok := t.nodes[id]
	if !ok {
		panic(fmt.Sprintf("tree.GetNodeWithId: node %v does not exist on rank %d", id, t.rank))
	}
	return n
}

// NodeExists reports whether the node is held locally.
func (t *Tree) NodeExists(id nodeid.ID) bool {
	_, ok := t.nodes[id]
	return ok
}

// IDs returns the ids of all local nodes in ascending order.
func (t *Tree) IDs() []nodeid.ID {
	ids := make([]nodeid.ID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	nodeid.Sort(ids)
	return ids
}

func (t *Tree) filter(keep func(*Node) bool) []*Node {
	var out []*Node
	for _, id := range t.IDs() {
		if n := t.nodes[id]; keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// NodesOnLevel returns the local nodes on a level in ascending id order.
func (t *Tree) NodesOnLevel(level int) []*Node {
	return t.filter(func(n *Node) bool { return n.id.Level() == level })
}

// LeavesOnLevel returns the local leaves on a level in ascending id order.
func (t *Tree) LeavesOnLevel(level int) []*Node {
	return t.filter(func(n *Node) bool { return n.id.Level() == level && t.dir.NodeIsLeaf(n.id) })
}

// Leaves returns all local leaves in ascending id order.
func (t *Tree) Leaves() []*Node {
	return t.filter(func(n *Node) bool { return t.dir.NodeIsLeaf(n.id) })
}

// NodesWithLevelset returns the local nodes carrying an interface description.
func (t *Tree) NodesWithLevelset() []*Node {
	return t.filter(func(n *Node) bool { return n.HasLevelset() })
}
