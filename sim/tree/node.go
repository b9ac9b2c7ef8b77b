package tree

import (
	"fmt"
	"sort"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/topology"
)

// Node is the heavy data of one node: one block per material, interface tags
// per cell and, on multi-material leaves, the interface description.
type Node struct {
	id        nodeid.ID
	layout    block.Layout
	shape     block.Shape
	phases    map[topology.Material]*block.Block
	materials []topology.Material
	tags      []int8
	iface     *block.InterfaceBlock
}

func newNode(id nodeid.ID, layout block.Layout, shape block.Shape, materials []topology.Material) *Node {
	n := &Node{
		id:     id,
		layout: layout,
		shape:  shape,
		phases: make(map[topology.Material]*block.Block, len(materials)),
		tags:   make([]int8, layout.Size()),
	}
	for _, m := range materials {
		n.AddPhase(m)
	}
	return n
}

// ID returns the node id.
func (n *Node) ID() nodeid.ID { return n.id }

// Materials returns the materials held by the node in ascending order.
func (n *Node) Materials() []topology.Material { return n.materials }

// HasMaterial reports whether the node holds a block for m.
func (n *Node) HasMaterial(m topology.Material) bool {
	_, ok := n.phases[m]
	return ok
}

// Phase returns the block of material m.
func (n *Node) Phase(m topology.Material) *block.Block {
	b, ok := n.phases[m]
	if !ok {
		panic(fmt.Sprintf("tree.Node.Phase: node %v holds no material %d", n.id, m))
	}
	return b
}

// SinglePhase returns the block of a single-material node.
func (n *Node) SinglePhase() *block.Block {
	if len(n.materials) != 1 {
		panic(fmt.Sprintf("tree.Node.SinglePhase: node %v holds %d materials", n.id, len(n.materials)))
	}
	return n.phases[n.materials[0]]
}

// AddPhase allocates a zeroed block for material m if absent.
func (n *Node) AddPhase(m topology.Material) *block.Block {
	if b, ok := n.phases[m]; ok {
		return b
	}
	b := block.New(n.layout, n.shape)
	n.phases[m] = b
	n.materials = append(n.materials, m)
	sort.Slice(n.materials, func(i, j int) bool { return n.materials[i] < n.materials[j] })
	return b
}

// RemovePhase drops the block of material m.
func (n *Node) RemovePhase(m topology.Material) {
	if _, ok := n.phases[m]; !ok {
		return
	}
	delete(n.phases, m)
	for i, x := range n.materials {
		if x == m {
			n.materials = append(n.materials[:i], n.materials[i+1:]...)
			break
		}
	}
}

// Tags returns the interface tags of all cells.
func (n *Node) Tags() []int8 { return n.tags }

// SetUniformTags sets every interface tag to v.
func (n *Node) SetUniformTags(v int8) {
	for i := range n.tags {
		n.tags[i] = v
	}
}

// Interface returns the interface description, nil on single-material nodes.
func (n *Node) Interface() *block.InterfaceBlock { return n.iface }

// HasLevelset reports whether the node carries an interface description.
func (n *Node) HasLevelset() bool { return n.iface != nil }

// EnsureInterface allocates the interface description if absent.
func (n *Node) EnsureInterface() *block.InterfaceBlock {
	if n.iface == nil {
		n.iface = block.NewInterfaceBlock(n.layout)
	}
	return n.iface
}

// DropInterface removes the interface description.
func (n *Node) DropInterface() { n.iface = nil }
