// Package halo fills the ghost cells of every local node.
//
// A face is filled from the same-level neighbor when it exists (NoJump), by
// prediction from the node's parent when the neighbor is coarser (Jump), or by
// the boundary collaborator on the domain boundary (External). One call on a
// level issues a single batch of messages completed by one wait; parents must
// be halo-filled before their children predict from them, so multi-level
// updates run from the coarsest level up.
package halo

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/physics"
	"github.com/blockforest/blockforest/sim/topology"
	"github.com/blockforest/blockforest/sim/tree"
)

// Category groups the buffers a halo update can fill.
type Category int

const (
	Conservatives Category = iota
	PrimeStates
	Parameters
	InterfaceTags
	InterfaceBuffers
)

var categoryNames = map[Category]string{
	Conservatives:    "conservatives",
	PrimeStates:      "prime_states",
	Parameters:       "parameters",
	InterfaceTags:    "interface_tags",
	InterfaceBuffers: "interface_buffers",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category_%d", int(c))
}

// Field selects what an update fills. Kind is only read for the
// per-material categories.
type Field struct {
	Category Category
	Kind     block.BufferKind
}

func (f Field) String() string {
	if f.perMaterial() {
		return fmt.Sprintf("%v/%v", f.Category, f.Kind)
	}
	return f.Category.String()
}

func (f Field) perMaterial() bool {
	return f.Category == Conservatives || f.Category == PrimeStates || f.Category == Parameters
}

// Conservative selects one of the conservative buffers.
func Conservative(kind block.BufferKind) Field {
	if !kind.IsConservative() {
		panic(fmt.Sprintf("halo.Conservative: %v is not a conservative buffer", kind))
	}
	return Field{Category: Conservatives, Kind: kind}
}

var (
	PrimeStateField      = Field{Category: PrimeStates, Kind: block.PrimeState}
	ParameterField       = Field{Category: Parameters, Kind: block.Parameter}
	InterfaceTagField    = Field{Category: InterfaceTags}
	InterfaceBufferField = Field{Category: InterfaceBuffers}
)

// Engine runs halo updates for the tree of one rank.
type Engine struct {
	tree     *tree.Tree
	c        comm.Communicator
	boundary physics.Boundary
}

// New returns an engine filling external faces with boundary.
func New(t *tree.Tree, c comm.Communicator, boundary physics.Boundary) *Engine {
	return &Engine{tree: t, c: c, boundary: boundary}
}

// Update fills the halos of the given levels in ascending order. With
// cutJumps set, a node whose parent level is not part of the call extends its
// closest interior values across jump faces instead of predicting from the
// parent.
func (e *Engine) Update(levels []int, f Field, cutJumps bool) {
	sorted := append([]int(nil), levels...)
	sort.Ints(sorted)
	requested := make(map[int]bool, len(sorted))
	for _, level := range sorted {
		requested[level] = true
	}
	for i, level := range sorted {
		if i > 0 && sorted[i-1] == level {
			continue
		}
		e.updateLevel(level, f, cutJumps, requested[level-1])
	}
}

// UpdateOnLevel fills the halos of a single level.
func (e *Engine) UpdateOnLevel(level int, f Field, cutJumps bool) {
	e.updateLevel(level, f, cutJumps, false)
}

func (e *Engine) updateLevel(level int, f Field, cutJumps, parentUpdated bool) {
	t := e.tree
	dir := t.Directory()
	l := t.Layout()
	epoch := dir.Epoch()
	predict := !cutJumps || parentUpdated
	batch := comm.NewBatch(e.c)
	var after []func()
	local, remote := 0, 0

	for _, n := range e.localNodes(level) {
		for _, d := range nodeid.Directions(l.Dim) {
			if dir.ClassifyFace(n.ID(), d) != topology.NoJump {
				continue
			}
			neighbor, _ := dir.Neighbor(n.ID(), d)
			owner := dir.GetRankOfNode(neighbor)
			if owner == t.Rank() {
				continue
			}
			face := d.Opposite()
			pairs := l.NeighborPairs(face)
			for _, aux := range e.shared(f, neighbor, n.ID()) {
				tag := comm.Tag{Epoch: epoch, Kind: e.kind(f, comm.KindHalo), Node: neighbor, Face: int(face), Aux: aux}
				batch.Send(owner, tag, e.groupOf(n, f, aux).slab(pairs))
			}
		}
	}
	if predict && level > 0 {
		for _, p := range e.localNodes(level - 1) {
			if dir.NodeIsLeaf(p.ID()) {
				continue
			}
			for _, child := range p.ID().Children(l.Dim) {
				owner := dir.GetRankOfNode(child)
				if owner == t.Rank() || !e.hasJump(child) {
					continue
				}
				for _, aux := range e.shared(f, child, p.ID()) {
					tag := comm.Tag{Epoch: epoch, Kind: e.kind(f, comm.KindHaloParent), Node: child, Face: -1, Aux: aux}
					batch.Send(owner, tag, e.groupOf(p, f, aux).whole())
				}
			}
		}
	}

	for _, n := range e.localNodes(level) {
		id := n.ID()
		var parents map[int]group
		for _, d := range nodeid.Directions(l.Dim) {
			switch dir.ClassifyFace(id, d) {
			case topology.External:
				for _, aux := range e.keys(f, id) {
					e.groupOf(n, f, aux).fillBoundary(e.boundary, l, d)
				}

			case topology.NoJump:
				neighbor, _ := dir.Neighbor(id, d)
				shared := e.shared(f, id, neighbor)
				e.extendMissing(n, f, shared, d)
				pairs := l.NeighborPairs(d)
				owner := dir.GetRankOfNode(neighbor)
				if owner == t.Rank() {
					partner := t.GetNodeWithId(neighbor)
					for _, aux := range shared {
						e.groupOf(n, f, aux).copyPairs(e.groupOf(partner, f, aux), pairs)
					}
					local++
					continue
				}
				for _, aux := range shared {
					g := e.groupOf(n, f, aux)
					rec := g.emptySlab()
					tag := comm.Tag{Epoch: epoch, Kind: e.kind(f, comm.KindHalo), Node: id, Face: int(d), Aux: aux}
					batch.Receive(owner, tag, rec, func() { g.applySlab(rec, pairs) })
				}
				remote++

			case topology.Jump:
				if !predict {
					for _, aux := range e.keys(f, id) {
						e.groupOf(n, f, aux).extend(l, d)
					}
					continue
				}
				parentID := id.Parent()
				shared := e.shared(f, id, parentID)
				e.extendMissing(n, f, shared, d)
				if parents == nil {
					parents = e.fetchParent(batch, n, f, shared, epoch)
				}
				pairs := l.NeighborPairs(d)
				normal := d.Axis()
				for _, aux := range shared {
					g := e.groupOf(n, f, aux)
					parent := parents[aux]
					if dir.GetRankOfNode(parentID) == t.Rank() {
						g.predictFrom(parent, l, id, pairs, normal)
						continue
					}
					after = append(after, func() { g.predictFrom(parent.resolved(), l, id, pairs, normal) })
				}
			}
		}
	}

	batch.Wait()
	for _, fn := range after {
		fn()
	}
	logrus.Debugf("rank %d halo %v level %d: %d local faces, %d remote faces", t.Rank(), f, level, local, remote)
}

// fetchParent returns the parent's data per aux key. A remote parent is
// received into placeholders that resolve after the wait.
func (e *Engine) fetchParent(batch *comm.Batch, n *tree.Node, f Field, shared []int, epoch uint64) map[int]group {
	t := e.tree
	parentID := n.ID().Parent()
	out := make(map[int]group, len(shared))
	owner := t.Directory().GetRankOfNode(parentID)
	if owner == t.Rank() {
		parent := t.GetNodeWithId(parentID)
		for _, aux := range shared {
			out[aux] = e.groupOf(parent, f, aux)
		}
		return out
	}
	for _, aux := range shared {
		like := e.groupOf(n, f, aux)
		holder := &group{}
		rec := like.emptyWhole()
		tag := comm.Tag{Epoch: epoch, Kind: e.kind(f, comm.KindHaloParent), Node: n.ID(), Face: -1, Aux: aux}
		batch.Receive(owner, tag, rec, func() { *holder = like.fromWhole(rec) })
		out[aux] = group{pending: holder}
	}
	return out
}

// localNodes returns the nodes on level the directory assigns to this rank.
func (e *Engine) localNodes(level int) []*tree.Node {
	t := e.tree
	ids := t.Directory().IdsOnLevelOfRank(level, t.Rank())
	out := make([]*tree.Node, len(ids))
	for i, id := range ids {
		out[i] = t.GetNodeWithId(id)
	}
	return out
}

func (e *Engine) hasJump(id nodeid.ID) bool {
	dir := e.tree.Directory()
	for _, d := range nodeid.Directions(e.tree.Layout().Dim) {
		if dir.ClassifyFace(id, d) == topology.Jump {
			return true
		}
	}
	return false
}

func (e *Engine) kind(f Field, k comm.Kind) comm.Kind {
	if f.Category == InterfaceTags {
		return comm.KindInterfaceTags
	}
	return k
}

func (e *Engine) aux(f Field, m topology.Material) int {
	return comm.PackAux(int(f.Category)<<4|int(f.Kind), int(m))
}

// keys returns the aux keys of the buffers node id holds for f.
func (e *Engine) keys(f Field, id nodeid.ID) []int {
	dir := e.tree.Directory()
	switch {
	case f.perMaterial():
		ms := dir.MaterialsOfNode(id)
		out := make([]int, len(ms))
		for i, m := range ms {
			out[i] = e.aux(f, m)
		}
		return out
	case f.Category == InterfaceBuffers && !dir.IsNodeMultiPhase(id):
		return nil
	}
	return []int{e.aux(f, 0)}
}

// shared returns the aux keys both nodes hold for f, ascending.
func (e *Engine) shared(f Field, a, b nodeid.ID) []int {
	dir := e.tree.Directory()
	switch {
	case f.perMaterial():
		ms := topology.CommonMaterials(dir.MaterialsOfNode(a), dir.MaterialsOfNode(b))
		out := make([]int, len(ms))
		for i, m := range ms {
			out[i] = e.aux(f, m)
		}
		return out
	case f.Category == InterfaceBuffers && (!dir.IsNodeMultiPhase(a) || !dir.IsNodeMultiPhase(b)):
		return nil
	}
	return []int{e.aux(f, 0)}
}

// extendMissing extends the buffers of n that the partner across d lacks.
func (e *Engine) extendMissing(n *tree.Node, f Field, shared []int, d nodeid.Direction) {
	have := make(map[int]bool, len(shared))
	for _, aux := range shared {
		have[aux] = true
	}
	for _, aux := range e.keys(f, n.ID()) {
		if !have[aux] {
			e.groupOf(n, f, aux).extend(e.tree.Layout(), d)
		}
	}
}

func (e *Engine) groupOf(n *tree.Node, f Field, aux int) group {
	switch f.Category {
	case InterfaceTags:
		return group{tags: n.Tags()}
	case InterfaceBuffers:
		return group{fields: n.EnsureInterface().Fields()}
	}
	return group{fields: n.Phase(topology.Material(aux & 0xff)).Buffer(f.Kind)}
}
