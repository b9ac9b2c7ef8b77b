// Package topology is the replicated light-data directory of the forest:
// which nodes exist, who owns them, which are leaves and which materials they
// hold. Every rank keeps an identical copy. Structural changes are recorded as
// intents and applied by the collective UpdateTopology, so all ranks observe
// the same shape after every commit.
package topology

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/nodeid"
)

// Material identifies one fluid of a multiphase simulation.
type Material int

// FaceKind classifies one face of a node.
type FaceKind int

const (
	// External faces lie on a non-periodic domain boundary.
	External FaceKind = iota
	// NoJump faces have a same-level neighbor.
	NoJump
	// Jump faces have no same-level neighbor; the parent's neighbor is used.
	Jump
)

func (k FaceKind) String() string {
	switch k {
	case External:
		return "external"
	case NoJump:
		return "no-jump"
	case Jump:
		return "jump"
	}
	return fmt.Sprintf("FaceKind(%d)", int(k))
}

type lightNode struct {
	owner     int
	leaf      bool
	materials []Material // sorted ascending
}

type materialIntent struct {
	ID       nodeid.ID
	Material Material
}

// Directory is one rank's copy of the forest's light data.
type Directory struct {
	domain       nodeid.Domain
	cellsPerLeaf int
	nodes        map[nodeid.ID]*lightNode
	epoch        uint64

	refines         []nodeid.ID
	coarsens        []nodeid.ID
	materialAdds    []materialIntent
	materialRemoves []materialIntent
}

// New creates a directory holding the level-zero blocks of domain, spread
// over ranks in contiguous id ranges. Every root starts with materials.
// cellsPerLeaf is the per-material cost of a leaf.
func New(domain nodeid.Domain, ranks, cellsPerLeaf int, materials []Material) *Directory {
	if ranks < 1 {
		panic(fmt.Sprintf("topology.New: rank count must be positive, got %d", ranks))
	}
	if len(materials) == 0 {
		panic("topology.New: at least one material is required")
	}
	d := &Directory{
		domain:       domain,
		cellsPerLeaf: cellsPerLeaf,
		nodes:        make(map[nodeid.ID]*lightNode),
	}
	roots := domain.RootIDs()
	for i, id := range roots {
		d.nodes[id] = &lightNode{
			owner:     i * ranks / len(roots),
			leaf:      true,
			materials: sortedMaterials(materials),
		}
	}
	return d
}

func sortedMaterials(ms []Material) []Material {
	out := append([]Material(nil), ms...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Domain returns the level-zero arrangement of the forest.
func (d *Directory) Domain() nodeid.Domain { return d.domain }

// Epoch returns the exchange epoch. It increases on every structural commit
// and on every ownership change; message tags carry it.
func (d *Directory) Epoch() uint64 { return d.epoch }

func (d *Directory) mustGet(op string, id nodeid.ID) *lightNode {
	n, ok := d.nodes[id]
	if !ok {
		panic(fmt.Sprintf("topology.%s: node %v does not exist", op, id))
	}
	return n
}

// RefineNodeWithId records the intent to refine a leaf.
func (d *Directory) RefineNodeWithId(id nodeid.ID) {
	d.refines = append(d.refines, id)
}

// CoarseNodeWithId records the intent to remove the children of parent.
func (d *Directory) CoarseNodeWithId(parent nodeid.ID) {
	d.coarsens = append(d.coarsens, parent)
}

// AddMaterialToNode records the intent to add a material to a node.
func (d *Directory) AddMaterialToNode(id nodeid.ID, m Material) {
	d.materialAdds = append(d.materialAdds, materialIntent{ID: id, Material: m})
}

// RemoveMaterialFromNode records the intent to remove a material from a node.
func (d *Directory) RemoveMaterialFromNode(id nodeid.ID, m Material) {
	d.materialRemoves = append(d.materialRemoves, materialIntent{ID: id, Material: m})
}

type intentRecord struct {
	Refines         []uint64 `cbor:"1,keyasint"`
	Coarsens        []uint64 `cbor:"2,keyasint"`
	AddIDs          []uint64 `cbor:"3,keyasint"`
	AddMaterials    []int    `cbor:"4,keyasint"`
	RemoveIDs       []uint64 `cbor:"5,keyasint"`
	RemoveMaterials []int    `cbor:"6,keyasint"`
}

func toUint64s(ids []nodeid.ID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

func splitIntents(intents []materialIntent) ([]uint64, []int) {
	ids := make([]uint64, len(intents))
	ms := make([]int, len(intents))
	for i, in := range intents {
		ids[i] = uint64(in.ID)
		ms[i] = int(in.Material)
	}
	return ids, ms
}

// UpdateTopology is collective: it gathers the intents of all ranks and
// applies them in ascending id order, refinements first, then coarsenings,
// then material additions and removals. It reports whether the forest
// changed; the epoch is bumped if it did.
func (d *Directory) UpdateTopology(c comm.Communicator) bool {
	local := intentRecord{Refines: toUint64s(d.refines), Coarsens: toUint64s(d.coarsens)}
	local.AddIDs, local.AddMaterials = splitIntents(d.materialAdds)
	local.RemoveIDs, local.RemoveMaterials = splitIntents(d.materialRemoves)
	d.refines, d.coarsens, d.materialAdds, d.materialRemoves = nil, nil, nil, nil

	var refines, coarsens []nodeid.ID
	var adds, removes []materialIntent
	for _, payload := range c.AllGather(comm.Encode(&local)) {
		var rec intentRecord
		comm.Decode(payload, &rec)
		for _, id := range rec.Refines {
			refines = append(refines, nodeid.ID(id))
		}
		for _, id := range rec.Coarsens {
			coarsens = append(coarsens, nodeid.ID(id))
		}
		for i, id := range rec.AddIDs {
			adds = append(adds, materialIntent{ID: nodeid.ID(id), Material: Material(rec.AddMaterials[i])})
		}
		for i, id := range rec.RemoveIDs {
			removes = append(removes, materialIntent{ID: nodeid.ID(id), Material: Material(rec.RemoveMaterials[i])})
		}
	}

	changed := false
	for _, id := range nodeid.Unique(refines) {
		d.applyRefine(id)
		changed = true
	}
	for _, id := range nodeid.Unique(coarsens) {
		d.applyCoarsen(id)
		changed = true
	}
	for _, in := range uniqueIntents(adds) {
		if d.applyMaterial(in, true) {
			changed = true
		}
	}
	for _, in := range uniqueIntents(removes) {
		if d.applyMaterial(in, false) {
			changed = true
		}
	}
	if changed {
		d.epoch++
		logrus.Debugf("topology committed, epoch %d, %d refined, %d coarsened", d.epoch, len(refines), len(coarsens))
	}
	return changed
}

func uniqueIntents(in []materialIntent) []materialIntent {
	sort.Slice(in, func(i, j int) bool {
		if in[i].ID != in[j].ID {
			return in[i].ID < in[j].ID
		}
		return in[i].Material < in[j].Material
	})
	out := in[:0]
	for i, x := range in {
		if i == 0 || x != in[i-1] {
			out = append(out, x)
		}
	}
	return out
}

func (d *Directory) applyRefine(id nodeid.ID) {
	n := d.mustGet("RefineNodeWithId", id)
	if !n.leaf {
		panic(fmt.Sprintf("topology.RefineNodeWithId: node %v is not a leaf", id))
	}
	if id.Level() >= nodeid.MaxLevel {
		panic(fmt.Sprintf("topology.RefineNodeWithId: node %v is on the deepest level", id))
	}
	n.leaf = false
	for _, child := range id.Children(d.domain.Dim) {
		d.nodes[child] = &lightNode{owner: n.owner, leaf: true, materials: append([]Material(nil), n.materials...)}
	}
}

func (d *Directory) applyCoarsen(parent nodeid.ID) {
	n := d.mustGet("CoarseNodeWithId", parent)
	if parent.Level() == 0 {
		panic(fmt.Sprintf("topology.CoarseNodeWithId: children of level-zero node %v must not be coarsened", parent))
	}
	for _, child := range parent.Children(d.domain.Dim) {
		cn := d.mustGet("CoarseNodeWithId", child)
		if !cn.leaf {
			panic(fmt.Sprintf("topology.CoarseNodeWithId: child %v of %v is not a leaf", child, parent))
		}
		delete(d.nodes, child)
	}
	n.leaf = true
}

func (d *Directory) applyMaterial(in materialIntent, add bool) bool {
	n := d.mustGet("AddMaterialToNode", in.ID)
	idx := sort.Search(len(n.materials), func(i int) bool { return n.materials[i] >= in.Material })
	present := idx < len(n.materials) && n.materials[idx] == in.Material
	switch {
	case add && !present:
		n.materials = append(n.materials, 0)
		copy(n.materials[idx+1:], n.materials[idx:])
		n.materials[idx] = in.Material
		return true
	case !add && present:
		n.materials = append(n.materials[:idx], n.materials[idx+1:]...)
		return true
	}
	return false
}

// NodeExists reports whether the node is part of the forest.
func (d *Directory) NodeExists(id nodeid.ID) bool {
	_, ok := d.nodes[id]
	return ok
}

// NodeIsLeaf reports whether an existing node has no children.
func (d *Directory) NodeIsLeaf(id nodeid.ID) bool {
	return d.mustGet("NodeIsLeaf", id).leaf
}

// GetRankOfNode returns the owner of an existing node.
func (d *Directory) GetRankOfNode(id nodeid.ID) int {
	return d.mustGet("GetRankOfNode", id).owner
}

// NodeIsOnRank reports whether the node exists and is owned by rank.
func (d *Directory) NodeIsOnRank(id nodeid.ID, rank int) bool {
	n, ok := d.nodes[id]
	return ok && n.owner == rank
}

// MaterialsOfNode returns the materials of a node in ascending order.
func (d *Directory) MaterialsOfNode(id nodeid.ID) []Material {
	return append([]Material(nil), d.mustGet("MaterialsOfNode", id).materials...)
}

// IsNodeMultiPhase reports whether the node holds more than one material.
func (d *Directory) IsNodeMultiPhase(id nodeid.ID) bool {
	return len(d.mustGet("IsNodeMultiPhase", id).materials) > 1
}

// SingleMaterialOfNode returns the only material of a single-phase node.
func (d *Directory) SingleMaterialOfNode(id nodeid.ID) Material {
	n := d.mustGet("SingleMaterialOfNode", id)
	if len(n.materials) != 1 {
		panic(fmt.Sprintf("topology.SingleMaterialOfNode: node %v holds %d materials", id, len(n.materials)))
	}
	return n.materials[0]
}

// ClassifyFace classifies a face of an existing node from the current shape.
func (d *Directory) ClassifyFace(id nodeid.ID, dir nodeid.Direction) FaceKind {
	d.mustGet("ClassifyFace", id)
	if dir.Axis() >= d.domain.Dim {
		panic(fmt.Sprintf("topology.ClassifyFace: face %v does not exist in %dD", dir, d.domain.Dim))
	}
	neighbor, ok := d.domain.Neighbor(id, dir)
	if !ok {
		return External
	}
	if d.NodeExists(neighbor) {
		return NoJump
	}
	if id.Level() == 0 {
		panic(fmt.Sprintf("topology.ClassifyFace: level-zero neighbor %v of %v is missing", neighbor, id))
	}
	return Jump
}

// FaceIsJump reports whether the face has no same-level neighbor.
func (d *Directory) FaceIsJump(id nodeid.ID, dir nodeid.Direction) bool {
	return d.ClassifyFace(id, dir) == Jump
}

// Neighbor returns the same-level neighbor across the face if it exists.
func (d *Directory) Neighbor(id nodeid.ID, dir nodeid.Direction) (nodeid.ID, bool) {
	neighbor, ok := d.domain.Neighbor(id, dir)
	if !ok || !d.NodeExists(neighbor) {
		return 0, false
	}
	return neighbor, true
}

func (d *Directory) collect(keep func(id nodeid.ID, n *lightNode) bool) []nodeid.ID {
	var out []nodeid.ID
	for id, n := range d.nodes {
		if keep(id, n) {
			out = append(out, id)
		}
	}
	nodeid.Sort(out)
	return out
}

// AllIds returns every node of the forest in ascending order.
func (d *Directory) AllIds() []nodeid.ID {
	return d.collect(func(nodeid.ID, *lightNode) bool { return true })
}

// IdsOnLevelOfRank returns the nodes on a level owned by rank.
func (d *Directory) IdsOnLevelOfRank(level, rank int) []nodeid.ID {
	return d.collect(func(id nodeid.ID, n *lightNode) bool { return id.Level() == level && n.owner == rank })
}

// GlobalIdsOnLevel returns all nodes on a level.
func (d *Directory) GlobalIdsOnLevel(level int) []nodeid.ID {
	return d.collect(func(id nodeid.ID, _ *lightNode) bool { return id.Level() == level })
}

// LeafIdsOnLevel returns all leaves on a level.
func (d *Directory) LeafIdsOnLevel(level int) []nodeid.ID {
	return d.collect(func(id nodeid.ID, n *lightNode) bool { return id.Level() == level && n.leaf })
}

// LocalLeafIds returns the leaves owned by rank.
func (d *Directory) LocalLeafIds(rank int) []nodeid.ID {
	return d.collect(func(_ nodeid.ID, n *lightNode) bool { return n.leaf && n.owner == rank })
}

// LocalIds returns every node owned by rank.
func (d *Directory) LocalIds(rank int) []nodeid.ID {
	return d.collect(func(_ nodeid.ID, n *lightNode) bool { return n.owner == rank })
}

// LeafIds returns every leaf of the forest.
func (d *Directory) LeafIds() []nodeid.ID {
	return d.collect(func(_ nodeid.ID, n *lightNode) bool { return n.leaf })
}

// DescendantIdsOfNode returns all strict descendants of an existing node.
func (d *Directory) DescendantIdsOfNode(id nodeid.ID) []nodeid.ID {
	d.mustGet("DescendantIdsOfNode", id)
	return d.collect(func(other nodeid.ID, _ *lightNode) bool { return id.IsAncestorOf(other) })
}

// NodeAndLeafCount returns the number of nodes and leaves of the forest.
func (d *Directory) NodeAndLeafCount() (nodes, leaves int) {
	for _, n := range d.nodes {
		nodes++
		if n.leaf {
			leaves++
		}
	}
	return nodes, leaves
}

// NodesAndLeavesPerRank returns node and leaf counts per rank.
func (d *Directory) NodesAndLeavesPerRank(ranks int) (nodes, leaves []int) {
	nodes, leaves = make([]int, ranks), make([]int, ranks)
	for _, n := range d.nodes {
		nodes[n.owner]++
		if n.leaf {
			leaves[n.owner]++
		}
	}
	return nodes, leaves
}

// CurrentMaximumLevel returns the deepest level holding a node.
func (d *Directory) CurrentMaximumLevel() int {
	deepest := 0
	for id := range d.nodes {
		if id.Level() > deepest {
			deepest = id.Level()
		}
	}
	return deepest
}

// AssignOwners sets the owner of the given nodes on this rank's copy. All
// ranks must call it with identical arguments. It bumps the epoch.
func (d *Directory) AssignOwners(owners map[nodeid.ID]int) {
	for id, rank := range owners {
		d.mustGet("AssignOwners", id).owner = rank
	}
	d.epoch++
}

// CommonMaterials returns the materials present in both sorted lists.
func CommonMaterials(a, b []Material) []Material {
	var out []Material
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
