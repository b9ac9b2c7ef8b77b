// Package jumpflux restores conservation at resolution jumps.
//
// A coarse leaf next to a refined neighbor integrates with its own face flux
// while the fine cells across the face use theirs. Both sides record the
// time-integrated face flux in their JumpConservatives surfaces. Fine values
// are restricted onto their parents until they reach the coarse leaf's
// same-level neighbor, and the coarse leaf then swaps its own flux
// contribution for the restricted fine one.
package jumpflux

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/multiresolution"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/topology"
	"github.com/blockforest/blockforest/sim/tree"
)

// Accumulate adds dt times the jump fluxes of b to its jump conservatives and
// clears the jump fluxes.
func Accumulate(b *block.Block, dt float64) {
	jf := b.JumpFluxes()
	jc := b.JumpConservatives()
	for face := range jf {
		for eq, values := range jf[face] {
			for i, v := range values {
				jc[face][eq][i] += dt * v
			}
		}
	}
	jf.Reset()
}

// Corrector runs the correction for the tree of one rank.
type Corrector struct {
	tree       *tree.Tree
	c          comm.Communicator
	rootLength float64
}

// New returns a corrector. rootLength is the edge length of a root block.
func New(t *tree.Tree, c comm.Communicator, rootLength float64) *Corrector {
	return &Corrector{tree: t, c: c, rootLength: rootLength}
}

// fineFace is a received or local neighbor face awaiting application.
type fineFace struct {
	leaf     *tree.Node
	dir      nodeid.Direction
	material topology.Material
	values   block.FieldSet
}

// Correct applies the correction to the right-hand-side buffers of the
// leaves on the finished levels and resets the jump buffers of those levels.
func (k *Corrector) Correct(finished []int) {
	levels := append([]int(nil), finished...)
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))
	for _, level := range levels {
		if level > 0 {
			k.restrictLevel(level)
		}
	}
	faces := k.exchange(levels)
	k.apply(faces)
	k.Reset(finished)
	logrus.Debugf("rank %d corrected %d jump faces on levels %v", k.tree.Rank(), len(faces), finished)
}

// Reset clears the jump fluxes and jump conservatives of every local node on
// the given levels.
func (k *Corrector) Reset(levels []int) {
	for _, level := range levels {
		for _, n := range k.tree.NodesOnLevel(level) {
			for _, m := range n.Materials() {
				b := n.Phase(m)
				b.JumpFluxes().Reset()
				b.JumpConservatives().Reset()
			}
		}
	}
}

// restrictLevel adds the face averages of every node on level onto the
// matching faces of its parent.
func (k *Corrector) restrictLevel(level int) {
	t := k.tree
	dir := t.Directory()
	l := t.Layout()
	epoch := dir.Epoch()
	batch := comm.NewBatch(k.c)

	for _, n := range t.NodesOnLevel(level) {
		parentID := n.ID().Parent()
		owner := dir.GetRankOfNode(parentID)
		for _, m := range topology.CommonMaterials(dir.MaterialsOfNode(n.ID()), dir.MaterialsOfNode(parentID)) {
			jc := n.Phase(m).JumpConservatives()
			for _, d := range nodeid.Directions(l.Dim) {
				if !multiresolution.TouchesParentFace(n.ID(), d) {
					continue
				}
				if owner == t.Rank() {
					target := t.GetNodeWithId(parentID).Phase(m).JumpConservatives()
					for eq := range jc[d] {
						multiresolution.RestrictFace(l, jc[d][eq], target[d][eq], n.ID(), d)
					}
					continue
				}
				tag := comm.Tag{Epoch: epoch, Kind: comm.KindJumpRestrict, Node: parentID, Face: int(d), Aux: comm.PackAux(n.ID().ChildIndex(), int(m))}
				batch.Send(owner, tag, &comm.JumpSurfaceRecord{Face: int(d), Values: surfaceValues(jc[d])})
			}
		}
	}

	for _, p := range t.NodesOnLevel(level - 1) {
		if dir.NodeIsLeaf(p.ID()) {
			continue
		}
		for _, childID := range p.ID().Children(l.Dim) {
			owner := dir.GetRankOfNode(childID)
			if owner == t.Rank() {
				continue
			}
			for _, m := range topology.CommonMaterials(dir.MaterialsOfNode(childID), dir.MaterialsOfNode(p.ID())) {
				target := p.Phase(m).JumpConservatives()
				for _, d := range nodeid.Directions(l.Dim) {
					if !multiresolution.TouchesParentFace(childID, d) {
						continue
					}
					rec := &comm.JumpSurfaceRecord{}
					tag := comm.Tag{Epoch: epoch, Kind: comm.KindJumpRestrict, Node: p.ID(), Face: int(d), Aux: comm.PackAux(childID.ChildIndex(), int(m))}
					batch.Receive(owner, tag, rec, func() {
						rec.Expect(int(d), len(target[d]), l.FaceCells())
						for eq := range target[d] {
							multiresolution.RestrictFace(l, rec.Values[eq], target[d][eq], childID, d)
						}
					})
				}
			}
		}
	}
	batch.Wait()
}

// exchange collects, for every local leaf on the levels, the jump
// conservatives of its refined same-level neighbors.
func (k *Corrector) exchange(levels []int) []fineFace {
	t := k.tree
	dir := t.Directory()
	l := t.Layout()
	epoch := dir.Epoch()
	batch := comm.NewBatch(k.c)
	var faces []fineFace

	for _, level := range levels {
		for _, n := range t.NodesOnLevel(level) {
			if dir.NodeIsLeaf(n.ID()) {
				continue
			}
			for _, d := range nodeid.Directions(l.Dim) {
				leafID, ok := dir.Neighbor(n.ID(), d)
				if !ok || !dir.NodeIsLeaf(leafID) {
					continue
				}
				owner := dir.GetRankOfNode(leafID)
				if owner == t.Rank() {
					continue
				}
				for _, m := range topology.CommonMaterials(dir.MaterialsOfNode(leafID), dir.MaterialsOfNode(n.ID())) {
					tag := comm.Tag{Epoch: epoch, Kind: comm.KindJumpExchange, Node: leafID, Face: int(d.Opposite()), Aux: int(m)}
					batch.Send(owner, tag, &comm.JumpSurfaceRecord{Face: int(d), Values: surfaceValues(n.Phase(m).JumpConservatives()[d])})
				}
			}
		}
	}

	for _, level := range levels {
		for _, leaf := range t.LeavesOnLevel(level) {
			for _, d := range nodeid.Directions(l.Dim) {
				neighbor, ok := dir.Neighbor(leaf.ID(), d)
				if !ok || dir.NodeIsLeaf(neighbor) {
					continue
				}
				owner := dir.GetRankOfNode(neighbor)
				for _, m := range topology.CommonMaterials(dir.MaterialsOfNode(leaf.ID()), dir.MaterialsOfNode(neighbor)) {
					if owner == t.Rank() {
						values := t.GetNodeWithId(neighbor).Phase(m).JumpConservatives()[d.Opposite()]
						faces = append(faces, fineFace{leaf: leaf, dir: d, material: m, values: values})
						continue
					}
					rec := &comm.JumpSurfaceRecord{}
					tag := comm.Tag{Epoch: epoch, Kind: comm.KindJumpExchange, Node: leaf.ID(), Face: int(d), Aux: int(m)}
					i := len(faces)
					faces = append(faces, fineFace{leaf: leaf, dir: d, material: m})
					equations := len(leaf.Phase(m).Buffer(block.RightHandSide))
					batch.Receive(owner, tag, rec, func() {
						rec.Expect(int(d.Opposite()), equations, l.FaceCells())
						faces[i].values = toFieldSet(rec.Values)
					})
				}
			}
		}
	}
	batch.Wait()
	return faces
}

// correction holds the per-face terms of one cell in face order.
type correction struct {
	coarse [6]float64
	fine   [6]float64
}

// apply replaces the coarse face contributions of each leaf by the
// restricted fine ones. Terms are summed pairwise in face order so every
// rank produces identical results.
func (k *Corrector) apply(faces []fineFace) {
	t := k.tree
	dir := t.Directory()
	l := t.Layout()
	type key struct {
		id       nodeid.ID
		material topology.Material
	}
	terms := make(map[key][]map[int]*correction)
	var order []key

	for _, ff := range faces {
		neighbor, _ := dir.Neighbor(ff.leaf.ID(), ff.dir)
		if dir.ClassifyFace(ff.leaf.ID(), ff.dir) != topology.NoJump || dir.NodeIsLeaf(neighbor) {
			panic(fmt.Sprintf("jumpflux.apply: face %v of %v is not a resolution jump", ff.dir, ff.leaf.ID()))
		}
		b := ff.leaf.Phase(ff.material)
		own := b.JumpConservatives()[ff.dir]
		if len(ff.values) != len(own) {
			panic(fmt.Sprintf("jumpflux.apply: %d fine fields for %d equations on %v", len(ff.values), len(own), ff.leaf.ID()))
		}
		slot := key{ff.leaf.ID(), ff.material}
		perEq, ok := terms[slot]
		if !ok {
			perEq = make([]map[int]*correction, len(own))
			for eq := range perEq {
				perEq[eq] = make(map[int]*correction)
			}
			terms[slot] = perEq
			order = append(order, slot)
		}
		dx := l.CellSize(ff.leaf.ID().Level(), k.rootLength)
		sign := -float64(ff.dir.Sign())
		for eq := range own {
			for _, fc := range l.FaceCellsOf(ff.dir) {
				c, ok := perEq[eq][fc.Cell]
				if !ok {
					c = &correction{}
					perEq[eq][fc.Cell] = c
				}
				c.coarse[ff.dir] = own[eq][fc.Face] / dx * sign
				c.fine[ff.dir] = ff.values[eq][fc.Face] / dx * sign
			}
		}
	}

	for _, slot := range order {
		rhs := t.GetNodeWithId(slot.id).Phase(slot.material).Buffer(block.RightHandSide)
		for eq, cells := range terms[slot] {
			for cell, c := range cells {
				rhs[eq][cell] -= (c.coarse[0] + c.coarse[1]) + (c.coarse[2] + c.coarse[3]) + (c.coarse[4] + c.coarse[5])
				rhs[eq][cell] += (c.fine[0] + c.fine[1]) + (c.fine[2] + c.fine[3]) + (c.fine[4] + c.fine[5])
			}
		}
	}
}

func surfaceValues(fs block.FieldSet) [][]float64 {
	out := make([][]float64, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func toFieldSet(values [][]float64) block.FieldSet {
	out := make(block.FieldSet, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
