package halo

import (
	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/multiresolution"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/physics"
)

// group is one exchangeable unit of a node: either float fields or the
// interface tags. pending points at a group that is only filled after the
// exchange wait.
type group struct {
	fields  block.FieldSet
	tags    []int8
	pending *group
}

func (g group) isTags() bool { return g.fields == nil && g.tags != nil }

func (g group) resolved() group {
	if g.pending != nil {
		return *g.pending
	}
	return g
}

func (g group) copyPairs(src group, pairs []block.GhostPair) {
	if g.isTags() {
		for _, p := range pairs {
			g.tags[p.Ghost] = src.tags[p.Source]
		}
		return
	}
	for i, f := range g.fields {
		for _, p := range pairs {
			f[p.Ghost] = src.fields[i][p.Source]
		}
	}
}

func (g group) extend(l block.Layout, d nodeid.Direction) {
	g.copyPairs(g, l.ExtensionPairs(d))
}

func (g group) fillBoundary(b physics.Boundary, l block.Layout, d nodeid.Direction) {
	if g.isTags() {
		b.FillTags(l, g.tags, d)
		return
	}
	for _, f := range g.fields {
		b.FillGhosts(l, f, d)
	}
}

// slab packs the source cells of pairs.
func (g group) slab(pairs []block.GhostPair) any {
	if g.isTags() {
		rec := &comm.InterfaceTagRecord{Tags: make([]int8, len(pairs))}
		for k, p := range pairs {
			rec.Tags[k] = g.tags[p.Source]
		}
		return rec
	}
	rec := &comm.FieldSliceRecord{Values: make([][]float64, len(g.fields))}
	for i, f := range g.fields {
		rec.Values[i] = make([]float64, len(pairs))
		for k, p := range pairs {
			rec.Values[i][k] = f[p.Source]
		}
	}
	return rec
}

func (g group) emptySlab() any {
	if g.isTags() {
		return &comm.InterfaceTagRecord{}
	}
	return &comm.FieldSliceRecord{}
}

// applySlab writes a received slab into the ghost cells of pairs.
func (g group) applySlab(rec any, pairs []block.GhostPair) {
	if g.isTags() {
		r := rec.(*comm.InterfaceTagRecord)
		r.Expect(len(pairs))
		for k, p := range pairs {
			g.tags[p.Ghost] = r.Tags[k]
		}
		return
	}
	r := rec.(*comm.FieldSliceRecord)
	r.Expect(len(g.fields), len(pairs))
	for i, f := range g.fields {
		for k, p := range pairs {
			f[p.Ghost] = r.Values[i][k]
		}
	}
}

// whole packs every cell of the group.
func (g group) whole() any {
	if g.isTags() {
		return &comm.InterfaceTagRecord{Tags: g.tags}
	}
	rec := &comm.ConservativesRecord{Fields: make([][]float64, len(g.fields))}
	for i, f := range g.fields {
		rec.Fields[i] = f
	}
	return rec
}

func (g group) emptyWhole() any {
	if g.isTags() {
		return &comm.InterfaceTagRecord{}
	}
	return &comm.ConservativesRecord{}
}

// fromWhole turns a received whole record into a group shaped like g.
func (g group) fromWhole(rec any) group {
	if g.isTags() {
		r := rec.(*comm.InterfaceTagRecord)
		r.Expect(len(g.tags))
		return group{tags: r.Tags}
	}
	r := rec.(*comm.ConservativesRecord)
	size := 0
	if len(g.fields) > 0 {
		size = len(g.fields[0])
	}
	r.Expect(len(g.fields), size)
	out := make(block.FieldSet, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = f
	}
	return group{fields: out}
}

// predictFrom fills the ghost cells of pairs from the parent, interpolating
// along normal only. Tags are injected.
func (g group) predictFrom(parent group, l block.Layout, childID nodeid.ID, pairs []block.GhostPair, normal int) {
	if g.isTags() {
		for _, p := range pairs {
			g.tags[p.Ghost] = multiresolution.InjectGhost(l, parent.tags, childID, p.Cell)
		}
		return
	}
	for i, f := range g.fields {
		for _, p := range pairs {
			f[p.Ghost] = multiresolution.PredictGhost(l, parent.fields[i], childID, p.Cell, normal)
		}
	}
}
