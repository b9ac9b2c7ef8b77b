// Package remesh adapts the forest to the solution. Every child below a
// parent on a finished level is classified from the wavelet detail between
// its data and the prediction from its parent; children above the threshold
// are refined and sibling groups that all fall below it are merged back into
// their parent.
package remesh

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/halo"
	"github.com/blockforest/blockforest/sim/multiresolution"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/trace"
	"github.com/blockforest/blockforest/sim/tree"
)

// Remesher runs the remeshing of one rank. Decisions are taken on the
// RightHandSide buffer, which holds the freshly integrated state when the
// remesher runs.
type Remesher struct {
	tree       *tree.Tree
	c          comm.Communicator
	halo       *halo.Engine
	thresholds multiresolution.Thresholds
	trace      *trace.SimulationTrace
	step       int
}

// New returns a remesher. st may be nil.
func New(t *tree.Tree, c comm.Communicator, h *halo.Engine, thresholds multiresolution.Thresholds, st *trace.SimulationTrace) *Remesher {
	return &Remesher{tree: t, c: c, halo: h, thresholds: thresholds, trace: st}
}

// SetStep sets the step counter stamped on trace records.
func (r *Remesher) SetStep(step int) { r.step = step }

// evaluable reports whether a child takes part in the wavelet analysis.
func (r *Remesher) evaluable(child, parent nodeid.ID) bool {
	dir := r.tree.Directory()
	if !dir.NodeIsLeaf(child) || dir.IsNodeMultiPhase(child) {
		return false
	}
	m := dir.SingleMaterialOfNode(child)
	for _, pm := range dir.MaterialsOfNode(parent) {
		if pm == m {
			return true
		}
	}
	return false
}

// DetermineRemeshingNodes classifies the children of every local parent on
// the given levels. It returns the parents whose whole sibling group may be
// coarsened and the children to refine, both ascending. Only the owner of a
// parent reports decisions about its children.
func (r *Remesher) DetermineRemeshingNodes(parentLevels []int) (coarsen, refine []nodeid.ID) {
	t := r.tree
	dir := t.Directory()
	l := t.Layout()
	epoch := dir.Epoch()
	batch := comm.NewBatch(r.c)
	remote := make(map[nodeid.ID]block.FieldSet)

	for _, level := range parentLevels {
		for _, child := range t.LeavesOnLevel(level + 1) {
			parentID := child.ID().Parent()
			owner := dir.GetRankOfNode(parentID)
			if owner == t.Rank() || !r.evaluable(child.ID(), parentID) {
				continue
			}
			tag := comm.Tag{Epoch: epoch, Kind: comm.KindRemeshIndicator, Node: child.ID(), Face: -1}
			fields := child.SinglePhase().Buffer(block.RightHandSide)
			rec := &comm.ConservativesRecord{Fields: make([][]float64, len(fields))}
			for i, f := range fields {
				rec.Fields[i] = f
			}
			batch.Send(owner, tag, rec)
		}
	}

	var parents []*tree.Node
	for _, level := range parentLevels {
		for _, p := range t.NodesOnLevel(level) {
			if dir.NodeIsLeaf(p.ID()) {
				continue
			}
			parents = append(parents, p)
			for _, childID := range p.ID().Children(l.Dim) {
				owner := dir.GetRankOfNode(childID)
				if owner == t.Rank() || !r.evaluable(childID, p.ID()) {
					continue
				}
				rec := &comm.ConservativesRecord{}
				tag := comm.Tag{Epoch: epoch, Kind: comm.KindRemeshIndicator, Node: childID, Face: -1}
				batch.Receive(owner, tag, rec, func() {
					rec.Expect(t.Shape().Equations, l.Size())
					fields := make(block.FieldSet, len(rec.Fields))
					for i, f := range rec.Fields {
						fields[i] = f
					}
					remote[childID] = fields
				})
			}
		}
	}
	batch.Wait()

	for _, p := range parents {
		decisions := make([]multiresolution.Decision, 0, 1<<l.Dim)
		for _, childID := range p.ID().Children(l.Dim) {
			decisions = append(decisions, r.classify(p, childID, remote))
		}
		if len(decisions) != 1<<l.Dim {
			panic(fmt.Sprintf("remesh.DetermineRemeshingNodes: %d decisions for the %d children of %v", len(decisions), 1<<l.Dim, p.ID()))
		}
		all := true
		for i, d := range decisions {
			switch d {
			case multiresolution.Refine:
				refine = append(refine, p.ID().Child(i))
				all = false
			case multiresolution.Neutral:
				all = false
			}
		}
		if all && p.ID().Level() > 0 && !dir.IsNodeMultiPhase(p.ID()) {
			coarsen = append(coarsen, p.ID())
		}
	}
	nodeid.Sort(coarsen)
	nodeid.Sort(refine)
	return coarsen, refine
}

// classify returns the decision of one child. Children outside the analysis
// are Neutral, which vetoes coarsening of their group.
func (r *Remesher) classify(p *tree.Node, childID nodeid.ID, remote map[nodeid.ID]block.FieldSet) multiresolution.Decision {
	t := r.tree
	if !r.evaluable(childID, p.ID()) {
		return multiresolution.Neutral
	}
	m := t.Directory().SingleMaterialOfNode(childID)
	var child block.FieldSet
	if fields, ok := remote[childID]; ok {
		child = fields
	} else {
		child = t.GetNodeWithId(childID).SinglePhase().Buffer(block.RightHandSide)
	}
	parent := p.Phase(m).Buffer(block.RightHandSide)
	detail := multiresolution.Detail(t.Layout(), parent, child, childID)
	decision := r.thresholds.Classify(detail, childID.Level())
	if r.trace.Enabled() {
		r.trace.RecordRemesh(trace.RemeshRecord{
			Step:      r.step,
			Node:      uint64(childID),
			Level:     childID.Level(),
			Detail:    detail,
			Threshold: r.thresholds.Epsilon(childID.Level()),
			Decision:  decision.String(),
		})
	}
	return decision
}

// Remesh re-evaluates the forest after the given levels finished a step.
// Refinements are applied and committed first, the affected halos are
// refreshed, and only then are coarsened groups removed. It reports whether
// the forest changed.
func (r *Remesher) Remesh(levels []int) bool {
	t := r.tree
	dir := t.Directory()
	sorted := append([]int(nil), levels...)
	sort.Ints(sorted)
	var parentLevels []int
	current := dir.CurrentMaximumLevel()
	for _, level := range sorted {
		if level < current {
			parentLevels = append(parentLevels, level)
		}
	}
	coarsen, refine := r.DetermineRemeshingNodes(parentLevels)

	candidates := make([]nodeid.ID, 0, len(refine))
	for _, id := range refine {
		if dir.NodeIsLeaf(id) && id.Level() < r.thresholds.MaxLevel {
			candidates = append(candidates, id)
		}
	}
	toRefine := nodeid.Unique(comm.AllGatherIDs(r.c, candidates))
	for _, id := range toRefine {
		if dir.NodeIsOnRank(id, t.Rank()) {
			t.RefineNode(id)
		}
	}
	refined := dir.UpdateTopology(r.c)
	if refined && len(sorted) > 1 {
		r.halo.Update(sorted[1:], halo.Conservative(block.RightHandSide), true)
	}

	toCoarsen := nodeid.Unique(comm.AllGatherIDs(r.c, coarsen))
	var merged []nodeid.ID
	for _, p := range toCoarsen {
		merged = append(merged, dir.DescendantIdsOfNode(p)...)
		dir.CoarseNodeWithId(p)
	}
	coarsened := dir.UpdateTopology(r.c)
	removed := 0
	for _, id := range merged {
		if t.NodeExists(id) {
			t.RemoveNodeWithId(id)
			removed++
		}
	}

	logrus.Debugf("rank %d remesh levels %v: %d refined, %d groups coarsened, %d local nodes removed",
		t.Rank(), sorted, len(toRefine), len(toCoarsen), removed)
	return refined || coarsened
}
