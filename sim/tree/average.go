package tree

import (
	"sort"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/multiresolution"
	"github.com/blockforest/blockforest/sim/topology"
)

// AverageToParents restricts the given buffer of every node on the listed
// child levels into its parent. Levels are processed from the finest down so
// that averaged parents feed their own parents; each level is one exchange
// phase with a single wait.
func (t *Tree) AverageToParents(childLevels []int, kind block.BufferKind, c comm.Communicator) {
	levels := append([]int(nil), childLevels...)
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))
	for _, level := range levels {
		if level == 0 {
			continue
		}
		t.averageLevel(level, kind, c)
	}
}

func (t *Tree) averageLevel(level int, kind block.BufferKind, c comm.Communicator) {
	batch := comm.NewBatch(c)
	epoch := t.dir.Epoch()
	quadrantSize := multiresolution.QuadrantSize(t.layout)

	for _, child := range t.NodesOnLevel(level) {
		parentID := child.id.Parent()
		owner := t.dir.GetRankOfNode(parentID)
		for _, m := range topology.CommonMaterials(t.dir.MaterialsOfNode(child.id), t.dir.MaterialsOfNode(parentID)) {
			fields := child.Phase(m).Buffer(kind)
			restricted := make([][]float64, len(fields))
			for i, f := range fields {
				restricted[i] = multiresolution.Restrict(t.layout, f, child.id)
			}
			if owner == t.rank {
				target := t.GetNodeWithId(parentID).Phase(m).Buffer(kind)
				for i := range restricted {
					multiresolution.WriteQuadrant(t.layout, target[i], child.id, restricted[i])
				}
				continue
			}
			tag := comm.Tag{Epoch: epoch, Kind: comm.KindAverage, Node: parentID, Face: child.id.ChildIndex(), Aux: comm.PackAux(int(kind), int(m))}
			batch.Send(owner, tag, &comm.ConservativesRecord{Fields: restricted})
		}
	}

	for _, parent := range t.NodesOnLevel(level - 1) {
		if t.dir.NodeIsLeaf(parent.id) {
			continue
		}
		for _, childID := range parent.id.Children(t.layout.Dim) {
			owner := t.dir.GetRankOfNode(childID)
			if owner == t.rank {
				continue
			}
			for _, m := range topology.CommonMaterials(t.dir.MaterialsOfNode(childID), t.dir.MaterialsOfNode(parent.id)) {
				target := parent.Phase(m).Buffer(kind)
				childID := childID
				rec := &comm.ConservativesRecord{}
				tag := comm.Tag{Epoch: epoch, Kind: comm.KindAverage, Node: parent.id, Face: childID.ChildIndex(), Aux: comm.PackAux(int(kind), int(m))}
				batch.Receive(owner, tag, rec, func() {
					rec.Expect(len(target), quadrantSize)
					for i := range target {
						multiresolution.WriteQuadrant(t.layout, target[i], childID, rec.Fields[i])
					}
				})
			}
		}
	}
	batch.Wait()
}
