package topology

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/nodeid"
)

func newDomain(t *testing.T, dim int, roots [3]int, periodic [3]bool) nodeid.Domain {
	t.Helper()
	d, err := nodeid.NewDomain(dim, roots, periodic)
	require.NoError(t, err)
	return d
}

func singleRank() comm.Communicator {
	return comm.NewWorld(1).Rank(0)
}

func TestNew_RootsSpreadOverRanks(t *testing.T) {
	// GIVEN 4 roots on 2 ranks
	d := New(newDomain(t, 1, [3]int{4, 1, 1}, [3]bool{}), 2, 8, []Material{0})

	// THEN the first half belongs to rank 0 and the second half to rank 1
	roots := d.Domain().RootIDs()
	assert.Equal(t, 0, d.GetRankOfNode(roots[1]))
	assert.Equal(t, 1, d.GetRankOfNode(roots[2]))
	assert.Equal(t, roots[2:], d.IdsOnLevelOfRank(0, 1))
	assert.Empty(t, d.IdsOnLevelOfRank(1, 0))
	nodes, leaves := d.NodeAndLeafCount()
	assert.Equal(t, 4, nodes)
	assert.Equal(t, 4, leaves)
}

func TestUpdateTopology_RefineAndCoarsen(t *testing.T) {
	dom := newDomain(t, 2, [3]int{1, 1, 1}, [3]bool{})
	d := New(dom, 1, 16, []Material{0})
	c := singleRank()
	root := dom.RootIDs()[0]

	// WHEN refining the root twice in a row
	d.RefineNodeWithId(root)
	epoch := d.Epoch()
	require.True(t, d.UpdateTopology(c))
	child := root.Child(3)
	d.RefineNodeWithId(child)
	require.True(t, d.UpdateTopology(c))

	// THEN the forest has 1 + 4 + 4 nodes and the epoch advanced twice
	nodes, leaves := d.NodeAndLeafCount()
	assert.Equal(t, 9, nodes)
	assert.Equal(t, 7, leaves)
	assert.False(t, d.NodeIsLeaf(child))
	assert.Equal(t, epoch+2, d.Epoch())
	assert.Equal(t, 2, d.CurrentMaximumLevel())
	assert.Len(t, d.DescendantIdsOfNode(root), 8)

	// WHEN coarsening the child again
	d.CoarseNodeWithId(child)
	require.True(t, d.UpdateTopology(c))

	// THEN its children are gone and it is a leaf again
	assert.True(t, d.NodeIsLeaf(child))
	assert.False(t, d.NodeExists(child.Child(0)))
	assert.False(t, d.UpdateTopology(c), "no intents, no change")
}

func TestUpdateTopology_FatalIntents(t *testing.T) {
	dom := newDomain(t, 1, [3]int{2, 1, 1}, [3]bool{})
	c := singleRank()
	root := dom.RootIDs()[0]

	t.Run("refine of a non-leaf", func(t *testing.T) {
		d := New(dom, 1, 8, []Material{0})
		d.RefineNodeWithId(root)
		d.UpdateTopology(c)
		d.RefineNodeWithId(root)
		assert.Panics(t, func() { d.UpdateTopology(c) })
	})
	t.Run("coarsen of level-one children", func(t *testing.T) {
		d := New(dom, 1, 8, []Material{0})
		d.RefineNodeWithId(root)
		d.UpdateTopology(c)
		d.CoarseNodeWithId(root)
		assert.Panics(t, func() { d.UpdateTopology(c) })
	})
	t.Run("refine of a missing node", func(t *testing.T) {
		d := New(dom, 1, 8, []Material{0})
		d.RefineNodeWithId(root.Child(0))
		assert.Panics(t, func() { d.UpdateTopology(c) })
	})
}

func TestClassifyFace(t *testing.T) {
	// GIVEN two 1D roots where only root 0 is refined
	dom := newDomain(t, 1, [3]int{2, 1, 1}, [3]bool{})
	d := New(dom, 1, 8, []Material{0})
	roots := dom.RootIDs()
	d.RefineNodeWithId(roots[0])
	d.UpdateTopology(singleRank())
	east := roots[0].Child(1)

	// THEN the inner face of the children is no-jump, the face towards root 1 is a jump
	assert.Equal(t, NoJump, d.ClassifyFace(east, nodeid.West))
	assert.Equal(t, Jump, d.ClassifyFace(east, nodeid.East))
	assert.True(t, d.FaceIsJump(east, nodeid.East))
	assert.Equal(t, External, d.ClassifyFace(roots[0].Child(0), nodeid.West))
	assert.Equal(t, NoJump, d.ClassifyFace(roots[1], nodeid.West), "the parent still exists on level 0")
	assert.Panics(t, func() { d.ClassifyFace(east, nodeid.North) }, "no north face in 1D")
}

func TestMaterials(t *testing.T) {
	dom := newDomain(t, 1, [3]int{1, 1, 1}, [3]bool{})
	d := New(dom, 1, 8, []Material{0})
	c := singleRank()
	root := dom.RootIDs()[0]

	d.AddMaterialToNode(root, 1)
	d.AddMaterialToNode(root, 1)
	require.True(t, d.UpdateTopology(c))
	assert.Equal(t, []Material{0, 1}, d.MaterialsOfNode(root))
	assert.True(t, d.IsNodeMultiPhase(root))
	assert.Panics(t, func() { d.SingleMaterialOfNode(root) })
	assert.Equal(t, 16.0, d.WeightOfNode(root))

	d.RemoveMaterialFromNode(root, 0)
	require.True(t, d.UpdateTopology(c))
	assert.Equal(t, Material(1), d.SingleMaterialOfNode(root))
}

func TestUpdateTopology_IdenticalOnAllRanks(t *testing.T) {
	// GIVEN 3 ranks that each hold a copy of a 2D forest with 3 roots
	dom := newDomain(t, 2, [3]int{3, 1, 1}, [3]bool{true, false, false})
	w := comm.NewWorld(3)
	var mu sync.Mutex
	prints := map[int]uint64{}

	// WHEN every rank requests the refinement of its own root
	err := w.Run(func(c comm.Communicator) error {
		d := New(dom, c.Size(), 16, []Material{0})
		for _, id := range d.LocalLeafIds(c.Rank()) {
			d.RefineNodeWithId(id)
		}
		d.UpdateTopology(c)
		d.PrepareLoadBalancedTopology(c.Size())
		mu.Lock()
		prints[c.Rank()] = d.Fingerprint()
		mu.Unlock()
		return nil
	})

	// THEN the directories are identical
	require.NoError(t, err)
	assert.Equal(t, prints[0], prints[1])
	assert.Equal(t, prints[0], prints[2])
}

func TestPrepareLoadBalancedTopology(t *testing.T) {
	// GIVEN 4 roots all owned by rank 0 of 2 ranks, root 0 refined
	dom := newDomain(t, 1, [3]int{4, 1, 1}, [3]bool{})
	d := New(dom, 1, 8, []Material{0})
	roots := dom.RootIDs()
	d.RefineNodeWithId(roots[0])
	d.UpdateTopology(singleRank())
	require.True(t, d.IsLoadBalancingNecessary(2, 0.1))
	ids := d.AllIds()

	// WHEN balancing onto 2 ranks
	moves := d.PrepareLoadBalancedTopology(2)

	// THEN leaves weigh 8 each (5 leaves, 40 total): the id sequence
	// root0(0) c0(8) c1(8) root1(8) root2(8) root3(8) is cut at prefix 20
	assert.Equal(t, ids, d.AllIds(), "id set unchanged")
	assert.Equal(t, 0, d.GetRankOfNode(roots[1]))
	assert.Equal(t, 1, d.GetRankOfNode(roots[2]))
	assert.Equal(t, 1, d.GetRankOfNode(roots[3]))
	assert.Equal(t, []Move{{ID: roots[2], From: 0, To: 1}, {ID: roots[3], From: 0, To: 1}}, moves)
	assert.Equal(t, []float64{24, 16}, d.WeightsPerRank(2))
	assert.Equal(t, "[3 2]", d.LeafRankDistribution(2))
	assert.False(t, d.IsLoadBalancingNecessary(2, 0.5))
}
