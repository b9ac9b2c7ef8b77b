package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/internal/testutil"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/physics"
	"github.com/blockforest/blockforest/sim/topology"
	"github.com/blockforest/blockforest/sim/trace"
	"github.com/blockforest/blockforest/sim/tree"
)

var shape = block.Shape{Equations: 1, PrimeStates: 1}

func TestCategories(t *testing.T) {
	assert.Equal(t, []string{"right_hand_side", "jump_buffers", "interface_tags"}, Categories(true, true))
	assert.Equal(t, []string{"right_hand_side", "jump_buffers", "interface_tags", "average", "initial", "parameters", "prime_states_rebuilt"},
		Categories(false, false))
	assert.Contains(t, Categories(false, true), CategoryInterfaceBuffers)
}

// snapshotOf is what one rank observed after balancing.
type snapshotOf struct {
	ids         []nodeid.ID
	fingerprint uint64
	moves       []topology.Move
	records     []trace.BalanceRecord
	moved       map[string]float64
}

func TestRun_MovesNodesAndPreservesIds(t *testing.T) {
	dom := testutil.MustDomain(t, 1, [3]int{4, 1, 1}, [3]bool{})
	l := testutil.MustLayout(t, 1, 4, 2)
	roots := dom.RootIDs()
	heavy := roots[1].Child(1)

	tests := []struct {
		name        string
		updated     []int
		wantAverage float64
		wantPrime   float64
	}{
		{name: "node advanced this step", updated: []int{0, 1}, wantAverage: 0, wantPrime: 0},
		{name: "node not advanced", updated: []int{0}, wantAverage: 3, wantPrime: 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN four roots on two ranks where rank 0 refined both of its roots
			got := make([]snapshotOf, 2)
			testutil.RunRanks(t, 2, func(c comm.Communicator, lock func(func())) error {
				dir := topology.New(dom, 2, l.InteriorSize(), []topology.Material{0})
				tr := tree.New(dir, l, shape, c.Rank())
				for _, id := range dir.LocalIds(c.Rank()) {
					tr.CreateNode(id, dir.MaterialsOfNode(id))
				}
				if c.Rank() == 0 {
					tr.RefineNode(roots[0])
					tr.RefineNode(roots[1])
				}
				dir.UpdateTopology(c)
				if tr.NodeExists(heavy) {
					b := tr.GetNodeWithId(heavy).SinglePhase()
					b.Buffer(block.RightHandSide)[0][3] = 7
					b.Buffer(block.Average)[0][3] = 3
					b.JumpConservatives()[nodeid.East][0][0] = 0.5
					tr.GetNodeWithId(heavy).SetUniformTags(2)
				}
				st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})

				// WHEN balancing
				moves := New(tr, c, 0.1, physics.Identity{}, st).Run(tc.updated)

				obs := snapshotOf{ids: tr.IDs(), fingerprint: dir.Fingerprint(), moves: moves, records: st.Balances}
				if tr.NodeExists(heavy) {
					n := tr.GetNodeWithId(heavy)
					b := n.SinglePhase()
					obs.moved = map[string]float64{
						"rhs":   b.Buffer(block.RightHandSide)[0][3],
						"avg":   b.Buffer(block.Average)[0][3],
						"prime": b.Buffer(block.PrimeState)[0][3],
						"jc":    b.JumpConservatives()[nodeid.East][0][0],
						"tag":   float64(n.Tags()[0]),
					}
				}
				lock(func() { got[c.Rank()] = obs })
				return nil
			})

			// THEN the last leaf of root 1 moved to rank 1 with its data
			want := []topology.Move{{ID: heavy, From: 0, To: 1}}
			assert.Equal(t, want, got[0].moves)
			assert.Equal(t, want, got[1].moves)
			assert.Equal(t, got[0].fingerprint, got[1].fingerprint)

			require.NotNil(t, got[1].moved)
			assert.Nil(t, got[0].moved)
			assert.Equal(t, 7.0, got[1].moved["rhs"])
			assert.Equal(t, 0.5, got[1].moved["jc"])
			assert.Equal(t, 2.0, got[1].moved["tag"])
			assert.Equal(t, tc.wantAverage, got[1].moved["avg"])
			assert.Equal(t, tc.wantPrime, got[1].moved["prime"])

			// and every id of the forest is held by exactly one rank
			seen := make(map[nodeid.ID]int)
			for _, obs := range got {
				for _, id := range obs.ids {
					seen[id]++
				}
			}
			assert.Len(t, seen, 8)
			for id, n := range seen {
				assert.Equal(t, 1, n, "node %v", id)
			}

			// and the sender traced the manifest matching the updated flag
			require.Len(t, got[0].records, 1)
			assert.Empty(t, got[1].records)
			nodeUpdated := len(tc.updated) > 1
			assert.Equal(t, Categories(nodeUpdated, false), got[0].records[0].Categories)
		})
	}
}

func TestRun_BalancedForestDoesNothing(t *testing.T) {
	dom := testutil.MustDomain(t, 1, [3]int{2, 1, 1}, [3]bool{})
	l := testutil.MustLayout(t, 1, 4, 2)
	testutil.RunRanks(t, 2, func(c comm.Communicator, _ func(func())) error {
		dir := topology.New(dom, 2, l.InteriorSize(), []topology.Material{0})
		tr := tree.New(dir, l, shape, c.Rank())
		for _, id := range dir.LocalIds(c.Rank()) {
			tr.CreateNode(id, dir.MaterialsOfNode(id))
		}
		epoch := dir.Epoch()
		if moves := New(tr, c, 0.1, physics.Identity{}, nil).Run(nil); moves != nil {
			t.Errorf("rank %d: unexpected moves %v", c.Rank(), moves)
		}
		if dir.Epoch() != epoch {
			t.Errorf("rank %d: epoch changed without a move", c.Rank())
		}
		return nil
	})
}

func TestRun_MovesMultiPhaseNodeWithLevelset(t *testing.T) {
	dom := testutil.MustDomain(t, 1, [3]int{4, 1, 1}, [3]bool{})
	l := testutil.MustLayout(t, 1, 4, 2)
	roots := dom.RootIDs()
	heavy := roots[1].Child(1)

	// moved describes what rank 1 holds for the heavy node after balancing.
	type moved struct {
		materials []topology.Material
		average   []float64
		levelset  block.Field
		fraction  block.Field
		tags      []int8
		levelsets []nodeid.ID
	}
	got := make([]moved, 2)
	var records []trace.BalanceRecord

	// GIVEN rank 0 refined both of its roots and holds two two-material leaves
	testutil.RunRanks(t, 2, func(c comm.Communicator, lock func(func())) error {
		dir := topology.New(dom, 2, l.InteriorSize(), []topology.Material{0})
		tr := tree.New(dir, l, shape, c.Rank())
		for _, id := range dir.LocalIds(c.Rank()) {
			tr.CreateNode(id, dir.MaterialsOfNode(id))
		}
		if c.Rank() == 0 {
			tr.RefineNode(roots[0])
			tr.RefineNode(roots[1])
		}
		dir.UpdateTopology(c)
		if c.Rank() == 0 {
			dir.AddMaterialToNode(roots[0].Child(0), 1)
			dir.AddMaterialToNode(heavy, 1)
		}
		dir.UpdateTopology(c)
		tr.FollowMaterials()
		if c.Rank() == 0 {
			n := tr.GetNodeWithId(heavy)
			n.Phase(0).Buffer(block.Average)[0][3] = 3
			n.Phase(1).Buffer(block.Average)[0][3] = 5
			ib := n.Interface()
			ib.Levelset[3] = -0.25
			ib.VolumeFraction[3] = 0.5
			n.SetUniformTags(1)
		}
		st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})

		// WHEN balancing after a step that advanced level 0 only
		New(tr, c, 0.1, physics.Identity{}, st).Run([]int{0})

		var obs moved
		for _, n := range tr.NodesWithLevelset() {
			obs.levelsets = append(obs.levelsets, n.ID())
		}
		if tr.NodeExists(heavy) {
			n := tr.GetNodeWithId(heavy)
			obs.materials = append(obs.materials, n.Materials()...)
			for _, m := range n.Materials() {
				obs.average = append(obs.average, n.Phase(m).Buffer(block.Average)[0][3])
			}
			if n.HasLevelset() {
				obs.levelset = append(block.Field(nil), n.Interface().Levelset...)
				obs.fraction = append(block.Field(nil), n.Interface().VolumeFraction...)
			}
			obs.tags = append(obs.tags, n.Tags()...)
		}
		lock(func() {
			got[c.Rank()] = obs
			if c.Rank() == 0 {
				records = st.Balances
			}
		})
		return nil
	})

	// THEN the heavy node arrived on rank 1 with both phases and its interface
	assert.Nil(t, got[0].materials, "sender dropped its copy")
	assert.Equal(t, []nodeid.ID{roots[0].Child(0)}, got[0].levelsets)
	assert.Equal(t, []topology.Material{0, 1}, got[1].materials)
	assert.Equal(t, []float64{3, 5}, got[1].average)
	require.NotNil(t, got[1].levelset)
	assert.Equal(t, -0.25, got[1].levelset[3])
	assert.Equal(t, 0.5, got[1].fraction[3])
	assert.Equal(t, []int8{1, 1, 1, 1, 1, 1, 1, 1}, got[1].tags)
	assert.Equal(t, []nodeid.ID{heavy}, got[1].levelsets)

	// and the manifest lists the interface buffers
	require.Len(t, records, 1)
	assert.Equal(t, heavy, nodeid.ID(records[0].Node))
	assert.Equal(t, Categories(false, true), records[0].Categories)
}
