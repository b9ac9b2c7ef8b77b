// Package balance moves nodes between ranks so every rank carries about the
// same number of leaf cells.
//
// The directory decides the new owners. Heavy data then travels in one batch:
// the future owner allocates an empty node and posts the receive, the current
// owner sends, everybody waits once, and only then does the previous owner drop
// its copy.
package balance

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/physics"
	"github.com/blockforest/blockforest/sim/topology"
	"github.com/blockforest/blockforest/sim/trace"
	"github.com/blockforest/blockforest/sim/tree"
)

// Categories transferred with a node.
const (
	CategoryRightHandSide      = "right_hand_side"
	CategoryJumpBuffers        = "jump_buffers"
	CategoryInterfaceTags      = "interface_tags"
	CategoryAverage            = "average"
	CategoryInitial            = "initial"
	CategoryParameters         = "parameters"
	CategoryInterfaceBuffers   = "interface_buffers"
	CategoryPrimeStatesRebuilt = "prime_states_rebuilt"
)

// Balancer runs the load balancing of one rank.
type Balancer struct {
	tree      *tree.Tree
	c         comm.Communicator
	threshold float64
	converter physics.PrimeStateConverter
	trace     *trace.SimulationTrace
	step      int
}

// New returns a balancer that rebalances once the relative spread of rank
// weights exceeds threshold. Prime states of received nodes are rebuilt with
// converter. st may be nil.
func New(t *tree.Tree, c comm.Communicator, threshold float64, converter physics.PrimeStateConverter, st *trace.SimulationTrace) *Balancer {
	return &Balancer{tree: t, c: c, threshold: threshold, converter: converter, trace: st}
}

// SetStep sets the step counter stamped on trace records.
func (b *Balancer) SetStep(step int) { b.step = step }

// Categories lists what travels with a node. A node advanced in the current
// step only needs its freshly integrated right-hand side; any other node also
// carries its state.
func Categories(updated, levelset bool) []string {
	out := []string{CategoryRightHandSide, CategoryJumpBuffers, CategoryInterfaceTags}
	if updated {
		return out
	}
	out = append(out, CategoryAverage, CategoryInitial, CategoryParameters)
	if levelset {
		out = append(out, CategoryInterfaceBuffers)
	}
	return append(out, CategoryPrimeStatesRebuilt)
}

// Run rebalances the forest if necessary. updatedLevels are the levels
// advanced in the current step. It is collective and returns the moves it
// executed.
func (b *Balancer) Run(updatedLevels []int) []topology.Move {
	t := b.tree
	dir := t.Directory()
	if !dir.IsLoadBalancingNecessary(b.c.Size(), b.threshold) {
		return nil
	}
	moves := dir.PrepareLoadBalancedTopology(b.c.Size())
	epoch := dir.Epoch()
	updated := make(map[int]bool, len(updatedLevels))
	for _, level := range updatedLevels {
		updated[level] = true
	}

	batch := comm.NewBatch(b.c)
	var received []*tree.Node
	for _, mv := range moves {
		tag := comm.Tag{Epoch: epoch, Kind: comm.KindBalance, Node: mv.ID, Face: -1}
		nodeUpdated := updated[mv.ID.Level()]
		switch t.Rank() {
		case mv.From:
			n := t.GetNodeWithId(mv.ID)
			batch.Send(mv.To, tag, pack(n, nodeUpdated))
			if b.trace.Enabled() {
				b.trace.RecordBalance(trace.BalanceRecord{
					Step:       b.step,
					Node:       uint64(mv.ID),
					From:       mv.From,
					To:         mv.To,
					Categories: Categories(nodeUpdated, n.HasLevelset()),
				})
			}
		case mv.To:
			n := t.CreateNode(mv.ID, dir.MaterialsOfNode(mv.ID))
			rec := &NodeRecord{}
			batch.Receive(mv.From, tag, rec, func() {
				unpack(n, rec, nodeUpdated)
			})
			if !nodeUpdated {
				received = append(received, n)
			}
		}
	}
	batch.Wait()

	sent := 0
	for _, mv := range moves {
		if mv.From == t.Rank() {
			t.RemoveNodeWithId(mv.ID)
			sent++
		}
	}
	for _, n := range received {
		for _, m := range n.Materials() {
			b.converter.ObtainPrimeStates(n.Phase(m))
		}
	}
	logrus.Debugf("rank %d balanced %d moves (%d sent), leaves per rank %s",
		t.Rank(), len(moves), sent, dir.LeafRankDistribution(b.c.Size()))
	return moves
}

// PhaseRecord is the heavy data of one material of a moving node.
type PhaseRecord struct {
	Material          int           `cbor:"1,keyasint"`
	RightHandSide     [][]float64   `cbor:"2,keyasint"`
	JumpFluxes        [][][]float64 `cbor:"3,keyasint"`
	JumpConservatives [][][]float64 `cbor:"4,keyasint"`
	Average           [][]float64   `cbor:"5,keyasint,omitempty"`
	Initial           [][]float64   `cbor:"6,keyasint,omitempty"`
	Parameters        [][]float64   `cbor:"7,keyasint,omitempty"`
}

// NodeRecord is the wire record of one moving node.
type NodeRecord struct {
	Updated   bool          `cbor:"1,keyasint"`
	Phases    []PhaseRecord `cbor:"2,keyasint"`
	Tags      []int8        `cbor:"3,keyasint"`
	Interface [][]float64   `cbor:"4,keyasint,omitempty"`
}

func pack(n *tree.Node, updated bool) *NodeRecord {
	rec := &NodeRecord{Updated: updated, Tags: n.Tags()}
	for _, m := range n.Materials() {
		blk := n.Phase(m)
		pr := PhaseRecord{
			Material:          int(m),
			RightHandSide:     grid(blk.Buffer(block.RightHandSide)),
			JumpFluxes:        surface(blk.JumpFluxes()),
			JumpConservatives: surface(blk.JumpConservatives()),
		}
		if !updated {
			pr.Average = grid(blk.Buffer(block.Average))
			pr.Initial = grid(blk.Buffer(block.Initial))
			pr.Parameters = grid(blk.Buffer(block.Parameter))
		}
		rec.Phases = append(rec.Phases, pr)
	}
	if !updated && n.HasLevelset() {
		rec.Interface = grid(n.Interface().Fields())
	}
	return rec
}

// unpack writes a received record into the freshly created node n. Any
// disagreement with the receiver's view of the node is a divergence.
func unpack(n *tree.Node, rec *NodeRecord, updated bool) {
	if rec.Updated != updated {
		panic(fmt.Sprintf("balance: node %v sent with updated=%t, receiver expects %t", n.ID(), rec.Updated, updated))
	}
	materials := n.Materials()
	if len(rec.Phases) != len(materials) {
		panic(fmt.Sprintf("balance: node %v arrived with %d phases, expected %d", n.ID(), len(rec.Phases), len(materials)))
	}
	if len(rec.Tags) != len(n.Tags()) {
		panic(fmt.Sprintf("balance: node %v arrived with %d tags, expected %d", n.ID(), len(rec.Tags), len(n.Tags())))
	}
	copy(n.Tags(), rec.Tags)
	for i, pr := range rec.Phases {
		if topology.Material(pr.Material) != materials[i] {
			panic(fmt.Sprintf("balance: node %v phase %d holds material %d, expected %d", n.ID(), i, pr.Material, materials[i]))
		}
		blk := n.Phase(materials[i])
		blk.SetBuffer(block.RightHandSide, fieldSet(pr.RightHandSide))
		setSurface(n, blk.JumpFluxes(), pr.JumpFluxes)
		setSurface(n, blk.JumpConservatives(), pr.JumpConservatives)
		if !updated {
			blk.SetBuffer(block.Average, fieldSet(pr.Average))
			blk.SetBuffer(block.Initial, fieldSet(pr.Initial))
			blk.SetBuffer(block.Parameter, fieldSet(pr.Parameters))
		}
	}
	if rec.Interface != nil {
		ib := n.EnsureInterface()
		for i, f := range ib.Fields() {
			copy(f, rec.Interface[i])
		}
	}
}

func grid(fs block.FieldSet) [][]float64 {
	out := make([][]float64, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func fieldSet(values [][]float64) block.FieldSet {
	out := make(block.FieldSet, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func surface(s *block.Surface) [][][]float64 {
	out := make([][][]float64, len(s))
	for face, fs := range s {
		out[face] = grid(fs)
	}
	return out
}

func setSurface(n *tree.Node, dst *block.Surface, values [][][]float64) {
	if len(values) != len(dst) {
		panic(fmt.Sprintf("balance: node %v arrived with %d surface faces", n.ID(), len(values)))
	}
	for face := range dst {
		if len(values[face]) != len(dst[face]) {
			panic(fmt.Sprintf("balance: node %v face %d arrived with %d fields, expected %d", n.ID(), face, len(values[face]), len(dst[face])))
		}
		for eq := range dst[face] {
			copy(dst[face][eq], values[face][eq])
		}
	}
}
