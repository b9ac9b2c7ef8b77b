// Package snapshot captures the full state of a forest for restart and
// rebuilds a forest from it.
//
// A snapshot holds every node of the forest with its id, owner and named
// buffers. Restoring replays the refinements through the directory level by
// level, so the shape is rebuilt by the same commits a run would issue, and
// only then loads the heavy data into the owning ranks.
package snapshot

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/topology"
	"github.com/blockforest/blockforest/sim/tree"
)

// Phase holds the buffers of one material of a node.
type Phase struct {
	Material    int         `cbor:"1,keyasint"`
	Average     [][]float64 `cbor:"2,keyasint"`
	Initial     [][]float64 `cbor:"3,keyasint"`
	PrimeStates [][]float64 `cbor:"4,keyasint"`
	Parameters  [][]float64 `cbor:"5,keyasint"`
}

// Node is one node of the forest.
type Node struct {
	ID        uint64      `cbor:"1,keyasint"`
	Owner     int         `cbor:"2,keyasint"`
	Leaf      bool        `cbor:"3,keyasint"`
	Phases    []Phase     `cbor:"4,keyasint"`
	Tags      []int8      `cbor:"5,keyasint"`
	Interface [][]float64 `cbor:"6,keyasint,omitempty"`
}

// Snapshot is the complete state of a forest at one instant.
type Snapshot struct {
	RunID       string  `cbor:"1,keyasint"`
	Time        float64 `cbor:"2,keyasint"`
	Step        int     `cbor:"3,keyasint"`
	Ranks       int     `cbor:"4,keyasint"`
	Dim         int     `cbor:"5,keyasint"`
	Roots       [3]int  `cbor:"6,keyasint"`
	Periodic    [3]bool `cbor:"7,keyasint"`
	Cells       int     `cbor:"8,keyasint"`
	Halo        int     `cbor:"9,keyasint"`
	Equations   int     `cbor:"10,keyasint"`
	PrimeStates int     `cbor:"11,keyasint"`
	Parameters  int     `cbor:"12,keyasint"`
	Nodes       []Node  `cbor:"13,keyasint"`
}

// Meta identifies the instant a snapshot is taken at.
type Meta struct {
	RunID uuid.UUID
	Time  float64
	Step  int
}

type nodeList struct {
	Nodes []Node `cbor:"1,keyasint"`
}

// Capture collects the nodes of all ranks. It is collective; every rank
// returns the same snapshot with nodes in ascending id order.
func Capture(t *tree.Tree, c comm.Communicator, meta Meta) *Snapshot {
	dir := t.Directory()
	dom := dir.Domain()
	l := t.Layout()
	shape := t.Shape()

	local := nodeList{}
	for _, id := range t.IDs() {
		local.Nodes = append(local.Nodes, captureNode(t, id))
	}
	s := &Snapshot{
		RunID:       meta.RunID.String(),
		Time:        meta.Time,
		Step:        meta.Step,
		Ranks:       c.Size(),
		Dim:         dom.Dim,
		Roots:       dom.Roots,
		Periodic:    dom.Periodic,
		Cells:       l.Cells,
		Halo:        l.Halo,
		Equations:   shape.Equations,
		PrimeStates: shape.PrimeStates,
		Parameters:  shape.Parameters,
	}
	for _, payload := range c.AllGather(comm.Encode(&local)) {
		var got nodeList
		comm.Decode(payload, &got)
		s.Nodes = append(s.Nodes, got.Nodes...)
	}
	// rank order is id order only until the first rebalance
	ids := make([]nodeid.ID, len(s.Nodes))
	byID := make(map[nodeid.ID]Node, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = nodeid.ID(n.ID)
		byID[ids[i]] = n
	}
	nodeid.Sort(ids)
	for i, id := range ids {
		s.Nodes[i] = byID[id]
	}
	return s
}

func captureNode(t *tree.Tree, id nodeid.ID) Node {
	dir := t.Directory()
	n := t.GetNodeWithId(id)
	out := Node{
		ID:    uint64(id),
		Owner: dir.GetRankOfNode(id),
		Leaf:  dir.NodeIsLeaf(id),
		Tags:  append([]int8(nil), n.Tags()...),
	}
	for _, m := range n.Materials() {
		b := n.Phase(m)
		out.Phases = append(out.Phases, Phase{
			Material:    int(m),
			Average:     copyGrid(b.Buffer(block.Average)),
			Initial:     copyGrid(b.Buffer(block.Initial)),
			PrimeStates: copyGrid(b.Buffer(block.PrimeState)),
			Parameters:  copyGrid(b.Buffer(block.Parameter)),
		})
	}
	if n.HasLevelset() {
		out.Interface = copyGrid(n.Interface().Fields())
	}
	return out
}

func copyGrid(fs block.FieldSet) [][]float64 {
	out := make([][]float64, len(fs))
	for i, f := range fs {
		out[i] = append([]float64(nil), f...)
	}
	return out
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("snapshot: cbor encoder: %v", err))
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 1 << 27}).DecMode(); err != nil {
		panic(fmt.Sprintf("snapshot: cbor decoder: %v", err))
	}
}

// Write encodes the snapshot to w.
func Write(w io.Writer, s *Snapshot) error {
	if err := encMode.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// Read decodes a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := decMode.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// Restore rebuilds the forest of s on the rank of c. It is collective. When
// the snapshot was taken on a different number of ranks the owners are
// recomputed by the load balancer instead of taken from the snapshot.
func Restore(s *Snapshot, c comm.Communicator) (*tree.Tree, error) {
	dom, err := nodeid.NewDomain(s.Dim, s.Roots, s.Periodic)
	if err != nil {
		return nil, fmt.Errorf("snapshot domain: %w", err)
	}
	l, err := block.NewLayout(s.Dim, s.Cells, s.Halo)
	if err != nil {
		return nil, fmt.Errorf("snapshot layout: %w", err)
	}
	shape := block.Shape{Equations: s.Equations, PrimeStates: s.PrimeStates, Parameters: s.Parameters}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot shape: %w", err)
	}
	if err := s.validate(l, shape); err != nil {
		return nil, err
	}

	byID := make(map[nodeid.ID]Node, len(s.Nodes))
	deepest := 0
	for _, n := range s.Nodes {
		id := nodeid.ID(n.ID)
		byID[id] = n
		if id.Level() > deepest {
			deepest = id.Level()
		}
	}
	root, ok := byID[dom.RootIDs()[0]]
	if !ok {
		return nil, fmt.Errorf("snapshot lacks level-zero node %v", dom.RootIDs()[0])
	}
	dir := topology.New(dom, c.Size(), l.InteriorSize(), root.materials())

	for level := 0; level < deepest; level++ {
		for _, id := range dir.GlobalIdsOnLevel(level) {
			n, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("snapshot lacks node %v", id)
			}
			if !n.Leaf {
				dir.RefineNodeWithId(id)
			}
		}
		dir.UpdateTopology(c)
	}
	for _, id := range dir.AllIds() {
		n, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("snapshot lacks node %v", id)
		}
		have := dir.MaterialsOfNode(id)
		want := n.materials()
		for _, m := range want {
			if !contains(have, m) {
				dir.AddMaterialToNode(id, m)
			}
		}
		for _, m := range have {
			if !contains(want, m) {
				dir.RemoveMaterialFromNode(id, m)
			}
		}
	}
	dir.UpdateTopology(c)
	if nodes, _ := dir.NodeAndLeafCount(); nodes != len(s.Nodes) {
		return nil, fmt.Errorf("snapshot holds %d nodes, replay produced %d", len(s.Nodes), nodes)
	}

	if s.Ranks == c.Size() {
		owners := make(map[nodeid.ID]int, len(s.Nodes))
		for id, n := range byID {
			owners[id] = n.Owner
		}
		dir.AssignOwners(owners)
	} else {
		dir.PrepareLoadBalancedTopology(c.Size())
	}

	t := tree.New(dir, l, shape, c.Rank())
	for _, id := range dir.LocalIds(c.Rank()) {
		restoreNode(t.CreateNode(id, dir.MaterialsOfNode(id)), byID[id])
	}
	logrus.Debugf("rank %d restored %d of %d nodes of run %s at t=%g", c.Rank(), len(dir.LocalIds(c.Rank())), len(s.Nodes), s.RunID, s.Time)
	return t, nil
}

func (n Node) materials() []topology.Material {
	out := make([]topology.Material, len(n.Phases))
	for i, p := range n.Phases {
		out[i] = topology.Material(p.Material)
	}
	return out
}

func contains(ms []topology.Material, m topology.Material) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

// validate checks that every buffer of s fits the layout and shape.
func (s *Snapshot) validate(l block.Layout, shape block.Shape) error {
	check := func(id uint64, name string, g [][]float64, fields int) error {
		if len(g) != fields {
			return fmt.Errorf("node %v: %s has %d fields, expected %d", nodeid.ID(id), name, len(g), fields)
		}
		for i, f := range g {
			if len(f) != l.Size() {
				return fmt.Errorf("node %v: %s field %d has %d cells, expected %d", nodeid.ID(id), name, i, len(f), l.Size())
			}
		}
		return nil
	}
	for _, n := range s.Nodes {
		if len(n.Phases) == 0 {
			return fmt.Errorf("node %v holds no material", nodeid.ID(n.ID))
		}
		if n.Owner < 0 || (s.Ranks == 0 || n.Owner >= s.Ranks) {
			return fmt.Errorf("node %v: owner %d outside %d ranks", nodeid.ID(n.ID), n.Owner, s.Ranks)
		}
		if len(n.Tags) != l.Size() {
			return fmt.Errorf("node %v: %d interface tags, expected %d", nodeid.ID(n.ID), len(n.Tags), l.Size())
		}
		for i, p := range n.Phases {
			if i > 0 && p.Material <= n.Phases[i-1].Material {
				return fmt.Errorf("node %v: materials are not ascending", nodeid.ID(n.ID))
			}
			for _, err := range []error{
				check(n.ID, "average", p.Average, shape.Equations),
				check(n.ID, "initial", p.Initial, shape.Equations),
				check(n.ID, "prime states", p.PrimeStates, shape.PrimeStates),
				check(n.ID, "parameters", p.Parameters, shape.Parameters),
			} {
				if err != nil {
					return err
				}
			}
		}
		if n.Interface != nil {
			if err := check(n.ID, "interface", n.Interface, 3); err != nil {
				return err
			}
		}
	}
	return nil
}

func restoreNode(n *tree.Node, src Node) {
	copy(n.Tags(), src.Tags)
	for _, p := range src.Phases {
		b := n.Phase(topology.Material(p.Material))
		b.SetBuffer(block.Average, toFieldSet(p.Average))
		b.SetBuffer(block.Initial, toFieldSet(p.Initial))
		b.SetBuffer(block.PrimeState, toFieldSet(p.PrimeStates))
		b.SetBuffer(block.Parameter, toFieldSet(p.Parameters))
	}
	if src.Interface != nil {
		for i, f := range n.EnsureInterface().Fields() {
			copy(f, src.Interface[i])
		}
	}
}

func toFieldSet(g [][]float64) block.FieldSet {
	out := make(block.FieldSet, len(g))
	for i, f := range g {
		out[i] = f
	}
	return out
}
