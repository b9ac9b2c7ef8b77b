package topology

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/blockforest/blockforest/sim/nodeid"
)

// Move is one ownership change computed by PrepareLoadBalancedTopology.
type Move struct {
	ID   nodeid.ID
	From int
	To   int
}

// WeightOfNode returns the computational cost of a node: interior cells times
// materials for leaves, zero for parents.
func (d *Directory) WeightOfNode(id nodeid.ID) float64 {
	n := d.mustGet("WeightOfNode", id)
	if !n.leaf {
		return 0
	}
	return float64(d.cellsPerLeaf * len(n.materials))
}

// WeightsPerRank sums the node weights per owning rank.
func (d *Directory) WeightsPerRank(ranks int) []float64 {
	weights := make([]float64, ranks)
	for _, id := range d.AllIds() {
		weights[d.nodes[id].owner] += d.WeightOfNode(id)
	}
	return weights
}

// IsLoadBalancingNecessary reports whether the relative spread between the
// heaviest and the lightest rank exceeds threshold.
func (d *Directory) IsLoadBalancingNecessary(ranks int, threshold float64) bool {
	if ranks < 2 {
		return false
	}
	weights := d.WeightsPerRank(ranks)
	heaviest := floats.Max(weights)
	if heaviest == 0 {
		return false
	}
	return (heaviest-floats.Min(weights))/heaviest > threshold
}

// PrepareLoadBalancedTopology assigns every node to a rank by cutting the
// id-ordered weight sequence into ranks pieces of equal cumulative weight.
// A node goes to floor(prefix * ranks / total), where prefix is the weight of
// all nodes before it, so a parent follows its first leaf descendant. Only
// owners change; the returned moves are in ascending id order and the epoch
// is bumped.
func (d *Directory) PrepareLoadBalancedTopology(ranks int) []Move {
	ids := d.AllIds()
	weights := make([]float64, len(ids))
	for i, id := range ids {
		weights[i] = d.WeightOfNode(id)
	}
	total := floats.Sum(weights)

	var moves []Move
	prefix := 0.0
	for i, id := range ids {
		target := 0
		if total > 0 {
			target = int(prefix * float64(ranks) / total)
		}
		if target >= ranks {
			target = ranks - 1
		}
		prefix += weights[i]
		n := d.nodes[id]
		if n.owner != target {
			moves = append(moves, Move{ID: id, From: n.owner, To: target})
			n.owner = target
		}
	}
	d.epoch++
	return moves
}

// LeafRankDistribution renders the leaf count per rank, e.g. "[4 3 5]".
func (d *Directory) LeafRankDistribution(ranks int) string {
	_, leaves := d.NodesAndLeavesPerRank(ranks)
	parts := make([]string, ranks)
	for r, n := range leaves {
		parts[r] = fmt.Sprintf("%d", n)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Fingerprint hashes the full light data in id order. Equal fingerprints on
// all ranks indicate identical directories.
func (d *Directory) Fingerprint() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	for _, id := range d.AllIds() {
		n := d.nodes[id]
		write(uint64(id))
		write(uint64(n.owner))
		if n.leaf {
			write(1)
		} else {
			write(0)
		}
		write(uint64(len(n.materials)))
		for _, m := range n.materials {
			write(uint64(m))
		}
	}
	write(d.epoch)
	return h.Sum64()
}
