// Package trace records the structural decisions of a run: remesh
// classifications and load-balance moves.
// It has no dependencies on the grid packages and stores pure data types.
package trace

// RemeshRecord captures the classification of one child against its parent.
type RemeshRecord struct {
	Step      int     // micro step counter of the run
	Node      uint64  // child node id
	Level     int     // level of the child
	Detail    float64 // normalised wavelet detail
	Threshold float64 // refinement threshold of the level
	Decision  string  // "refine", "coarsen" or "neutral"
}

// BalanceRecord captures one node moving between ranks.
type BalanceRecord struct {
	Step       int
	Node       uint64
	From       int
	To         int
	Categories []string // buffer categories transferred with the node
}
