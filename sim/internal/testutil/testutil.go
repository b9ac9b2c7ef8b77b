// Package testutil provides shared test infrastructure for the grid packages:
// fixture constructors for domains and layouts, a multi-rank runner and
// floating-point assertions.
package testutil

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/nodeid"
)

// MustDomain builds a domain or fails the test.
func MustDomain(t *testing.T, dim int, roots [3]int, periodic [3]bool) nodeid.Domain {
	t.Helper()
	d, err := nodeid.NewDomain(dim, roots, periodic)
	require.NoError(t, err)
	return d
}

// MustLayout builds a layout or fails the test.
func MustLayout(t *testing.T, dim, cells, halo int) block.Layout {
	t.Helper()
	l, err := block.NewLayout(dim, cells, halo)
	require.NoError(t, err)
	return l
}

// RunRanks runs fn on every rank of a fresh in-process world of size n and
// fails the test if any rank returns an error. Results written by fn must be
// guarded by the caller; Lock serialises such writes.
func RunRanks(t *testing.T, n int, fn func(c comm.Communicator, lock func(func())) error) *comm.World {
	t.Helper()
	w := comm.NewWorld(n)
	var mu sync.Mutex
	lock := func(f func()) {
		mu.Lock()
		defer mu.Unlock()
		f()
	}
	require.NoError(t, w.Run(func(c comm.Communicator) error { return fn(c, lock) }))
	return w
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
