// Tracks run-wide results such as step counts, forest size, conservation
// and communication volume.

package sim

import (
	"fmt"
	"io"
	"math"

	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/trace"
)

// RunMetrics aggregates statistics about a finished run for final
// reporting.
type RunMetrics struct {
	RunID         string
	Ranks         int
	Time          float64 // simulated time reached
	MacroSteps    int
	MicroSteps    int
	Collapsed     bool      // stopped on a collapsed time step
	Nodes         int       // nodes of the final forest
	Leaves        int       // leaves of the final forest
	LeavesPerRank []int     // leaves owned by each rank
	InitialTotals []float64 // conserved totals after initialization
	FinalTotals   []float64 // conserved totals at the end of the run
	Collectives   float64
	Traffic       []comm.Traffic
	Decisions     *trace.TraceSummary // merged over all ranks; nil when tracing is off
}

// ConservationError returns the largest relative change of a conserved
// total between initialization and the end of the run.
func (m *RunMetrics) ConservationError() float64 {
	worst := 0.0
	for eq := range m.FinalTotals {
		if eq >= len(m.InitialTotals) {
			break
		}
		scale := math.Max(math.Abs(m.InitialTotals[eq]), 1e-300)
		worst = math.Max(worst, math.Abs(m.FinalTotals[eq]-m.InitialTotals[eq])/scale)
	}
	return worst
}

// Print displays aggregated metrics at the end of the run.
func (m *RunMetrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Run                  : %s\n", m.RunID)
	fmt.Fprintf(w, "Ranks                : %d\n", m.Ranks)
	fmt.Fprintf(w, "Simulated Time       : %g\n", m.Time)
	fmt.Fprintf(w, "Macro / Micro Steps  : %d / %d\n", m.MacroSteps, m.MicroSteps)
	if m.Collapsed {
		fmt.Fprintln(w, "Stopped              : time step collapsed")
	}
	fmt.Fprintf(w, "Nodes / Leaves       : %d / %d\n", m.Nodes, m.Leaves)
	fmt.Fprintf(w, "Leaves per Rank      : %v\n", m.LeavesPerRank)
	for eq := range m.FinalTotals {
		fmt.Fprintf(w, "Conserved Total [%d]  : %.12g (initial %.12g)\n", eq, m.FinalTotals[eq], m.InitialTotals[eq])
	}
	fmt.Fprintf(w, "Conservation Error   : %.3e\n", m.ConservationError())
	fmt.Fprintf(w, "Collectives          : %.0f\n", m.Collectives)
	for _, t := range m.Traffic {
		fmt.Fprintf(w, "Messages %-16s: %.0f (%.0f bytes)\n", t.Kind, t.Messages, t.Bytes)
	}
	if m.Decisions != nil {
		d := m.Decisions
		fmt.Fprintf(w, "Remesh Decisions     : %d (refine %d, coarsen %d, keep %d)\n",
			d.TotalDecisions, d.RefineCount, d.CoarsenCount, d.NeutralCount)
		fmt.Fprintf(w, "Balance Moves        : %d to %d ranks\n", d.Moves, d.UniqueTargets)
	}
}
