package sim

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockforest/blockforest/sim/snapshot"
	"github.com/blockforest/blockforest/sim/trace"
)

func TestRun_ReportsMetricsAndSnapshot(t *testing.T) {
	// GIVEN the jump configuration with decision tracing
	cfg := jumpConfig()
	cfg.Time.MaximumMacroSteps = 2
	cfg.Trace.Level = trace.TraceLevelDecisions
	runID := uuid.New()

	// WHEN running it with a final snapshot
	res, err := Run(context.Background(), cfg, RunOptions{RunID: runID, Snapshot: true})

	// THEN the metrics describe the finished run
	require.NoError(t, err)
	m := res.Metrics
	assert.Equal(t, runID.String(), m.RunID)
	assert.Equal(t, 2, m.MacroSteps)
	assert.Equal(t, 8, m.MicroSteps)
	assert.Equal(t, 2.0/16, m.Time)
	assert.Equal(t, 9, m.Leaves)
	assert.Len(t, m.LeavesPerRank, 2)
	assert.Equal(t, 9, m.LeavesPerRank[0]+m.LeavesPerRank[1])
	assert.InDelta(t, jumpInitialTotal-m.Time, m.FinalTotals[0], 1e-12)
	assert.Positive(t, m.Collectives)
	assert.NotEmpty(t, m.Traffic)
	require.NotNil(t, m.Decisions)
	assert.Positive(t, m.Decisions.CoarsenCount)
	assert.Len(t, res.Traces, 2)

	// and the snapshot holds the whole forest
	require.NotNil(t, res.Snapshot)
	assert.Len(t, res.Snapshot.Nodes, m.Nodes)
	assert.Equal(t, m.Time, res.Snapshot.Time)

	var out bytes.Buffer
	m.Print(&out)
	assert.Contains(t, out.String(), "=== Simulation Metrics ===")
	assert.Contains(t, out.String(), "Macro / Micro Steps  : 2 / 8")
}

func TestRun_RestartContinuesOnAnotherRankCount(t *testing.T) {
	// GIVEN a snapshot taken on two ranks after two macro steps
	cfg := jumpConfig()
	cfg.Time.MaximumMacroSteps = 2
	first, err := Run(context.Background(), cfg, RunOptions{Snapshot: true})
	require.NoError(t, err)
	var encoded bytes.Buffer
	require.NoError(t, snapshot.Write(&encoded, first.Snapshot))
	s, err := snapshot.Read(&encoded)
	require.NoError(t, err)

	// WHEN continuing on three ranks for one more macro step
	cfg.Grid.Ranks = 3
	cfg.Time.MaximumMacroSteps = 3
	second, err := Run(context.Background(), cfg, RunOptions{Restart: s})

	// THEN the run keeps its identity, its time and its conserved total
	require.NoError(t, err)
	m := second.Metrics
	assert.Equal(t, first.Metrics.RunID, m.RunID)
	assert.Equal(t, 3, m.MacroSteps)
	assert.Equal(t, 3.0/16, m.Time)
	assert.Len(t, m.LeavesPerRank, 3)
	assert.InDelta(t, first.Metrics.FinalTotals[0], m.InitialTotals[0], 1e-12)
	assert.InDelta(t, jumpInitialTotal-m.Time, m.FinalTotals[0], 1e-12)
}

func TestRun_RestartRejectsAMismatchedGrid(t *testing.T) {
	cfg := jumpConfig()
	cfg.Time.MaximumMacroSteps = 1
	first, err := Run(context.Background(), cfg, RunOptions{Snapshot: true})
	require.NoError(t, err)

	cfg.Block.Cells = 6
	_, err = Run(context.Background(), cfg, RunOptions{Restart: first.Snapshot})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match configuration")
}

func TestRun_AbortReturnsPartialResult(t *testing.T) {
	cfg := jumpConfig()

	res, err := Run(context.Background(), cfg, RunOptions{Abort: func(rank int) bool { return rank == 0 }})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Metrics.MacroSteps)
	assert.Nil(t, res.Snapshot)
}

func TestRun_AbortKeepsLastCompletedMacroStep(t *testing.T) {
	// GIVEN a run that requests a snapshot and aborts during its second macro step
	cfg := jumpConfig()
	var polls sync.Map
	abort := func(rank int) bool {
		n, _ := polls.LoadOrStore(rank, new(int))
		count := n.(*int)
		*count++
		return *count > 1<<uint(cfg.Remesh.MaximumLevel)+1
	}

	// WHEN running
	res, err := Run(context.Background(), cfg, RunOptions{Abort: abort, Snapshot: true})

	// THEN the error wraps ErrAborted and the snapshot holds the forest after
	// the first macro step, stamped with its time
	require.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, 1, res.Metrics.MacroSteps)
	assert.Equal(t, 1, res.Snapshot.Step)
	assert.Equal(t, res.Metrics.Time, res.Snapshot.Time)
	assert.Len(t, res.Snapshot.Nodes, res.Metrics.Nodes)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Grid.Ranks = 0
	_, err := Run(context.Background(), cfg, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid.ranks")
}
