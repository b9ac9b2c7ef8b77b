package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/physics"
	"github.com/blockforest/blockforest/sim/snapshot"
	"github.com/blockforest/blockforest/sim/trace"
)

// RunOptions tune a run beyond its configuration.
type RunOptions struct {
	RunID    uuid.UUID           // uuid.Nil draws a fresh id; ignored on restart
	Restart  *snapshot.Snapshot  // continue from this forest instead of initializing
	Abort    func(rank int) bool // polled by every rank at each micro step
	Snapshot bool                // capture the final forest, or the last completed macro step on abort
}

// RunResult is what a finished or aborted run hands back.
type RunResult struct {
	Metrics  *RunMetrics
	Snapshot *snapshot.Snapshot
	Traces   []*trace.SimulationTrace // one per rank
}

// Run executes cfg on an in-process world of cfg.Grid.Ranks ranks, one
// goroutine per rank. On abort the partial result is returned together with
// an error wrapping ErrAborted; its snapshot, if requested, is the forest at
// the last completed macro step.
func Run(ctx context.Context, cfg SimConfig, opts RunOptions) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	ic, err := physics.NewInitialCondition(cfg.Physics.Profile)
	if err != nil {
		return nil, fmt.Errorf("physics.profile: %w", err)
	}
	phys := physics.Reference(cfg.Physics.Velocity, cfg.Physics.CFL, ic)
	runID := opts.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	world := comm.NewWorld(cfg.Grid.Ranks)
	res := &RunResult{
		Metrics: &RunMetrics{RunID: runID.String(), Ranks: cfg.Grid.Ranks},
		Traces:  make([]*trace.SimulationTrace, cfg.Grid.Ranks),
	}
	var mu sync.Mutex
	runErr := world.Run(func(c comm.Communicator) error {
		var a *Assembler
		var err error
		if opts.Restart != nil {
			a, err = RestoreAssembler(cfg, c, phys, opts.Restart)
		} else {
			a, err = NewAssembler(cfg, c, phys, runID)
		}
		if err != nil {
			return err
		}
		if opts.Restart == nil {
			a.Initialize(ctx)
		}
		if opts.Abort != nil {
			rank := c.Rank()
			a.SetAbort(func() bool { return opts.Abort(rank) })
		}
		a.SetCheckpointing(opts.Snapshot && opts.Abort != nil)

		initial := a.ConservedTotals()
		loopErr := a.ComputeLoop(ctx)
		final := a.ConservedTotals()
		var snap *snapshot.Snapshot
		switch {
		case !opts.Snapshot:
		case loopErr == nil:
			snap = a.Snapshot()
		case errors.Is(loopErr, ErrAborted):
			snap = a.Checkpoint()
		}
		dir := a.Tree().Directory()
		nodes, leaves := dir.NodeAndLeafCount()
		_, perRank := dir.NodesAndLeavesPerRank(c.Size())

		mu.Lock()
		defer mu.Unlock()
		res.Traces[c.Rank()] = a.Trace()
		if c.Rank() == 0 {
			m := res.Metrics
			m.RunID = a.runID.String()
			m.Time = a.Time()
			m.MacroSteps = a.MacroSteps()
			m.MicroSteps = a.MicroSteps()
			m.Collapsed = a.Collapsed()
			m.Nodes, m.Leaves = nodes, leaves
			m.LeavesPerRank = perRank
			m.InitialTotals = initial
			m.FinalTotals = final
			res.Snapshot = snap
		}
		return loopErr
	})

	res.Metrics.Collectives = world.Metrics().CollectiveCount()
	res.Metrics.Traffic = world.Metrics().Traffic()
	if cfg.Trace.Level == trace.TraceLevelDecisions {
		merged := trace.NewSimulationTrace(cfg.Trace)
		for _, st := range res.Traces {
			if st == nil {
				continue
			}
			merged.Remeshes = append(merged.Remeshes, st.Remeshes...)
			merged.Balances = append(merged.Balances, st.Balances...)
		}
		res.Metrics.Decisions = trace.Summarize(merged)
	}
	log := logrus.WithField("run_id", res.Metrics.RunID)
	if runErr != nil {
		log.WithError(runErr).Warn("run stopped early")
		return res, runErr
	}
	log.Infof("run finished at t=%g after %d macro steps", res.Metrics.Time, res.Metrics.MacroSteps)
	return res, nil
}
