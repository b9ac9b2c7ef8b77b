package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/blockforest/blockforest/sim/balance"
	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/comm"
	"github.com/blockforest/blockforest/sim/halo"
	"github.com/blockforest/blockforest/sim/jumpflux"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/physics"
	"github.com/blockforest/blockforest/sim/remesh"
	"github.com/blockforest/blockforest/sim/snapshot"
	"github.com/blockforest/blockforest/sim/topology"
	"github.com/blockforest/blockforest/sim/trace"
	"github.com/blockforest/blockforest/sim/tree"
)

// ErrAborted is returned by Advance and ComputeLoop once any rank raised the
// abort flag.
var ErrAborted = errors.New("simulation aborted")

const tracerName = "github.com/blockforest/blockforest/sim"

// Assembler drives the local time stepping of one rank. Every exported
// method that touches the forest is collective: all ranks of the world must
// call it in the same order.
type Assembler struct {
	cfg   SimConfig
	c     comm.Communicator
	phys  physics.Collaborators
	runID uuid.UUID
	log   *logrus.Entry

	tree      *tree.Tree
	halo      *halo.Engine
	corrector *jumpflux.Corrector
	remesher  *remesh.Remesher
	balancer  *balance.Balancer
	trace     *trace.SimulationTrace

	tracer oteltrace.Tracer
	span   oteltrace.Span
	phases *PhaseMachine
	abort  func() bool

	checkpointing bool
	checkpoint    *snapshot.Snapshot

	time       float64
	macroSteps int
	microSteps int
	collapsed  bool
}

// NewAssembler validates cfg and builds an empty forest for the rank of c.
// Call Initialize before stepping.
func NewAssembler(cfg SimConfig, c comm.Communicator, phys physics.Collaborators, runID uuid.UUID) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	dom, err := cfg.Grid.Domain()
	if err != nil {
		return nil, err
	}
	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	dir := topology.New(dom, c.Size(), layout.InteriorSize(), []topology.Material{0})
	a := &Assembler{
		cfg:    cfg,
		c:      c,
		phys:   phys,
		runID:  runID,
		log:    logrus.WithFields(logrus.Fields{"rank": c.Rank(), "run_id": runID.String()}),
		trace:  trace.NewSimulationTrace(cfg.Trace),
		tracer: otel.Tracer(tracerName),
	}
	a.phases = NewPhaseMachine(func(p Phase) {
		if a.span != nil {
			a.span.AddEvent(p.String())
		}
	})
	a.attach(tree.New(dir, layout, cfg.Block.Shape(), c.Rank()))
	return a, nil
}

// RestoreAssembler rebuilds an assembler from a snapshot. The snapshot's
// grid must match cfg; its rank count may differ from the world size.
func RestoreAssembler(cfg SimConfig, c comm.Communicator, phys physics.Collaborators, s *snapshot.Snapshot) (*Assembler, error) {
	runID, err := uuid.Parse(s.RunID)
	if err != nil {
		return nil, fmt.Errorf("snapshot run id: %w", err)
	}
	a, err := NewAssembler(cfg, c, phys, runID)
	if err != nil {
		return nil, err
	}
	want := a.tree
	t, err := snapshot.Restore(s, c)
	if err != nil {
		return nil, err
	}
	if t.Layout() != want.Layout() || t.Shape() != want.Shape() {
		return nil, fmt.Errorf("snapshot block %+v/%+v does not match configuration %+v/%+v",
			t.Layout(), t.Shape(), want.Layout(), want.Shape())
	}
	if t.Directory().Domain() != want.Directory().Domain() {
		return nil, fmt.Errorf("snapshot domain %+v does not match configuration %+v",
			t.Directory().Domain(), want.Directory().Domain())
	}
	if deepest := t.Directory().CurrentMaximumLevel(); deepest > cfg.Remesh.MaximumLevel {
		return nil, fmt.Errorf("snapshot reaches level %d beyond remesh.maximum_level %d", deepest, cfg.Remesh.MaximumLevel)
	}
	a.attach(t)
	a.time = s.Time
	a.macroSteps = s.Step
	a.halo.Update(a.allLevels(), halo.Conservative(block.Average), false)
	a.obtainPrimeStates(a.tree.IDs())
	a.log.Infof("restored %d nodes at t=%g, macro step %d", len(t.Directory().AllIds()), a.time, a.macroSteps)
	return a, nil
}

// attach wires the grid components to t.
func (a *Assembler) attach(t *tree.Tree) {
	a.tree = t
	a.halo = halo.New(t, a.c, a.phys.Boundary)
	a.corrector = jumpflux.New(t, a.c, a.cfg.Grid.RootLength)
	a.remesher = remesh.New(t, a.c, a.halo, a.cfg.Remesh.Thresholds(a.cfg.Grid.Dim), a.trace)
	a.balancer = balance.New(t, a.c, a.cfg.Balance.Threshold, a.phys.Converter, a.trace)
}

// Tree returns the local forest.
func (a *Assembler) Tree() *tree.Tree { return a.tree }

// Trace returns the decision trace of this rank.
func (a *Assembler) Trace() *trace.SimulationTrace { return a.trace }

// Time returns the simulated time reached so far.
func (a *Assembler) Time() float64 { return a.time }

// MacroSteps returns the number of completed macro steps.
func (a *Assembler) MacroSteps() int { return a.macroSteps }

// MicroSteps returns the number of completed micro steps.
func (a *Assembler) MicroSteps() int { return a.microSteps }

// Collapsed reports whether the run stopped because the stable time step
// fell below the configured minimum.
func (a *Assembler) Collapsed() bool { return a.collapsed }

// Phase returns the current stage of the micro step machine.
func (a *Assembler) Phase() Phase { return a.phases.Current() }

// SetAbort installs the abort sentinel polled at the start of every micro
// step. Any rank returning true stops all ranks.
func (a *Assembler) SetAbort(fn func() bool) { a.abort = fn }

// SetCheckpointing makes ComputeLoop capture the forest before every macro
// step, so that an aborted run can still hand back a consistent state.
func (a *Assembler) SetCheckpointing(on bool) { a.checkpointing = on }

// Checkpoint returns the forest as of the last completed macro step, nil
// unless checkpointing is on and the loop ran.
func (a *Assembler) Checkpoint() *snapshot.Snapshot { return a.checkpoint }

// GetLevels returns, in ascending order, the levels that finish their time
// step at the end of the given micro step of a macro step on a forest with
// maximum level maxLevel. The finest level finishes every micro step and
// level L every 2^(maxLevel-L) micro steps.
func GetLevels(microStep, maxLevel int) []int {
	k := bits.OnesCount(uint((microStep + 1) ^ microStep))
	if k > maxLevel+1 {
		k = maxLevel + 1
	}
	levels := make([]int, 0, k)
	for level := maxLevel - k + 1; level <= maxLevel; level++ {
		levels = append(levels, level)
	}
	return levels
}

// startingLevels returns the levels that begin a time step at the given micro
// step: all of them first, afterwards those that just finished.
func startingLevels(microStep, maxLevel int) []int {
	if microStep == 0 {
		return GetLevels(-1, maxLevel)
	}
	return GetLevels(microStep-1, maxLevel)
}

func (a *Assembler) allLevels() []int {
	return GetLevels(-1, a.cfg.Remesh.MaximumLevel)
}

func (a *Assembler) cellSize(level int) float64 {
	return a.tree.Layout().CellSize(level, a.cfg.Grid.RootLength)
}

func (a *Assembler) impose(n *tree.Node) {
	dom := a.tree.Directory().Domain()
	for _, m := range n.Materials() {
		physics.Impose(a.phys.Initial, n.Phase(m), dom, n.ID(), a.cfg.Grid.RootLength)
	}
}

func (a *Assembler) obtainPrimeStates(ids []nodeid.ID) {
	for _, id := range ids {
		n := a.tree.GetNodeWithId(id)
		for _, m := range n.Materials() {
			a.phys.Converter.ObtainPrimeStates(n.Phase(m))
		}
	}
}

// copyBuffer copies one buffer into another on every local node.
func (a *Assembler) copyBuffer(from, to block.BufferKind) {
	for _, id := range a.tree.IDs() {
		n := a.tree.GetNodeWithId(id)
		for _, m := range n.Materials() {
			b := n.Phase(m)
			b.SetBuffer(to, b.Buffer(from))
		}
	}
}

// Initialize builds the initial forest: the roots are refined uniformly to
// the maximum level, the initial condition is imposed, smooth regions are
// coarsened until the mesh settles and the result is load balanced.
func (a *Assembler) Initialize(ctx context.Context) {
	_, span := a.tracer.Start(ctx, "sim.Assembler.Initialize")
	defer span.End()

	dir := a.tree.Directory()
	lmax := a.cfg.Remesh.MaximumLevel
	for _, id := range dir.LocalIds(a.c.Rank()) {
		a.impose(a.tree.CreateNode(id, dir.MaterialsOfNode(id)))
	}
	for level := 0; level < lmax; level++ {
		for _, leaf := range a.tree.LeavesOnLevel(level) {
			for _, child := range a.tree.RefineNode(leaf.ID()) {
				a.impose(a.tree.GetNodeWithId(child))
			}
		}
		dir.UpdateTopology(a.c)
	}

	all := a.allLevels()
	a.tree.AverageToParents(all, block.Average, a.c)
	passes := 0
	for ; passes < lmax; passes++ {
		a.copyBuffer(block.Average, block.RightHandSide)
		a.halo.Update(all, halo.Conservative(block.RightHandSide), false)
		if !a.remesher.Remesh(all) {
			break
		}
	}

	a.balancer.Run(nil)
	for _, leaf := range a.tree.Leaves() {
		a.impose(leaf)
	}
	a.tree.AverageToParents(all, block.Average, a.c)
	a.halo.Update(all, halo.Conservative(block.Average), false)
	a.obtainPrimeStates(a.tree.IDs())

	nodes, leaves := dir.NodeAndLeafCount()
	span.SetAttributes(
		attribute.Int("nodes", nodes),
		attribute.Int("leaves", leaves),
		attribute.Int("remesh_passes", passes),
	)
	a.log.Infof("initialized %d nodes, %d leaves after %d remesh passes; leaves per rank %s",
		nodes, leaves, passes, dir.LeafRankDistribution(a.c.Size()))
}

// macroTimestep returns the micro step size of the next macro step. The
// stable step of every leaf is scaled to the finest level; the result is
// clamped so the macro step ends exactly at the end time. ok is false when
// the stable step collapsed below the configured minimum.
func (a *Assembler) macroTimestep() (dt float64, clamped, ok bool) {
	lmax := a.cfg.Remesh.MaximumLevel
	local := math.Inf(1)
	for _, leaf := range a.tree.Leaves() {
		level := leaf.ID().Level()
		for _, m := range leaf.Materials() {
			stable := a.phys.Limiter.Timestep(leaf.Phase(m), a.cellSize(level))
			local = math.Min(local, math.Ldexp(stable, level-lmax))
		}
	}
	dt = a.c.AllReduceMin(local)
	if dt < a.cfg.Time.MinimumTimestep || math.IsNaN(dt) {
		return dt, false, false
	}
	remaining := math.Ldexp(a.cfg.Time.EndTime-a.time, -lmax)
	if remaining <= dt {
		return remaining, true, true
	}
	return dt, false, true
}

// Advance runs one macro step: 2^maxLevel micro steps after which every
// level has advanced by the same time.
func (a *Assembler) Advance(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "sim.Assembler.Advance",
		oteltrace.WithAttributes(attribute.Int("macro_step", a.macroSteps)))
	defer span.End()

	dt, clamped, ok := a.macroTimestep()
	if !ok {
		a.collapsed = true
		span.SetStatus(codes.Error, "time step collapsed")
		a.log.Warnf("stable time step %g fell below the minimum %g at t=%g", dt, a.cfg.Time.MinimumTimestep, a.time)
		return nil
	}
	lmax := a.cfg.Remesh.MaximumLevel
	span.SetAttributes(attribute.Float64("dt", dt), attribute.Float64("time", a.time))
	for step := 0; step < 1<<uint(lmax); step++ {
		if err := a.microStep(ctx, step, dt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if clamped {
		a.time = a.cfg.Time.EndTime
	} else {
		a.time += math.Ldexp(dt, lmax)
	}
	a.macroSteps++

	nodes, leaves := a.tree.Directory().NodeAndLeafCount()
	a.log.Debugf("macro step %d done: t=%g dt=%g, %d nodes, %d leaves", a.macroSteps, a.time, dt, nodes, leaves)
	span.SetStatus(codes.Ok, "")
	return nil
}

// microStep advances the levels that start or finish at the given micro step.
// dt is the time step of the finest level.
func (a *Assembler) microStep(ctx context.Context, step int, dt float64) error {
	_, span := a.tracer.Start(ctx, "sim.Assembler.MicroStep",
		oteltrace.WithAttributes(attribute.Int("micro_step", step)))
	defer span.End()
	a.span = span
	defer func() { a.span = nil }()

	if a.c.AllReduceOr(a.abort != nil && a.abort()) {
		span.SetStatus(codes.Error, ErrAborted.Error())
		return ErrAborted
	}

	lmax := a.cfg.Remesh.MaximumLevel
	starting := startingLevels(step, lmax)
	finished := GetLevels(step, lmax)
	span.SetAttributes(attribute.IntSlice("finished_levels", finished))

	a.phases.Enter(HaloFilled)
	a.halo.Update(a.allLevels(), halo.Conservative(block.Average), false)

	a.phases.Enter(FluxesComputed)
	for _, level := range starting {
		for _, leaf := range a.tree.LeavesOnLevel(level) {
			for _, m := range leaf.Materials() {
				b := leaf.Phase(m)
				b.SetBuffer(block.Initial, b.Buffer(block.Average))
				a.phys.Flux.ComputeRightHandSide(b, a.cellSize(level))
			}
		}
	}

	a.phases.Enter(Integrated)
	for _, level := range finished {
		levelDt := math.Ldexp(dt, lmax-level)
		for _, leaf := range a.tree.LeavesOnLevel(level) {
			for _, m := range leaf.Materials() {
				b := leaf.Phase(m)
				a.phys.Integrator.Integrate(b, levelDt)
				jumpflux.Accumulate(b, levelDt)
			}
		}
	}

	a.phases.Enter(JumpCorrected)
	if a.cfg.Time.DisableCorrection {
		a.corrector.Reset(finished)
	} else {
		a.corrector.Correct(finished)
	}
	a.tree.AverageToParents(finished[1:], block.RightHandSide, a.c)
	a.halo.Update(finished, halo.Conservative(block.RightHandSide), true)

	a.phases.Enter(Remeshed)
	if !a.cfg.Remesh.Frozen {
		a.remesher.SetStep(a.microSteps)
		a.remesher.Remesh(finished)
	}

	a.phases.Enter(Balanced)
	if !a.cfg.Balance.Disabled {
		a.balancer.SetStep(a.microSteps)
		a.balancer.Run(finished)
	}

	for _, level := range finished {
		for _, n := range a.tree.NodesOnLevel(level) {
			for _, m := range n.Materials() {
				b := n.Phase(m)
				b.SwapAverageAndRightHandSide()
				a.phys.Converter.ObtainPrimeStates(b)
			}
		}
	}
	a.phases.Enter(Idle)
	a.microSteps++
	return nil
}

// ComputeLoop advances macro steps until the end time, the macro step limit
// or a collapsed time step is reached. It returns ErrAborted when the abort
// sentinel fired on any rank.
func (a *Assembler) ComputeLoop(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "sim.Assembler.ComputeLoop")
	defer span.End()

	for a.time < a.cfg.Time.EndTime {
		if limit := a.cfg.Time.MaximumMacroSteps; limit > 0 && a.macroSteps >= limit {
			a.log.Infof("stopping at the macro step limit %d, t=%g", limit, a.time)
			break
		}
		if a.checkpointing {
			a.checkpoint = a.Snapshot()
		}
		if err := a.Advance(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.log.WithError(err).Warnf("stopped at t=%g after %d macro steps", a.time, a.macroSteps)
			return err
		}
		if a.collapsed {
			break
		}
	}
	span.SetAttributes(attribute.Int("macro_steps", a.macroSteps), attribute.Float64("time", a.time))
	span.SetStatus(codes.Ok, "")
	return nil
}

// ConservedTotals returns, per equation, the integral of the Average buffer
// over all leaves of the forest. Collective.
func (a *Assembler) ConservedTotals() []float64 {
	l := a.tree.Layout()
	shape := a.tree.Shape()
	contributions := make([][]float64, shape.Equations)
	for _, leaf := range a.tree.Leaves() {
		volume := math.Pow(a.cellSize(leaf.ID().Level()), float64(l.Dim))
		for _, m := range leaf.Materials() {
			avg := leaf.Phase(m).Buffer(block.Average)
			for eq := range avg {
				l.ForEachInterior(func(c [3]int) {
					contributions[eq] = append(contributions[eq], avg[eq][l.IndexOf(c)]*volume)
				})
			}
		}
	}
	totals := make([]float64, shape.Equations)
	for eq := range totals {
		totals[eq] = a.c.AllReduceSum(floats.Sum(contributions[eq]))
	}
	return totals
}

// Snapshot captures the forest with the current time. Collective.
func (a *Assembler) Snapshot() *snapshot.Snapshot {
	return snapshot.Capture(a.tree, a.c, snapshot.Meta{RunID: a.runID, Time: a.time, Step: a.macroSteps})
}
