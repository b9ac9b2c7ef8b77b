package sim

import (
	"fmt"
	"math"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/multiresolution"
	"github.com/blockforest/blockforest/sim/nodeid"
	"github.com/blockforest/blockforest/sim/physics"
	"github.com/blockforest/blockforest/sim/trace"
)

// GridConfig groups the level-zero arrangement of the forest.
type GridConfig struct {
	Dim        int     // 1, 2 or 3
	Roots      [3]int  // level-zero blocks per axis (inactive axes 1)
	Periodic   [3]bool // periodic wrap-around per axis
	RootLength float64 // edge length of a level-zero block (must be > 0)
	Ranks      int     // number of ranks of the in-process world (must be > 0)
}

// BlockConfig groups the per-node cell layout and field counts.
type BlockConfig struct {
	Cells       int // interior cells per active axis (even, >= 4)
	Halo        int // ghost layers per face (>= 2)
	Equations   int // conservative equations per material
	PrimeStates int // prime states per material
	Parameters  int // material parameters per material
}

// RemeshConfig groups the multiresolution thresholds.
type RemeshConfig struct {
	MaximumLevel    int     // deepest level a leaf may reach (0 = no refinement)
	Reference       float64 // detail threshold on the maximum level (must be > 0)
	CoarsenFraction float64 // coarsen below this fraction of the threshold, in (0, 1]
	Frozen          bool    // true = keep the mesh built by initialization
}

// BalanceConfig groups dynamic load balancing parameters.
type BalanceConfig struct {
	Threshold float64 // relative weight spread that triggers a rebalance, in [0, 1)
	Disabled  bool    // true = never rebalance after initialization
}

// TimeConfig groups time integration parameters.
type TimeConfig struct {
	EndTime           float64 // simulated end time (must be > 0)
	MinimumTimestep   float64 // the run stops once dt falls below this (>= 0)
	MaximumMacroSteps int     // 0 = unlimited
	DisableCorrection bool    // true = drop the jump-flux correction (testing only)
}

// PhysicsConfig groups the reference advection collaborator.
type PhysicsConfig struct {
	Velocity [3]float64
	CFL      float64 // in (0, 1]
	Profile  physics.Profile
}

// SimConfig is the complete run configuration.
type SimConfig struct {
	Grid    GridConfig
	Block   BlockConfig
	Remesh  RemeshConfig
	Balance BalanceConfig
	Time    TimeConfig
	Physics PhysicsConfig
	Trace   trace.TraceConfig
}

// DefaultSimConfig returns a small 1D periodic advection run.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Grid:    GridConfig{Dim: 1, Roots: [3]int{4, 1, 1}, Periodic: [3]bool{true}, RootLength: 1, Ranks: 2},
		Block:   BlockConfig{Cells: 8, Halo: 4, Equations: 1, PrimeStates: 1},
		Remesh:  RemeshConfig{MaximumLevel: 2, Reference: 1e-3, CoarsenFraction: 0.1},
		Balance: BalanceConfig{Threshold: 0.1},
		Time:    TimeConfig{EndTime: 1, MinimumTimestep: 1e-12},
		Physics: PhysicsConfig{
			Velocity: [3]float64{1},
			CFL:      0.5,
			Profile:  physics.Profile{Kind: "step", Position: 1.5, Left: 2, Right: 1},
		},
		Trace: trace.TraceConfig{Level: trace.TraceLevelNone},
	}
}

// Domain returns the validated level-zero arrangement.
func (c GridConfig) Domain() (nodeid.Domain, error) {
	return nodeid.NewDomain(c.Dim, c.Roots, c.Periodic)
}

// Layout returns the validated block layout.
func (c SimConfig) Layout() (block.Layout, error) {
	return block.NewLayout(c.Grid.Dim, c.Block.Cells, c.Block.Halo)
}

// Shape returns the per-material field counts.
func (c BlockConfig) Shape() block.Shape {
	return block.Shape{Equations: c.Equations, PrimeStates: c.PrimeStates, Parameters: c.Parameters}
}

// Thresholds returns the remesh thresholds for a run in dim dimensions.
func (c RemeshConfig) Thresholds(dim int) multiresolution.Thresholds {
	return multiresolution.Thresholds{
		Reference:       c.Reference,
		CoarsenFraction: c.CoarsenFraction,
		Dim:             dim,
		MaxLevel:        c.MaximumLevel,
	}
}

// Validate checks that every group holds a usable value.
func (c SimConfig) Validate() error {
	if _, err := c.Grid.Domain(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	if err := validateFinitePositive("grid.root_length", c.Grid.RootLength); err != nil {
		return err
	}
	if c.Grid.Ranks < 1 {
		return fmt.Errorf("grid.ranks must be positive, got %d", c.Grid.Ranks)
	}
	if _, err := c.Layout(); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	if err := c.Block.Shape().Validate(); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	if c.Remesh.MaximumLevel < 0 || c.Remesh.MaximumLevel > nodeid.MaxLevel {
		return fmt.Errorf("remesh.maximum_level must be in [0, %d], got %d", nodeid.MaxLevel, c.Remesh.MaximumLevel)
	}
	if err := validateFinitePositive("remesh.reference", c.Remesh.Reference); err != nil {
		return err
	}
	if c.Remesh.CoarsenFraction <= 0 || c.Remesh.CoarsenFraction > 1 {
		return fmt.Errorf("remesh.coarsen_fraction must be in (0, 1], got %f", c.Remesh.CoarsenFraction)
	}
	if c.Balance.Threshold < 0 || c.Balance.Threshold >= 1 {
		return fmt.Errorf("balance.threshold must be in [0, 1), got %f", c.Balance.Threshold)
	}
	if err := validateFinitePositive("time.end_time", c.Time.EndTime); err != nil {
		return err
	}
	if c.Time.MinimumTimestep < 0 || math.IsNaN(c.Time.MinimumTimestep) {
		return fmt.Errorf("time.minimum_timestep must be non-negative, got %f", c.Time.MinimumTimestep)
	}
	if c.Time.MaximumMacroSteps < 0 {
		return fmt.Errorf("time.maximum_macro_steps must be non-negative, got %d", c.Time.MaximumMacroSteps)
	}
	if c.Physics.CFL <= 0 || c.Physics.CFL > 1 {
		return fmt.Errorf("physics.cfl must be in (0, 1], got %f", c.Physics.CFL)
	}
	for axis, v := range c.Physics.Velocity {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("physics.velocity[%d] must be finite, got %f", axis, v)
		}
	}
	if c.Physics.Profile.Axis >= c.Grid.Dim {
		return fmt.Errorf("physics.profile.axis %d is inactive in %dD", c.Physics.Profile.Axis, c.Grid.Dim)
	}
	if _, err := physics.NewInitialCondition(c.Physics.Profile); err != nil {
		return fmt.Errorf("physics.profile: %w", err)
	}
	if !trace.IsValidTraceLevel(string(c.Trace.Level)) {
		return fmt.Errorf("unknown trace level %q; valid: none, decisions", c.Trace.Level)
	}
	return nil
}

func validateFinitePositive(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%s must be a finite positive number, got %f", name, v)
	}
	return nil
}
