package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blockforest/blockforest/sim/trace"
)

// RunFile is the YAML form of a run configuration. Nil pointer fields mean
// "not set in YAML" and leave the corresponding SimConfig value untouched.
// String fields use the empty string for "not set".
type RunFile struct {
	Grid    GridFile    `yaml:"grid"`
	Block   BlockFile   `yaml:"block"`
	Remesh  RemeshFile  `yaml:"remesh"`
	Balance BalanceFile `yaml:"balance"`
	Time    TimeFile    `yaml:"time"`
	Physics PhysicsFile `yaml:"physics"`
	Trace   string      `yaml:"trace"`
}

// GridFile holds the level-zero arrangement.
type GridFile struct {
	Dim        *int     `yaml:"dim"`
	Roots      []int    `yaml:"roots"`
	Periodic   []bool   `yaml:"periodic"`
	RootLength *float64 `yaml:"root_length"`
	Ranks      *int     `yaml:"ranks"`
}

// BlockFile holds the per-node layout and field counts.
type BlockFile struct {
	Cells       *int `yaml:"cells"`
	Halo        *int `yaml:"halo"`
	Equations   *int `yaml:"equations"`
	PrimeStates *int `yaml:"prime_states"`
	Parameters  *int `yaml:"parameters"`
}

// RemeshFile holds the multiresolution thresholds.
type RemeshFile struct {
	MaximumLevel    *int     `yaml:"maximum_level"`
	Reference       *float64 `yaml:"reference"`
	CoarsenFraction *float64 `yaml:"coarsen_fraction"`
	Frozen          *bool    `yaml:"frozen"`
}

// BalanceFile holds the load balancing parameters.
type BalanceFile struct {
	Threshold *float64 `yaml:"threshold"`
	Disabled  *bool    `yaml:"disabled"`
}

// TimeFile holds the time integration parameters.
type TimeFile struct {
	EndTime           *float64 `yaml:"end_time"`
	MinimumTimestep   *float64 `yaml:"minimum_timestep"`
	MaximumMacroSteps *int     `yaml:"maximum_macro_steps"`
	DisableCorrection *bool    `yaml:"disable_correction"`
}

// PhysicsFile holds the reference advection parameters.
type PhysicsFile struct {
	Velocity []float64   `yaml:"velocity"`
	CFL      *float64    `yaml:"cfl"`
	Profile  ProfileFile `yaml:"profile"`
}

// ProfileFile holds the initial condition.
type ProfileFile struct {
	Kind       string   `yaml:"kind"`
	Axis       *int     `yaml:"axis"`
	Position   *float64 `yaml:"position"`
	Left       *float64 `yaml:"left"`
	Right      *float64 `yaml:"right"`
	Amplitude  *float64 `yaml:"amplitude"`
	Wavelength *float64 `yaml:"wavelength"`
}

// LoadRunFile reads and parses a YAML run file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	return ParseRunFile(data)
}

// ParseRunFile parses the YAML content of a run file.
func ParseRunFile(data []byte) (*RunFile, error) {
	var rf RunFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rf); err != nil {
		return nil, fmt.Errorf("parsing run file: %w", err)
	}
	if len(rf.Grid.Roots) > 3 || len(rf.Grid.Periodic) > 3 || len(rf.Physics.Velocity) > 3 {
		return nil, fmt.Errorf("parsing run file: per-axis lists take at most 3 entries")
	}
	if !trace.IsValidTraceLevel(rf.Trace) {
		return nil, fmt.Errorf("parsing run file: unknown trace level %q", rf.Trace)
	}
	return &rf, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Apply overrides cfg with every value set in the file. Per-axis lists
// replace the leading axes; axes they do not name reset to their neutral
// value.
func (rf *RunFile) Apply(cfg *SimConfig) {
	setInt(&cfg.Grid.Dim, rf.Grid.Dim)
	if rf.Grid.Roots != nil {
		cfg.Grid.Roots = [3]int{1, 1, 1}
		copy(cfg.Grid.Roots[:], rf.Grid.Roots)
	}
	if rf.Grid.Periodic != nil {
		cfg.Grid.Periodic = [3]bool{}
		copy(cfg.Grid.Periodic[:], rf.Grid.Periodic)
	}
	setFloat(&cfg.Grid.RootLength, rf.Grid.RootLength)
	setInt(&cfg.Grid.Ranks, rf.Grid.Ranks)

	setInt(&cfg.Block.Cells, rf.Block.Cells)
	setInt(&cfg.Block.Halo, rf.Block.Halo)
	setInt(&cfg.Block.Equations, rf.Block.Equations)
	setInt(&cfg.Block.PrimeStates, rf.Block.PrimeStates)
	setInt(&cfg.Block.Parameters, rf.Block.Parameters)

	setInt(&cfg.Remesh.MaximumLevel, rf.Remesh.MaximumLevel)
	setFloat(&cfg.Remesh.Reference, rf.Remesh.Reference)
	setFloat(&cfg.Remesh.CoarsenFraction, rf.Remesh.CoarsenFraction)
	setBool(&cfg.Remesh.Frozen, rf.Remesh.Frozen)

	setFloat(&cfg.Balance.Threshold, rf.Balance.Threshold)
	setBool(&cfg.Balance.Disabled, rf.Balance.Disabled)

	setFloat(&cfg.Time.EndTime, rf.Time.EndTime)
	setFloat(&cfg.Time.MinimumTimestep, rf.Time.MinimumTimestep)
	setInt(&cfg.Time.MaximumMacroSteps, rf.Time.MaximumMacroSteps)
	setBool(&cfg.Time.DisableCorrection, rf.Time.DisableCorrection)

	if rf.Physics.Velocity != nil {
		cfg.Physics.Velocity = [3]float64{}
		copy(cfg.Physics.Velocity[:], rf.Physics.Velocity)
	}
	setFloat(&cfg.Physics.CFL, rf.Physics.CFL)
	p := &cfg.Physics.Profile
	if rf.Physics.Profile.Kind != "" {
		p.Kind = rf.Physics.Profile.Kind
	}
	setInt(&p.Axis, rf.Physics.Profile.Axis)
	setFloat(&p.Position, rf.Physics.Profile.Position)
	setFloat(&p.Left, rf.Physics.Profile.Left)
	setFloat(&p.Right, rf.Physics.Profile.Right)
	setFloat(&p.Amplitude, rf.Physics.Profile.Amplitude)
	setFloat(&p.Wavelength, rf.Physics.Profile.Wavelength)

	if rf.Trace != "" {
		cfg.Trace.Level = trace.TraceLevel(rf.Trace)
	}
}
