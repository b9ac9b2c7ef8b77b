// Package physics defines the collaborators the grid core calls into for
// everything that depends on the equations being solved, and ships a small
// reference set (first-order upwind linear advection) that makes the core
// runnable end to end.
//
// Collaborators work on one block at a time and never communicate.
package physics

import (
	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/nodeid"
)

// FluxComputer evaluates the right-hand side of a leaf block. It reads the
// halo-filled Average buffer and overwrites the interior of the RightHandSide
// buffer with du/dt. The flux through each face of the block, positive along
// the axis, is written to the block's JumpFluxes surface.
type FluxComputer interface {
	ComputeRightHandSide(b *block.Block, cellSize float64)
}

// Integrator advances a leaf block by dt. On entry the RightHandSide buffer
// holds du/dt; on exit it holds the integrated state.
type Integrator interface {
	Integrate(b *block.Block, dt float64)
}

// PrimeStateConverter derives prime states from the Average buffer, ghost
// cells included.
type PrimeStateConverter interface {
	ObtainPrimeStates(b *block.Block)
}

// Boundary fills the ghost cells of an external face.
type Boundary interface {
	FillGhosts(l block.Layout, f block.Field, dir nodeid.Direction)
	FillTags(l block.Layout, tags []int8, dir nodeid.Direction)
}

// InitialCondition writes the conservative values at position x into out,
// one entry per equation.
type InitialCondition interface {
	Conservatives(x [3]float64, out []float64)
}

// TimestepLimiter returns the largest stable time step of a leaf block.
type TimestepLimiter interface {
	Timestep(b *block.Block, cellSize float64) float64
}

// Collaborators bundles one implementation of every interface.
type Collaborators struct {
	Flux       FluxComputer
	Integrator Integrator
	Converter  PrimeStateConverter
	Boundary   Boundary
	Initial    InitialCondition
	Limiter    TimestepLimiter
}

// Reference returns the advection collaborators for the given velocity,
// CFL number and initial profile.
func Reference(velocity [3]float64, cfl float64, initial InitialCondition) Collaborators {
	adv := Advection{Velocity: velocity, CFL: cfl}
	return Collaborators{
		Flux:       adv,
		Integrator: ExplicitEuler{},
		Converter:  Identity{},
		Boundary:   ZeroGradient{},
		Initial:    initial,
		Limiter:    adv,
	}
}
