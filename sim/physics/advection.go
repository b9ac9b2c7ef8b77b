package physics

import (
	"math"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/nodeid"
)

// Advection transports every equation with a constant velocity using
// first-order upwind fluxes.
type Advection struct {
	Velocity [3]float64
	CFL      float64
}

func (a Advection) flux(axis int, left, right float64) float64 {
	v := a.Velocity[axis]
	if v > 0 {
		return v * left
	}
	return v * right
}

// ComputeRightHandSide implements FluxComputer.
func (a Advection) ComputeRightHandSide(b *block.Block, cellSize float64) {
	l := b.Layout()
	avg := b.Buffer(block.Average)
	rhs := b.Buffer(block.RightHandSide)
	jump := b.JumpFluxes()
	for eq := range avg {
		u := avg[eq]
		du := rhs[eq]
		l.ForEachInterior(func(c [3]int) {
			i := l.IndexOf(c)
			du[i] = 0
			for axis := 0; axis < l.Dim; axis++ {
				s := l.Stride(axis)
				du[i] -= (a.flux(axis, u[i], u[i+s]) - a.flux(axis, u[i-s], u[i])) / cellSize
			}
		})
		for _, dir := range nodeid.Directions(l.Dim) {
			s := l.Stride(dir.Axis())
			face := jump[dir][eq]
			for _, fc := range l.FaceCellsOf(dir) {
				i := fc.Cell
				if dir.Sign() > 0 {
					face[fc.Face] = a.flux(dir.Axis(), u[i], u[i+s])
				} else {
					face[fc.Face] = a.flux(dir.Axis(), u[i-s], u[i])
				}
			}
		}
	}
}

// Timestep implements TimestepLimiter. A zero velocity imposes no limit.
func (a Advection) Timestep(b *block.Block, cellSize float64) float64 {
	speed := 0.0
	for axis := 0; axis < b.Layout().Dim; axis++ {
		speed += math.Abs(a.Velocity[axis])
	}
	if speed == 0 {
		return math.Inf(1)
	}
	return a.CFL * cellSize / speed
}

// ExplicitEuler is the single-stage forward Euler integrator.
type ExplicitEuler struct{}

// Integrate implements Integrator.
func (ExplicitEuler) Integrate(b *block.Block, dt float64) {
	l := b.Layout()
	avg := b.Buffer(block.Average)
	rhs := b.Buffer(block.RightHandSide)
	for eq := range avg {
		l.ForEachInterior(func(c [3]int) {
			i := l.IndexOf(c)
			rhs[eq][i] = avg[eq][i] + dt*rhs[eq][i]
		})
	}
}

// Identity uses the conservatives as prime states.
type Identity struct{}

// ObtainPrimeStates implements PrimeStateConverter.
func (Identity) ObtainPrimeStates(b *block.Block) {
	avg := b.Buffer(block.Average)
	prime := b.Buffer(block.PrimeState)
	for i := range prime {
		if i < len(avg) {
			copy(prime[i], avg[i])
		}
	}
}

// ZeroGradient copies the closest interior value into the ghost cells.
type ZeroGradient struct{}

// FillGhosts implements Boundary.
func (ZeroGradient) FillGhosts(l block.Layout, f block.Field, dir nodeid.Direction) {
	for _, p := range l.ExtensionPairs(dir) {
		f[p.Ghost] = f[p.Source]
	}
}

// FillTags implements Boundary.
func (ZeroGradient) FillTags(l block.Layout, tags []int8, dir nodeid.Direction) {
	for _, p := range l.ExtensionPairs(dir) {
		tags[p.Ghost] = tags[p.Source]
	}
}
