package physics

import (
	"fmt"
	"math"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/nodeid"
)

// Profile selects and parameterises a reference initial condition.
type Profile struct {
	Kind       string  // "constant", "step" or "sine"
	Axis       int     // axis the profile varies along
	Position   float64 // step location
	Left       float64 // value below Position, or the constant value
	Right      float64 // value above Position
	Amplitude  float64 // sine amplitude around Left
	Wavelength float64 // sine wavelength
}

// NewInitialCondition builds the initial condition described by p.
func NewInitialCondition(p Profile) (InitialCondition, error) {
	if p.Axis < 0 || p.Axis > 2 {
		return nil, fmt.Errorf("profile axis must be 0, 1 or 2, got %d", p.Axis)
	}
	switch p.Kind {
	case "", "constant":
		return Constant(p.Left), nil
	case "step":
		return Step{Axis: p.Axis, Position: p.Position, Left: p.Left, Right: p.Right}, nil
	case "sine":
		if p.Wavelength <= 0 {
			return nil, fmt.Errorf("sine wavelength must be > 0, got %v", p.Wavelength)
		}
		return Sine{Axis: p.Axis, Mean: p.Left, Amplitude: p.Amplitude, Wavelength: p.Wavelength}, nil
	}
	return nil, fmt.Errorf("unknown initial profile %q (valid: constant, step, sine)", p.Kind)
}

// Constant sets every equation to the same value everywhere.
type Constant float64

// Conservatives implements InitialCondition.
func (c Constant) Conservatives(_ [3]float64, out []float64) {
	for i := range out {
		out[i] = float64(c)
	}
}

// Step is a discontinuity at Position along Axis.
type Step struct {
	Axis        int
	Position    float64
	Left, Right float64
}

// Conservatives implements InitialCondition.
func (s Step) Conservatives(x [3]float64, out []float64) {
	v := s.Left
	if x[s.Axis] >= s.Position {
		v = s.Right
	}
	for i := range out {
		out[i] = v
	}
}

// Sine is a smooth periodic wave along Axis.
type Sine struct {
	Axis       int
	Mean       float64
	Amplitude  float64
	Wavelength float64
}

// Conservatives implements InitialCondition.
func (s Sine) Conservatives(x [3]float64, out []float64) {
	v := s.Mean + s.Amplitude*math.Sin(2*math.Pi*x[s.Axis]/s.Wavelength)
	for i := range out {
		out[i] = v
	}
}

// CellCenter returns the position of a cell of node id. Root blocks have edge
// length rootLength and the domain origin is zero.
func CellCenter(dom nodeid.Domain, l block.Layout, id nodeid.ID, cell [3]int, rootLength float64) [3]float64 {
	coords := dom.Coordinates(id)
	nodeLength := rootLength / float64(uint64(1)<<uint(id.Level()))
	dx := l.CellSize(id.Level(), rootLength)
	var x [3]float64
	for axis := 0; axis < l.Dim; axis++ {
		x[axis] = float64(coords[axis])*nodeLength + (float64(cell[axis]-l.FirstInterior(axis))+0.5)*dx
	}
	return x
}

// Impose writes the initial condition into the interior of the Average
// buffer of b.
func Impose(ic InitialCondition, b *block.Block, dom nodeid.Domain, id nodeid.ID, rootLength float64) {
	l := b.Layout()
	avg := b.Buffer(block.Average)
	values := make([]float64, len(avg))
	l.ForEachInterior(func(c [3]int) {
		ic.Conservatives(CellCenter(dom, l, id, c, rootLength), values)
		i := l.IndexOf(c)
		for eq := range avg {
			avg[eq][i] = values[eq]
		}
	})
}
