package multiresolution

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/blockforest/blockforest/sim/block"
	"github.com/blockforest/blockforest/sim/nodeid"
)

// Decision is the outcome of the wavelet analysis of one child.
type Decision int

const (
	Neutral Decision = iota
	Coarsen
	Refine
)

func (d Decision) String() string {
	switch d {
	case Neutral:
		return "neutral"
	case Coarsen:
		return "coarsen"
	case Refine:
		return "refine"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Thresholds holds the wavelet thresholds of a run.
type Thresholds struct {
	Reference       float64 // epsilon on the maximum level
	CoarsenFraction float64 // coarsen below this fraction of the level threshold
	Dim             int
	MaxLevel        int
}

// Epsilon returns the refinement threshold of a level,
// Reference * 2^(Dim*(level-MaxLevel)).
func (t Thresholds) Epsilon(level int) float64 {
	return t.Reference * math.Pow(2, float64(t.Dim*(level-t.MaxLevel)))
}

// Classify maps a detail of a child on the given level to a decision.
func (t Thresholds) Classify(detail float64, level int) Decision {
	eps := t.Epsilon(level)
	switch {
	case detail > eps:
		return Refine
	case detail < t.CoarsenFraction*eps:
		return Coarsen
	}
	return Neutral
}

const scaleFloor = 1e-12

// Detail returns the largest normalised wavelet detail of a child: for every
// equation the maximum absolute difference between the child's interior and
// its prediction from the parent, divided by the largest absolute child value.
func Detail(l block.Layout, parent, child block.FieldSet, childID nodeid.ID) float64 {
	if len(parent) != len(child) {
		panic(fmt.Sprintf("multiresolution.Detail: parent has %d equations, child %d", len(parent), len(child)))
	}
	axes := activeAxes(l)
	perEquation := make([]float64, len(child))
	diffs := make([]float64, 0, l.InteriorSize())
	values := make([]float64, 0, l.InteriorSize())
	for eq := range child {
		diffs, values = diffs[:0], values[:0]
		l.ForEachInterior(func(c [3]int) {
			u := child[eq][l.IndexOf(c)]
			predicted := predictAxes(l, parent[eq], childID, c, axes)
			diffs = append(diffs, math.Abs(u-predicted))
			values = append(values, math.Abs(u))
		})
		scale := math.Max(floats.Max(values), scaleFloor)
		perEquation[eq] = floats.Max(diffs) / scale
	}
	return floats.Max(perEquation)
}
