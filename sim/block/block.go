package block

import "fmt"

// Field is one scalar quantity over all cells of a block, ghost cells included.
type Field []float64

// FieldSet is an ordered set of fields, e.g. one per conservation equation.
type FieldSet []Field

// Surface holds one face-sized array per field for each of the six faces.
// Inactive faces are empty.
type Surface [6]FieldSet

// Shape gives the number of fields per buffer category.
type Shape struct {
	Equations   int // conservative equations
	PrimeStates int // derived prime states
	Parameters  int // material parameters
}

// Validate reports an unusable shape.
func (s Shape) Validate() error {
	if s.Equations < 1 {
		return fmt.Errorf("at least one equation is required, got %d", s.Equations)
	}
	if s.PrimeStates < 0 || s.Parameters < 0 {
		return fmt.Errorf("negative field count in %+v", s)
	}
	return nil
}

// BufferKind selects one of the per-material buffers of a block.
type BufferKind int

const (
	Average BufferKind = iota
	RightHandSide
	Initial
	PrimeState
	Parameter
)

var bufferKindNames = map[BufferKind]string{
	Average:       "average",
	RightHandSide: "right-hand-side",
	Initial:       "initial",
	PrimeState:    "prime-state",
	Parameter:     "parameter",
}

func (k BufferKind) String() string {
	if name, ok := bufferKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("BufferKind(%d)", int(k))
}

// IsConservative reports whether the kind holds conservative equations.
func (k BufferKind) IsConservative() bool {
	return k == Average || k == RightHandSide || k == Initial
}

// Block is the field data of one material on one node.
type Block struct {
	layout Layout
	shape  Shape

	averages       FieldSet
	rightHandSides FieldSet
	initials       FieldSet
	primeStates    FieldSet
	parameters     FieldSet

	jumpFluxes        Surface
	jumpConservatives Surface
}

// New allocates a zeroed block.
func New(layout Layout, shape Shape) *Block {
	b := &Block{
		layout:         layout,
		shape:          shape,
		averages:       newFieldSet(shape.Equations, layout.Size()),
		rightHandSides: newFieldSet(shape.Equations, layout.Size()),
		initials:       newFieldSet(shape.Equations, layout.Size()),
		primeStates:    newFieldSet(shape.PrimeStates, layout.Size()),
		parameters:     newFieldSet(shape.Parameters, layout.Size()),
	}
	for f := 0; f < 2*layout.Dim; f++ {
		b.jumpFluxes[f] = newFieldSet(shape.Equations, layout.FaceCells())
		b.jumpConservatives[f] = newFieldSet(shape.Equations, layout.FaceCells())
	}
	return b
}

func newFieldSet(n, size int) FieldSet {
	set := make(FieldSet, n)
	for i := range set {
		set[i] = make(Field, size)
	}
	return set
}

// Layout returns the cell layout of the block.
func (b *Block) Layout() Layout { return b.layout }

// Shape returns the field counts of the block.
func (b *Block) Shape() Shape { return b.shape }

// Buffer returns the field set of the given kind. Unknown kinds panic.
func (b *Block) Buffer(kind BufferKind) FieldSet {
	switch kind {
	case Average:
		return b.averages
	case RightHandSide:
		return b.rightHandSides
	case Initial:
		return b.initials
	case PrimeState:
		return b.primeStates
	case Parameter:
		return b.parameters
	}
	panic(fmt.Sprintf("block: unknown buffer kind %d", int(kind)))
}

// SetBuffer copies values into the buffer of the given kind. The field set
// must match the block's shape exactly.
func (b *Block) SetBuffer(kind BufferKind, values FieldSet) {
	dst := b.Buffer(kind)
	if len(values) != len(dst) {
		panic(fmt.Sprintf("block: %v buffer has %d fields, got %d", kind, len(dst), len(values)))
	}
	for i := range dst {
		if len(values[i]) != len(dst[i]) {
			panic(fmt.Sprintf("block: %v field %d has %d cells, got %d", kind, i, len(dst[i]), len(values[i])))
		}
		copy(dst[i], values[i])
	}
}

// JumpFluxes returns the accumulated face fluxes per face.
func (b *Block) JumpFluxes() *Surface { return &b.jumpFluxes }

// JumpConservatives returns the time-integrated face fluxes per face.
func (b *Block) JumpConservatives() *Surface { return &b.jumpConservatives }

// SwapAverageAndRightHandSide exchanges the two buffers after an integration
// stage so that the freshly integrated state becomes the average.
func (b *Block) SwapAverageAndRightHandSide() {
	b.averages, b.rightHandSides = b.rightHandSides, b.averages
}

// Reset zeroes every field of the surface.
func (s *Surface) Reset() {
	for f := range s {
		for _, field := range s[f] {
			clear(field)
		}
	}
}

// Clone returns a deep copy of the field set.
func (fs FieldSet) Clone() FieldSet {
	out := make(FieldSet, len(fs))
	for i, f := range fs {
		out[i] = append(Field(nil), f...)
	}
	return out
}

// InterfaceBlock describes the interface on a multi-material leaf.
type InterfaceBlock struct {
	Levelset       Field
	VolumeFraction Field
	Velocity       Field
}

// NewInterfaceBlock allocates a zeroed interface description.
func NewInterfaceBlock(layout Layout) *InterfaceBlock {
	return &InterfaceBlock{
		Levelset:       make(Field, layout.Size()),
		VolumeFraction: make(Field, layout.Size()),
		Velocity:       make(Field, layout.Size()),
	}
}

// Fields returns the interface buffers in fixed order.
func (ib *InterfaceBlock) Fields() FieldSet {
	return FieldSet{ib.Levelset, ib.VolumeFraction, ib.Velocity}
}
