package sim

import "fmt"

// Phase is one stage of a micro step.
type Phase int

const (
	Idle Phase = iota
	HaloFilled
	FluxesComputed
	Integrated
	JumpCorrected
	Remeshed
	Balanced
)

var phaseNames = map[Phase]string{
	Idle:           "idle",
	HaloFilled:     "halo-filled",
	FluxesComputed: "fluxes-computed",
	Integrated:     "integrated",
	JumpCorrected:  "jump-corrected",
	Remeshed:       "remeshed",
	Balanced:       "balanced",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// PhaseMachine enforces the order of the stages inside a micro step. Every
// stage may only follow its predecessor; Balanced returns to Idle.
type PhaseMachine struct {
	current Phase
	onEnter func(Phase)
}

// NewPhaseMachine returns a machine in Idle. onEnter, if non-nil, is called
// after every transition.
func NewPhaseMachine(onEnter func(Phase)) *PhaseMachine {
	return &PhaseMachine{current: Idle, onEnter: onEnter}
}

// Current returns the current phase.
func (m *PhaseMachine) Current() Phase { return m.current }

// next returns the only legal successor of p.
func next(p Phase) Phase {
	if p == Balanced {
		return Idle
	}
	return p + 1
}

// Enter moves to p. Any transition other than to the successor of the
// current phase is an ordering bug and panics.
func (m *PhaseMachine) Enter(p Phase) {
	if want := next(m.current); p != want {
		panic(fmt.Sprintf("sim.PhaseMachine.Enter: illegal transition %v -> %v (expected %v)", m.current, p, want))
	}
	m.current = p
	if m.onEnter != nil {
		m.onEnter(p)
	}
}
