package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseMachine_FullCycle(t *testing.T) {
	var entered []Phase
	m := NewPhaseMachine(func(p Phase) { entered = append(entered, p) })

	for _, p := range []Phase{HaloFilled, FluxesComputed, Integrated, JumpCorrected, Remeshed, Balanced, Idle} {
		m.Enter(p)
	}

	assert.Equal(t, Idle, m.Current())
	assert.Equal(t, []Phase{HaloFilled, FluxesComputed, Integrated, JumpCorrected, Remeshed, Balanced, Idle}, entered)
}

func TestPhaseMachine_SkippingAStagePanics(t *testing.T) {
	m := NewPhaseMachine(nil)
	m.Enter(HaloFilled)

	assert.PanicsWithValue(t,
		"sim.PhaseMachine.Enter: illegal transition halo-filled -> integrated (expected fluxes-computed)",
		func() { m.Enter(Integrated) })
	assert.Equal(t, HaloFilled, m.Current())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "jump-corrected", JumpCorrected.String())
	assert.Equal(t, "Phase(42)", Phase(42).String())
}
