package fold

// Counter tracks the fold position of an engine across its single step loop.
// It maintains tile == group*SF + sweep at all times.
type Counter struct {
	nfMax int
	sfMax int

	nf   int
	sf   int
	tile int
}

// NewCounter returns a counter positioned at the first step of a repetition.
func NewCounter(g Geometry) Counter {
	return Counter{nfMax: g.NF, sfMax: g.SF}
}

// Group is the current channel group (nf).
func (c *Counter) Group() int { return c.nf }

// Sweep is the position inside the current tile sweep (sf).
func (c *Counter) Sweep() int { return c.sf }

// Tile is the weight tile index for the current step.
func (c *Counter) Tile() int { return c.tile }

// SweepStart reports whether the accumulators must be reinitialised this step.
func (c *Counter) SweepStart() bool { return c.sf == 0 }

// Advance moves past the current step. When the step closed a tile sweep it
// returns the group that was just finished and done == true.
func (c *Counter) Advance() (group int, done bool) {
	c.tile++
	c.sf++
	if c.sf < c.sfMax {
		return c.nf, false
	}
	group = c.nf
	c.sf = 0
	c.nf++
	if c.nf == c.nfMax {
		c.nf = 0
		c.tile = 0
	}
	return group, true
}
