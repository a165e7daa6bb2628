package fold

import "fmt"

// Mode selects how weights reach the engine.
type Mode int

const (
	// ModeTable reads weights from an in-memory WeightTable by tile index.
	ModeTable Mode = iota
	// ModeStream reads one packed weight word per step from a channel.
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeTable:
		return "table"
	case ModeStream:
		return "stream"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode converts "table" or "stream" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "table", "":
		return ModeTable, nil
	case "stream":
		return ModeStream, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// Config is the fixed geometry of one engine instance.
//
// Channels output channels are folded onto PE parallel lanes. KernelArea is
// the number of kernel positions per channel (kh*kw). SIMD is the number of
// sub-elements per lane and must be 1 in table mode. MMV output pixels are
// computed side by side.
type Config struct {
	Channels   int `yaml:"channels" json:"channels"`
	KernelArea int `yaml:"kernel_area" json:"kernel_area"`
	SIMD       int `yaml:"simd" json:"simd"`
	PE         int `yaml:"pe" json:"pe"`
	MMV        int `yaml:"mmv" json:"mmv"`
}

// Geometry is the folding derived from a Config.
type Geometry struct {
	NF        int // channel groups
	SF        int // steps per tile sweep
	TotalFold int // NF*SF, steps per repetition
}

// Validate checks the parts of the configuration shared by both modes.
func (c Config) Validate() error {
	switch {
	case c.Channels <= 0:
		return fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidConfig, c.Channels)
	case c.KernelArea <= 0:
		return fmt.Errorf("%w: kernel area must be positive, got %d", ErrInvalidConfig, c.KernelArea)
	case c.SIMD <= 0:
		return fmt.Errorf("%w: simd must be positive, got %d", ErrInvalidConfig, c.SIMD)
	case c.PE <= 0:
		return fmt.Errorf("%w: pe must be positive, got %d", ErrInvalidConfig, c.PE)
	case c.MMV <= 0:
		return fmt.Errorf("%w: mmv must be positive, got %d", ErrInvalidConfig, c.MMV)
	case c.Channels%c.PE != 0:
		return fmt.Errorf("%w: channels (%d) must be a multiple of pe (%d)", ErrInvalidConfig, c.Channels, c.PE)
	}
	return nil
}

// ValidateFor applies the mode specific constraints on top of Validate.
func (c Config) ValidateFor(mode Mode) error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch mode {
	case ModeTable:
		// Table weights carry one value per lane; wider lanes have no table layout.
		if c.SIMD != 1 {
			return fmt.Errorf("%w: table mode requires simd == 1, got %d", ErrInvalidConfig, c.SIMD)
		}
	case ModeStream:
	default:
		return fmt.Errorf("%w: unknown mode %v", ErrInvalidConfig, mode)
	}
	if g := c.Geometry(mode); g.SF < 1 {
		return fmt.Errorf("%w: sweep length is %d", ErrInvalidConfig, g.SF)
	}
	return nil
}

// Geometry derives the fold counts. The caller is expected to have validated c.
func (c Config) Geometry(mode Mode) Geometry {
	nf := 0
	if c.PE > 0 {
		nf = c.Channels / c.PE
	}
	sf := c.KernelArea
	if mode == ModeStream && c.Channels > 0 {
		sf = (c.Channels * c.KernelArea) / c.Channels
	}
	return Geometry{NF: nf, SF: sf, TotalFold: nf * sf}
}

// InputLanes is the number of values in one input element.
func (c Config) InputLanes() int { return c.PE * c.MMV * c.SIMD }

// OutputLanes is the number of values in one output element.
func (c Config) OutputLanes() int { return c.PE * c.MMV }
