package fold

import (
	"fmt"

	"github.com/samcharles93/vvau/internal/numeric"
)

// Number is the accumulator constraint: anything that supports +.
type Number = numeric.Number

// Policy supplies the initial accumulator of each lane and turns a finished
// accumulation into an output value. Both methods must be pure; the engine
// calls Init at the start of every tile sweep and Activate at its end.
type Policy[Acc Number, O any] interface {
	Init(group, pe int) Acc
	Activate(group, pe int, acc Acc) O
}

// PolicyFuncs adapts a pair of functions to Policy.
type PolicyFuncs[Acc Number, O any] struct {
	InitFunc     func(group, pe int) Acc
	ActivateFunc func(group, pe int, acc Acc) O
}

func (p PolicyFuncs[Acc, O]) Init(group, pe int) Acc { return p.InitFunc(group, pe) }

func (p PolicyFuncs[Acc, O]) Activate(group, pe int, acc Acc) O {
	return p.ActivateFunc(group, pe, acc)
}

// Resource is a hint for how the multiply should be realised. It never
// changes the numeric result.
type Resource int

const (
	ResourceAuto Resource = iota
	ResourceLUT
	ResourceDSP
)

func (r Resource) String() string {
	switch r {
	case ResourceAuto:
		return "auto"
	case ResourceLUT:
		return "lut"
	case ResourceDSP:
		return "dsp"
	default:
		return fmt.Sprintf("resource(%d)", int(r))
	}
}

// ParseResource converts a resource name to a Resource.
func ParseResource(s string) (Resource, error) {
	switch s {
	case "auto", "":
		return ResourceAuto, nil
	case "lut":
		return ResourceLUT, nil
	case "dsp":
		return ResourceDSP, nil
	default:
		return 0, fmt.Errorf("%w: unknown resource %q", ErrInvalidConfig, s)
	}
}

// MulFunc multiplies one weight by one activation into the accumulator type.
type MulFunc[W, A any, Acc Number] func(w W, a A, r Resource) Acc

// Mul widens both operands to Acc and multiplies.
func Mul[W, A, Acc Number](w W, a A, _ Resource) Acc {
	return Acc(w) * Acc(a)
}

// BinaryMul treats a 1-bit weight as +1 (set) or -1 (clear).
func BinaryMul[A, Acc Number](w bool, a A, _ Resource) Acc {
	if w {
		return Acc(a)
	}
	return -Acc(a)
}
