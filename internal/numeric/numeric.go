// Package numeric holds the small fixed-width integer and float helpers shared
// by the fold engine, its activation policies and the reference model.
package numeric

import "math"

// Signed is the set of signed integer kinds a weight or activation lane can use.
type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Unsigned is the set of unsigned integer kinds a weight or activation lane can use.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Integer is any signed or unsigned integer kind.
type Integer interface {
	Signed | Unsigned
}

// Float is the set of floating point kinds.
type Float interface {
	~float32 | ~float64
}

// Number is anything an accumulator can hold.
type Number interface {
	Integer | Float
}

// Mask returns a mask with the low bits set. bits >= 64 yields all ones.
func Mask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	if bits <= 0 {
		return 0
	}
	return uint64(1)<<uint(bits) - 1
}

// SignExtend interprets the low bits of raw as a two's complement value.
func SignExtend(raw uint64, bits int) int64 {
	if bits <= 0 {
		return 0
	}
	if bits >= 64 {
		return int64(raw)
	}
	shift := uint(64 - bits)
	return int64(raw<<shift) >> shift
}

// FitsSigned reports whether v is representable as a bits-wide two's complement value.
func FitsSigned(v int64, bits int) bool {
	if bits >= 64 {
		return true
	}
	if bits <= 0 {
		return false
	}
	lo := -(int64(1) << uint(bits-1))
	hi := int64(1)<<uint(bits-1) - 1
	return v >= lo && v <= hi
}

// FitsUnsigned reports whether v is representable in bits unsigned bits.
func FitsUnsigned(v uint64, bits int) bool {
	return v&^Mask(bits) == 0
}

// SaturateInt8 clamps v to [-128, 127].
func SaturateInt8(v int64) int8 {
	switch {
	case v > math.MaxInt8:
		return math.MaxInt8
	case v < math.MinInt8:
		return math.MinInt8
	default:
		return int8(v)
	}
}

// RoundShift divides v by 2^shift rounding half up.
func RoundShift(v int64, shift uint) int64 {
	if shift == 0 {
		return v
	}
	return (v + int64(1)<<(shift-1)) >> shift
}

// Expf is exp evaluated in float64 and rounded to float32. The softmax policy
// and the reference model both go through it so their results agree bit for bit.
func Expf(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

// QuantizeProb maps a probability to int8 with 128 steps; p >= 1 saturates to 127.
func QuantizeProb(p float32) int8 {
	if p >= 1.0 {
		return math.MaxInt8
	}
	return int8(128 * p)
}
