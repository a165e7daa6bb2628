package fold

import (
	"fmt"
	"math"

	"github.com/samcharles93/vvau/internal/numeric"
)

// PackedWord is a wide unsigned integer stored as little-endian 64-bit limbs:
// bit b lives in limb b/64 at position b%64.
type PackedWord []uint64

// NewPackedWord allocates a zero word able to hold bits bits.
func NewPackedWord(bits int) PackedWord {
	return make(PackedWord, limbsFor(bits))
}

func limbsFor(bits int) int {
	return (bits + 63) / 64
}

// Field extracts width bits starting at bit lo. width must be in [1, 64].
func (w PackedWord) Field(lo, width int) uint64 {
	idx, off := lo/64, uint(lo%64)
	v := w[idx] >> off
	if off != 0 && int(off)+width > 64 && idx+1 < len(w) {
		v |= w[idx+1] << (64 - off)
	}
	return v & numeric.Mask(width)
}

// SetField stores the low width bits of v starting at bit lo.
func (w PackedWord) SetField(lo, width int, v uint64) {
	mask := numeric.Mask(width)
	v &= mask
	idx, off := lo/64, uint(lo%64)
	w[idx] = w[idx]&^(mask<<off) | v<<off
	if int(off)+width > 64 {
		spill := 64 - off
		w[idx+1] = w[idx+1]&^(mask>>spill) | v>>spill
	}
}

// Codec converts a weight to and from its Bits-wide field.
type Codec[W any] struct {
	Bits   int
	Encode func(W) uint64
	Decode func(uint64) W
}

// SignedCodec stores weights as two's complement fields.
func SignedCodec[W numeric.Signed](bits int) Codec[W] {
	return Codec[W]{
		Bits:   bits,
		Encode: func(v W) uint64 { return uint64(int64(v)) & numeric.Mask(bits) },
		Decode: func(raw uint64) W { return W(numeric.SignExtend(raw, bits)) },
	}
}

// UnsignedCodec stores weights as plain unsigned fields.
func UnsignedCodec[W numeric.Unsigned](bits int) Codec[W] {
	return Codec[W]{
		Bits:   bits,
		Encode: func(v W) uint64 { return uint64(v) & numeric.Mask(bits) },
		Decode: func(raw uint64) W { return W(raw) },
	}
}

// Float32Codec stores IEEE-754 single precision bit patterns.
func Float32Codec() Codec[float32] {
	return Codec[float32]{
		Bits:   32,
		Encode: func(v float32) uint64 { return uint64(math.Float32bits(v)) },
		Decode: func(raw uint64) float32 { return math.Float32frombits(uint32(raw)) },
	}
}

// BinaryCodec stores one-bit weights; pair it with BinaryMul.
func BinaryCodec() Codec[bool] {
	return Codec[bool]{
		Bits: 1,
		Encode: func(v bool) uint64 {
			if v {
				return 1
			}
			return 0
		},
		Decode: func(raw uint64) bool { return raw&1 != 0 },
	}
}

func (c Codec[W]) validate() error {
	if c.Bits < 1 || c.Bits > 64 {
		return fmt.Errorf("%w: weight width must be in [1, 64], got %d", ErrInvalidConfig, c.Bits)
	}
	if c.Encode == nil || c.Decode == nil {
		return fmt.Errorf("%w: codec is missing encode or decode", ErrInvalidConfig)
	}
	return nil
}

// Layout describes how one tile is packed into a word. Lane pe occupies bits
// [pe*SIMD*Bits, (pe+1)*SIMD*Bits), lane 0 in the least significant field.
type Layout struct {
	PE   int
	SIMD int
	Bits int
}

// LayoutFor returns the packed layout for cfg and element width bits.
func LayoutFor(cfg Config, bits int) Layout {
	return Layout{PE: cfg.PE, SIMD: cfg.SIMD, Bits: bits}
}

// WordBits is the total payload width.
func (l Layout) WordBits() int { return l.PE * l.SIMD * l.Bits }

// Limbs is the number of uint64 limbs in one word.
func (l Layout) Limbs() int { return limbsFor(l.WordBits()) }

// Pack encodes a tile into a fresh word.
func Pack[W any](l Layout, c Codec[W], t Tile[W]) PackedWord {
	word := NewPackedWord(l.WordBits())
	for pe := range l.PE {
		lane := t.Lane(pe)
		base := pe * l.SIMD * l.Bits
		for s := range l.SIMD {
			word.SetField(base+s*l.Bits, l.Bits, c.Encode(lane[s]))
		}
	}
	return word
}

// Unpack decodes word into dst, which must be a PE x SIMD tile.
func Unpack[W any](l Layout, c Codec[W], word PackedWord, dst Tile[W]) error {
	if len(word) < l.Limbs() {
		return fmt.Errorf("%w: %d limbs, want %d", ErrWordWidth, len(word), l.Limbs())
	}
	for pe := range l.PE {
		lane := dst.Lane(pe)
		base := pe * l.SIMD * l.Bits
		for s := range l.SIMD {
			lane[s] = c.Decode(word.Field(base+s*l.Bits, l.Bits))
		}
	}
	return nil
}

// PackTable packs the first n tiles of table in tile order.
func PackTable[W any](l Layout, c Codec[W], table WeightTable[W], n int) []PackedWord {
	words := make([]PackedWord, n)
	for i := range n {
		words[i] = Pack(l, c, table.Tile(i))
	}
	return words
}
