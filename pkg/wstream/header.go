// Package wstream reads and writes packed weight-stream files: a fixed header
// followed by one packed word per weight tile, each word stored as
// little-endian 64-bit limbs.
package wstream

import (
	"encoding/binary"
	"errors"

	"github.com/samcharles93/vvau/internal/fold"
)

const (
	Magic = "VVW\x00"

	// CurrentMajor changes only on incompatible layout changes.
	CurrentMajor uint16 = 1
	CurrentMinor uint16 = 0

	// FlagSigned marks fields as two's complement integers.
	FlagSigned uint32 = 1 << 0

	headerSize   = 48
	payloadAlign = 64
)

var (
	ErrInvalidMagic     = errors.New("wstream: invalid magic")
	ErrUnsupportedMajor = errors.New("wstream: unsupported major version")
	ErrCorruptFile      = errors.New("wstream: corrupt file")
	ErrLayoutMismatch   = errors.New("wstream: layout mismatch")
)

// Header is the fixed file header. HeaderSize is the payload offset.
type Header struct {
	Magic      [4]byte
	Major      uint16
	Minor      uint16
	HeaderSize uint32
	PE         uint32
	SIMD       uint32
	ElemBits   uint32
	Limbs      uint32
	Flags      uint32
	Words      uint64
	FileSize   uint64
}

// Layout returns the tile packing described by the header.
func (h *Header) Layout() fold.Layout {
	return fold.Layout{PE: int(h.PE), SIMD: int(h.SIMD), Bits: int(h.ElemBits)}
}

func (h *Header) valid() bool {
	return string(h.Magic[:]) == Magic
}

func (h *Header) compatible() bool {
	return h.Major == CurrentMajor
}

func (h *Header) payloadSize() uint64 {
	return h.Words * uint64(h.Limbs) * 8
}

func encodeHeader(dst []byte, h Header) {
	copy(dst[0:4], h.Magic[:])
	le := binary.LittleEndian
	le.PutUint16(dst[4:], h.Major)
	le.PutUint16(dst[6:], h.Minor)
	le.PutUint32(dst[8:], h.HeaderSize)
	le.PutUint32(dst[12:], h.PE)
	le.PutUint32(dst[16:], h.SIMD)
	le.PutUint32(dst[20:], h.ElemBits)
	le.PutUint32(dst[24:], h.Limbs)
	le.PutUint32(dst[28:], h.Flags)
	le.PutUint64(dst[32:], h.Words)
	le.PutUint64(dst[40:], h.FileSize)
}

func decodeHeader(src []byte) (Header, bool) {
	if len(src) < headerSize {
		return Header{}, false
	}
	le := binary.LittleEndian
	var h Header
	copy(h.Magic[:], src[0:4])
	h.Major = le.Uint16(src[4:])
	h.Minor = le.Uint16(src[6:])
	h.HeaderSize = le.Uint32(src[8:])
	h.PE = le.Uint32(src[12:])
	h.SIMD = le.Uint32(src[16:])
	h.ElemBits = le.Uint32(src[20:])
	h.Limbs = le.Uint32(src[24:])
	h.Flags = le.Uint32(src[28:])
	h.Words = le.Uint64(src[32:])
	h.FileSize = le.Uint64(src[40:])
	return h, true
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
