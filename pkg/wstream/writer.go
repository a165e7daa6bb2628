package wstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/samcharles93/vvau/internal/fold"
)

// Writer streams packed words into a weight-stream file.
//
// The header is reserved up front and patched by Finalise once the word count
// is known.
type Writer struct {
	f      *os.File
	layout fold.Layout
	flags  uint32
	words  uint64
	buf    []byte
	closed bool

	mu sync.Mutex
}

// NewWriter truncates f and reserves the header.
func NewWriter(f *os.File, layout fold.Layout, flags uint32) (*Writer, error) {
	if f == nil {
		return nil, errors.New("wstream: nil file")
	}
	if layout.PE <= 0 || layout.SIMD <= 0 || layout.Bits <= 0 || layout.Bits > 64 {
		return nil, fmt.Errorf("%w: layout %dx%dx%d", ErrLayoutMismatch, layout.PE, layout.SIMD, layout.Bits)
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := writeFull(f, make([]byte, alignUp(headerSize, payloadAlign))); err != nil {
		return nil, err
	}
	return &Writer{
		f:      f,
		layout: layout,
		flags:  flags,
		buf:    make([]byte, layout.Limbs()*8),
	}, nil
}

// Append writes one packed word.
func (w *Writer) Append(word fold.PackedWord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("wstream: writer already finalised")
	}
	limbs := w.layout.Limbs()
	if len(word) < limbs {
		return fmt.Errorf("%w: word has %d limbs, layout needs %d", ErrLayoutMismatch, len(word), limbs)
	}
	for j := range limbs {
		binary.LittleEndian.PutUint64(w.buf[j*8:], word[j])
	}
	if err := writeFull(w.f, w.buf); err != nil {
		return err
	}
	w.words++
	return nil
}

// Finalise patches the header. The writer cannot be used afterwards.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("wstream: writer already finalised")
	}
	w.closed = true

	hdrSize := alignUp(headerSize, payloadAlign)
	h := Header{
		Major:      CurrentMajor,
		Minor:      CurrentMinor,
		HeaderSize: uint32(hdrSize),
		PE:         uint32(w.layout.PE),
		SIMD:       uint32(w.layout.SIMD),
		ElemBits:   uint32(w.layout.Bits),
		Limbs:      uint32(w.layout.Limbs()),
		Flags:      w.flags,
		Words:      w.words,
	}
	copy(h.Magic[:], Magic)
	h.FileSize = uint64(hdrSize) + h.payloadSize()

	var hdr [headerSize]byte
	encodeHeader(hdr[:], h)
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	return w.f.Truncate(int64(h.FileSize))
}

// Create writes words to a new file at path.
func Create(path string, layout fold.Layout, flags uint32, words []fold.PackedWord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := NewWriter(f, layout, flags)
	if err != nil {
		return err
	}
	for _, word := range words {
		if err := w.Append(word); err != nil {
			return err
		}
	}
	return w.Finalise()
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
