package wstream

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/vvau/internal/fold"
)

// File is an opened weight-stream file.
type File struct {
	Header  *Header
	data    []byte
	mmapped bool
}

// Open maps a weight-stream file read-only and validates its structure.
// If mmap is unavailable it falls back to ReadAt-based loading.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		wf, parseErr := parse(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return wf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

// OpenReaderAt loads and validates a weight-stream file without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < headerSize || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parse(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header says %d bytes, file has %d", ErrCorruptFile, hdr.FileSize, len(data))
	}
	if hdr.HeaderSize < headerSize || uint64(hdr.HeaderSize) > hdr.FileSize {
		return nil, fmt.Errorf("%w: header size %d", ErrCorruptFile, hdr.HeaderSize)
	}
	if hdr.PE == 0 || hdr.SIMD == 0 || hdr.ElemBits == 0 || hdr.ElemBits > 64 {
		return nil, fmt.Errorf("%w: layout %dx%dx%d", ErrCorruptFile, hdr.PE, hdr.SIMD, hdr.ElemBits)
	}
	if want := uint32(hdr.Layout().Limbs()); hdr.Limbs != want {
		return nil, fmt.Errorf("%w: %d limbs per word, layout needs %d", ErrCorruptFile, hdr.Limbs, want)
	}
	payload := hdr.payloadSize()
	if hdr.Limbs != 0 && payload/(uint64(hdr.Limbs)*8) != hdr.Words {
		return nil, fmt.Errorf("%w: word count overflow", ErrCorruptFile)
	}
	if uint64(hdr.HeaderSize)+payload != hdr.FileSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d", ErrCorruptFile, hdr.FileSize-uint64(hdr.HeaderSize), payload)
	}
	return &File{Header: &hdr, data: data, mmapped: mmapped}, nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.Header = nil
	f.mmapped = false
	return err
}

// Len is the number of packed words in the file.
func (f *File) Len() int { return int(f.Header.Words) }

// Word decodes word i into a fresh PackedWord.
func (f *File) Word(i int) fold.PackedWord {
	limbs := int(f.Header.Limbs)
	off := int(f.Header.HeaderSize) + i*limbs*8
	w := make(fold.PackedWord, limbs)
	for j := range w {
		w[j] = binary.LittleEndian.Uint64(f.data[off+j*8:])
	}
	return w
}

// Words decodes every word in file order.
func (f *File) Words() []fold.PackedWord {
	out := make([]fold.PackedWord, f.Len())
	for i := range out {
		out[i] = f.Word(i)
	}
	return out
}

// Check verifies that the file holds tiles words packed for cfg with
// element width bits.
func (f *File) Check(cfg fold.Config, bits, tiles int) error {
	want := fold.LayoutFor(cfg, bits)
	if got := f.Header.Layout(); got != want {
		return fmt.Errorf("%w: file is %dx%dx%d bits, engine wants %dx%dx%d",
			ErrLayoutMismatch, got.PE, got.SIMD, got.Bits, want.PE, want.SIMD, want.Bits)
	}
	if f.Len() != tiles {
		return fmt.Errorf("%w: file has %d words, fold has %d tiles", ErrLayoutMismatch, f.Len(), tiles)
	}
	return nil
}

// Feed writes every word to ch in order, reps times over. Words are decoded
// once up front so the mapping is not touched while the engine runs.
func (f *File) Feed(ctx context.Context, ch chan<- fold.PackedWord, reps int) error {
	return fold.Feed(ctx, ch, f.Words(), reps)
}
