package fold

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestPackedWordFieldsAcrossLimbs(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 5))
	for _, width := range []int{1, 3, 7, 8, 13, 31, 64} {
		const fields = 23
		w := NewPackedWord(fields * width)
		want := make([]uint64, fields)
		for i := range want {
			want[i] = rng.Uint64() & (uint64(1)<<uint(min(width, 63)) - 1)
			if width == 64 {
				want[i] = rng.Uint64()
			}
			w.SetField(i*width, width, want[i])
		}
		for i := range want {
			if got := w.Field(i*width, width); got != want[i] {
				t.Fatalf("width %d field %d: got %#x want %#x", width, i, got, want[i])
			}
		}
	}
}

func TestSetFieldDoesNotClobberNeighbours(t *testing.T) {
	t.Parallel()

	w := NewPackedWord(128)
	w[0], w[1] = ^uint64(0), ^uint64(0)
	w.SetField(60, 8, 0)
	if w[0] != 0x0fffffffffffffff {
		t.Fatalf("low limb: got %#x", w[0])
	}
	if w[1] != 0xfffffffffffffff0 {
		t.Fatalf("high limb: got %#x", w[1])
	}
}

func TestUnpackLaneZeroIsLeastSignificant(t *testing.T) {
	t.Parallel()

	l := Layout{PE: 4, SIMD: 1, Bits: 8}
	word := PackedWord{0x04_03_02_01}
	dst := NewTile[uint8](4, 1)
	if err := Unpack(l, UnsignedCodec[uint8](8), word, dst); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	for pe, want := range []uint8{1, 2, 3, 4} {
		if got := dst.Lane(pe)[0]; got != want {
			t.Fatalf("lane %d: got %d want %d", pe, got, want)
		}
	}
}

func TestSignedCodecRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 6, KernelArea: 1, SIMD: 3, PE: 6, MMV: 1}
	codec := SignedCodec[int8](5)
	l := LayoutFor(cfg, codec.Bits)
	if l.WordBits() != 90 || l.Limbs() != 2 {
		t.Fatalf("layout: bits=%d limbs=%d", l.WordBits(), l.Limbs())
	}
	tile := NewTile[int8](cfg.PE, cfg.SIMD)
	for i := range tile.Data {
		tile.Data[i] = int8(i%32) - 16
	}
	word := Pack(l, codec, tile)
	got := NewTile[int8](cfg.PE, cfg.SIMD)
	if err := Unpack(l, codec, word, got); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	for i := range tile.Data {
		if got.Data[i] != tile.Data[i] {
			t.Fatalf("element %d: got %d want %d", i, got.Data[i], tile.Data[i])
		}
	}
}

func TestFloat32CodecRoundTrip(t *testing.T) {
	t.Parallel()

	l := Layout{PE: 3, SIMD: 1, Bits: 32}
	codec := Float32Codec()
	tile := Tile[float32]{PE: 3, SIMD: 1, Data: []float32{1.5, -0.25, 3e-7}}
	got := NewTile[float32](3, 1)
	if err := Unpack(l, codec, Pack(l, codec, tile), got); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	for i := range tile.Data {
		if got.Data[i] != tile.Data[i] {
			t.Fatalf("lane %d: got %v want %v", i, got.Data[i], tile.Data[i])
		}
	}
}

func TestUnpackRejectsShortWord(t *testing.T) {
	t.Parallel()

	l := Layout{PE: 16, SIMD: 1, Bits: 8}
	err := Unpack(l, UnsignedCodec[uint8](8), PackedWord{0}, NewTile[uint8](16, 1))
	if !errors.Is(err, ErrWordWidth) {
		t.Fatalf("expected ErrWordWidth, got %v", err)
	}
}

func TestTableFromKernelsLayout(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 4, KernelArea: 2, SIMD: 1, PE: 2, MMV: 1}
	kernels := [][]int{{10, 11}, {20, 21}, {30, 31}, {40, 41}}
	table, err := TableFromKernels(cfg, kernels)
	if err != nil {
		t.Fatalf("TableFromKernels: %v", err)
	}
	// tile = nf*SF + sf, lane = channel within group
	want := [][]int{{10, 20}, {11, 21}, {30, 40}, {31, 41}}
	for tile, lanes := range want {
		for pe, v := range lanes {
			if got := table.At(tile, pe, 0); got != v {
				t.Fatalf("tile %d lane %d: got %d want %d", tile, pe, got, v)
			}
		}
	}

	if _, err := TableFromKernels(cfg, kernels[:3]); !errors.Is(err, ErrTableShape) {
		t.Fatalf("short kernels: expected ErrTableShape, got %v", err)
	}
}
