package fold

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type biasPolicy struct {
	bias func(group, pe int) int64
}

func (p biasPolicy) Init(group, pe int) int64 {
	if p.bias == nil {
		return 0
	}
	return p.bias(group, pe)
}

func (biasPolicy) Activate(_, _ int, acc int64) int64 { return acc }

func randomKernels(rng *rand.Rand, cfg Config, lo, hi int64) [][]int64 {
	kernels := make([][]int64, cfg.Channels)
	for c := range kernels {
		k := make([]int64, cfg.KernelArea*cfg.SIMD)
		for i := range k {
			k[i] = lo + rng.Int64N(hi-lo+1)
		}
		kernels[c] = k
	}
	return kernels
}

func randomInputs(rng *rand.Rand, cfg Config, n int) []Element[int64] {
	out := make([]Element[int64], n)
	for i := range out {
		e := NewElement[int64](cfg.PE, cfg.MMV, cfg.SIMD)
		for j := range e.Data {
			e.Data[j] = rng.Int64N(31) - 15
		}
		out[i] = e
	}
	return out
}

// refDepthwise is the straightforward nested-loop depthwise convolution the
// folded engine must agree with.
func refDepthwise(cfg Config, kernels [][]int64, bias func(g, pe int) int64, inputs []Element[int64], reps int) [][]int64 {
	nf, sf := cfg.Channels/cfg.PE, cfg.KernelArea
	var out [][]int64
	for r := range reps {
		for g := range nf {
			y := make([]int64, cfg.PE*cfg.MMV)
			for pe := range cfg.PE {
				for mmv := range cfg.MMV {
					var acc int64
					if bias != nil {
						acc = bias(g, pe)
					}
					for k := range sf {
						x := inputs[r*nf*sf+g*sf+k]
						for s := range cfg.SIMD {
							acc += kernels[g*cfg.PE+pe][k*cfg.SIMD+s] * x.At(pe, mmv, s)
						}
					}
					y[mmv*cfg.PE+pe] = acc
				}
			}
			out = append(out, y)
		}
	}
	return out
}

func runEngine[A, W any, Acc Number, O any](t *testing.T, e *Engine[A, W, Acc, O], inputs []Element[A], reps int) ([]Element[O], Stats) {
	t.Helper()
	in := make(chan Element[A], len(inputs))
	for _, x := range inputs {
		in <- x
	}
	close(in)
	out := make(chan Element[O], reps*e.Geometry().NF+1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := e.Run(ctx, in, out, reps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(out)
	var got []Element[O]
	for y := range out {
		got = append(got, y)
	}
	return got, stats
}

func flatten[T any](elems []Element[T]) [][]T {
	out := make([][]T, len(elems))
	for i, e := range elems {
		out[i] = e.Data
	}
	return out
}

func packedStream(t *testing.T, cfg Config, table WeightTable[int64], codec Codec[int64], reps int) <-chan PackedWord {
	t.Helper()
	g := cfg.Geometry(ModeStream)
	words := PackTable(LayoutFor(cfg, codec.Bits), codec, table, g.TotalFold)
	ch := make(chan PackedWord, reps*g.TotalFold)
	for range reps {
		for _, w := range words {
			ch <- w
		}
	}
	close(ch)
	return ch
}

func TestTableModeMatchesReference(t *testing.T) {
	t.Parallel()

	configs := []Config{
		{Channels: 8, KernelArea: 9, SIMD: 1, PE: 2, MMV: 1},
		{Channels: 12, KernelArea: 4, SIMD: 1, PE: 3, MMV: 2},
		{Channels: 6, KernelArea: 1, SIMD: 1, PE: 6, MMV: 3},
		{Channels: 1, KernelArea: 25, SIMD: 1, PE: 1, MMV: 1},
	}
	for i, cfg := range configs {
		rng := rand.New(rand.NewPCG(uint64(i), 7))
		kernels := randomKernels(rng, cfg, -8, 7)
		table, err := TableFromKernels(cfg, kernels)
		if err != nil {
			t.Fatalf("config %d: TableFromKernels: %v", i, err)
		}
		bias := func(g, pe int) int64 { return int64(g*100 + pe) }
		e, err := NewTableEngine[int64, int64, int64, int64](cfg, table, biasPolicy{bias: bias}, Mul[int64, int64, int64])
		if err != nil {
			t.Fatalf("config %d: NewTableEngine: %v", i, err)
		}

		const reps = 3
		g := e.Geometry()
		inputs := randomInputs(rng, cfg, reps*g.TotalFold)
		got, stats := runEngine(t, e, inputs, reps)

		want := refDepthwise(cfg, kernels, bias, inputs, reps)
		if diff := cmp.Diff(want, flatten(got)); diff != "" {
			t.Fatalf("config %d: output mismatch (-want +got):\n%s", i, diff)
		}
		if stats.InputReads != reps*g.TotalFold || stats.Outputs != reps*g.NF {
			t.Fatalf("config %d: counts: got reads=%d outputs=%d want %d/%d",
				i, stats.InputReads, stats.Outputs, reps*g.TotalFold, reps*g.NF)
		}
	}
}

func TestStreamModeSIMDDotProduct(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 8, KernelArea: 3, SIMD: 4, PE: 4, MMV: 2}
	rng := rand.New(rand.NewPCG(42, 42))
	kernels := randomKernels(rng, cfg, -8, 7)
	table, err := TableFromKernels(cfg, kernels)
	if err != nil {
		t.Fatalf("TableFromKernels: %v", err)
	}
	codec := SignedCodec[int64](4)

	const reps = 2
	words := packedStream(t, cfg, table, codec, reps)
	e, err := NewStreamEngine[int64, int64, int64, int64](cfg, words, codec, biasPolicy{}, Mul[int64, int64, int64])
	if err != nil {
		t.Fatalf("NewStreamEngine: %v", err)
	}
	g := e.Geometry()
	inputs := randomInputs(rng, cfg, reps*g.TotalFold)
	got, stats := runEngine(t, e, inputs, reps)

	want := refDepthwise(cfg, kernels, nil, inputs, reps)
	if diff := cmp.Diff(want, flatten(got)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if stats.WeightReads != reps*g.TotalFold {
		t.Fatalf("weight reads: got %d want %d", stats.WeightReads, reps*g.TotalFold)
	}
}

func TestTableAndStreamModesAgree(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 16, KernelArea: 9, SIMD: 1, PE: 4, MMV: 2}
	rng := rand.New(rand.NewPCG(3, 9))
	kernels := randomKernels(rng, cfg, -128, 127)
	table, err := TableFromKernels(cfg, kernels)
	if err != nil {
		t.Fatalf("TableFromKernels: %v", err)
	}
	const reps = 4
	inputs := randomInputs(rng, cfg, reps*cfg.Geometry(ModeTable).TotalFold)

	te, err := NewTableEngine[int64, int64, int64, int64](cfg, table, biasPolicy{}, Mul[int64, int64, int64])
	if err != nil {
		t.Fatalf("NewTableEngine: %v", err)
	}
	codec := SignedCodec[int64](8)
	se, err := NewStreamEngine[int64, int64, int64, int64](cfg, packedStream(t, cfg, table, codec, reps), codec, biasPolicy{}, Mul[int64, int64, int64])
	if err != nil {
		t.Fatalf("NewStreamEngine: %v", err)
	}

	fromTable, _ := runEngine(t, te, inputs, reps)
	fromStream, _ := runEngine(t, se, inputs, reps)
	if diff := cmp.Diff(flatten(fromTable), flatten(fromStream)); diff != "" {
		t.Fatalf("table and stream disagree (-table +stream):\n%s", diff)
	}
}

func TestAccumulatorResetsEachSweep(t *testing.T) {
	t.Parallel()

	// Every step adds 1*1 per lane; SF=3 so each output must be init+3 no
	// matter how many sweeps came before.
	cfg := Config{Channels: 4, KernelArea: 3, SIMD: 1, PE: 2, MMV: 1}
	table := NewTable[int64](cfg.Geometry(ModeTable).TotalFold, cfg.PE, 1)
	for i := range table.data {
		table.data[i] = 1
	}
	policy := biasPolicy{bias: func(g, pe int) int64 { return 10 }}
	e, err := NewTableEngine[int64, int64, int64, int64](cfg, table, policy, Mul[int64, int64, int64])
	if err != nil {
		t.Fatalf("NewTableEngine: %v", err)
	}

	const reps = 5
	inputs := make([]Element[int64], reps*e.Geometry().TotalFold)
	for i := range inputs {
		inputs[i] = ElementFrom(cfg.PE, cfg.MMV, 1, []int64{1, 1})
	}
	got, _ := runEngine(t, e, inputs, reps)
	for i, y := range got {
		for _, v := range y.Data {
			if v != 13 {
				t.Fatalf("output %d: got %v want all 13", i, y.Data)
			}
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 8, KernelArea: 9, SIMD: 1, PE: 4, MMV: 1}
	rng := rand.New(rand.NewPCG(11, 13))
	table := NewTable[float32](cfg.Geometry(ModeTable).TotalFold, cfg.PE, 1)
	for i := range table.data {
		table.data[i] = rng.Float32()*2 - 1
	}
	inputs := make([]Element[float32], 2*cfg.Geometry(ModeTable).TotalFold)
	for i := range inputs {
		e := NewElement[float32](cfg.PE, cfg.MMV, 1)
		for j := range e.Data {
			e.Data[j] = rng.Float32()*10 - 5
		}
		inputs[i] = e
	}
	identity := PolicyFuncs[float32, float32]{
		InitFunc:     func(int, int) float32 { return 0.25 },
		ActivateFunc: func(_, _ int, acc float32) float32 { return acc },
	}

	var runs [][][]float32
	for range 3 {
		e, err := NewTableEngine[float32, float32, float32, float32](cfg, table, identity, Mul[float32, float32, float32])
		if err != nil {
			t.Fatalf("NewTableEngine: %v", err)
		}
		got, _ := runEngine(t, e, inputs, 2)
		runs = append(runs, flatten(got))
	}
	for i := 1; i < len(runs); i++ {
		if diff := cmp.Diff(runs[0], runs[i]); diff != "" {
			t.Fatalf("run %d differs from run 0:\n%s", i, diff)
		}
	}
}

func TestSingleGroupEmitsOncePerRepetition(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 4, KernelArea: 2, SIMD: 1, PE: 4, MMV: 1}
	table := NewTable[int64](2, 4, 1)
	e, err := NewTableEngine[int64, int64, int64, int64](cfg, table, biasPolicy{}, Mul[int64, int64, int64])
	if err != nil {
		t.Fatalf("NewTableEngine: %v", err)
	}
	if g := e.Geometry(); g.NF != 1 {
		t.Fatalf("NF: got %d want 1", g.NF)
	}
	const reps = 7
	inputs := randomInputs(rand.New(rand.NewPCG(1, 1)), cfg, reps*2)
	got, _ := runEngine(t, e, inputs, reps)
	if len(got) != reps {
		t.Fatalf("outputs: got %d want %d", len(got), reps)
	}
	for _, y := range got {
		if len(y.Data) != cfg.PE {
			t.Fatalf("output lanes: got %d want %d", len(y.Data), cfg.PE)
		}
	}
}

func TestSingleStepSweepIsMultiplyActivate(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 4, KernelArea: 1, SIMD: 1, PE: 2, MMV: 1}
	table := NewTable[int64](2, 2, 1)
	table.Set(0, 0, 0, 2)
	table.Set(0, 1, 0, 3)
	table.Set(1, 0, 0, -1)
	table.Set(1, 1, 0, 5)
	policy := PolicyFuncs[int64, int64]{
		InitFunc:     func(g, pe int) int64 { return int64(g) },
		ActivateFunc: func(_, _ int, acc int64) int64 { return acc * 10 },
	}
	e, err := NewTableEngine[int64, int64, int64, int64](cfg, table, policy, Mul[int64, int64, int64])
	if err != nil {
		t.Fatalf("NewTableEngine: %v", err)
	}
	inputs := []Element[int64]{
		ElementFrom(2, 1, 1, []int64{4, 4}),
		ElementFrom(2, 1, 1, []int64{7, 1}),
	}
	got, stats := runEngine(t, e, inputs, 1)
	want := [][]int64{{80, 120}, {10 * (1 - 7), 10 * (1 + 5)}}
	if diff := cmp.Diff(want, flatten(got)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if stats.Steps != stats.Outputs {
		t.Fatalf("SF=1 must emit every step: steps=%d outputs=%d", stats.Steps, stats.Outputs)
	}
}

func TestBinaryWeightsStream(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 2, KernelArea: 2, SIMD: 2, PE: 2, MMV: 1}
	codec := BinaryCodec()
	table := NewTable[bool](2, 2, 2)
	table.Set(0, 0, 0, true)
	table.Set(0, 1, 1, true)
	table.Set(1, 0, 1, true)
	table.Set(1, 1, 0, true)
	l := LayoutFor(cfg, codec.Bits)
	words := make(chan PackedWord, 2)
	for _, w := range PackTable(l, codec, table, 2) {
		words <- w
	}
	e, err := NewStreamEngine[int32, bool, int32, int32](cfg, words, codec,
		PolicyFuncs[int32, int32]{
			InitFunc:     func(int, int) int32 { return 0 },
			ActivateFunc: func(_, _ int, acc int32) int32 { return acc },
		}, BinaryMul[int32, int32])
	if err != nil {
		t.Fatalf("NewStreamEngine: %v", err)
	}
	inputs := []Element[int32]{
		ElementFrom(2, 1, 2, []int32{1, 4, 3, 9}),
		ElementFrom(2, 1, 2, []int32{5, 6, 7, 8}),
	}
	got, _ := runEngine(t, e, inputs, 1)
	// lane 0: (+1 -4) + (-5 +6) = -2
	// lane 1: (-3 +9) + (+7 -8) = 5
	want := [][]int32{{-2, 5}}
	if diff := cmp.Diff(want, flatten(got)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 4, KernelArea: 2, SIMD: 1, PE: 2, MMV: 1}
	table := NewTable[int64](4, 2, 1)
	newEngine := func() *Engine[int64, int64, int64, int64] {
		e, err := NewTableEngine[int64, int64, int64, int64](cfg, table, biasPolicy{}, Mul[int64, int64, int64])
		if err != nil {
			t.Fatalf("NewTableEngine: %v", err)
		}
		return e
	}

	t.Run("closed input", func(t *testing.T) {
		in := make(chan Element[int64], 1)
		in <- NewElement[int64](2, 1, 1)
		close(in)
		out := make(chan Element[int64], 8)
		stats, err := newEngine().Run(context.Background(), in, out, 1)
		if !errors.Is(err, ErrInputExhausted) {
			t.Fatalf("expected ErrInputExhausted, got %v", err)
		}
		if stats.InputReads != 1 {
			t.Fatalf("input reads: got %d want 1", stats.InputReads)
		}
	})

	t.Run("cancelled while starved", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := newEngine().Run(ctx, make(chan Element[int64]), make(chan Element[int64], 8), 1)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("wrong element shape", func(t *testing.T) {
		in := make(chan Element[int64], 1)
		in <- NewElement[int64](3, 1, 1)
		_, err := newEngine().Run(context.Background(), in, make(chan Element[int64], 8), 1)
		if !errors.Is(err, ErrElementShape) {
			t.Fatalf("expected ErrElementShape, got %v", err)
		}
	})

	t.Run("weight stream closed", func(t *testing.T) {
		words := make(chan PackedWord)
		close(words)
		e, err := NewStreamEngine[int64, int64, int64, int64](cfg, words, SignedCodec[int64](8), biasPolicy{}, Mul[int64, int64, int64])
		if err != nil {
			t.Fatalf("NewStreamEngine: %v", err)
		}
		in := make(chan Element[int64], 1)
		in <- NewElement[int64](2, 1, 1)
		_, err = e.Run(context.Background(), in, make(chan Element[int64], 8), 1)
		if !errors.Is(err, ErrWeightsExhausted) {
			t.Fatalf("expected ErrWeightsExhausted, got %v", err)
		}
	})

	t.Run("zero repetitions", func(t *testing.T) {
		stats, err := newEngine().Run(context.Background(), nil, nil, 0)
		if err != nil || stats.Steps != 0 {
			t.Fatalf("expected empty run, got %+v %v", stats, err)
		}
	})
}

func TestConstructionRejectsBadConfig(t *testing.T) {
	t.Parallel()

	table := NewTable[int64](8, 2, 1)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"channels not multiple of pe", Config{Channels: 5, KernelArea: 1, SIMD: 1, PE: 2, MMV: 1}},
		{"zero kernel", Config{Channels: 4, KernelArea: 0, SIMD: 1, PE: 2, MMV: 1}},
		{"simd in table mode", Config{Channels: 4, KernelArea: 1, SIMD: 2, PE: 2, MMV: 1}},
		{"zero mmv", Config{Channels: 4, KernelArea: 1, SIMD: 1, PE: 2, MMV: 0}},
		{"table too small", Config{Channels: 4, KernelArea: 9, SIMD: 1, PE: 2, MMV: 1}},
	}
	for _, tc := range tests {
		_, err := NewTableEngine[int64, int64, int64, int64](tc.cfg, table, biasPolicy{}, Mul[int64, int64, int64])
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !errors.Is(err, ErrInvalidConfig) && !errors.Is(err, ErrTableShape) {
			t.Errorf("%s: unexpected error class: %v", tc.name, err)
		}
	}

	words := make(chan PackedWord)
	cfg := Config{Channels: 4, KernelArea: 1, SIMD: 2, PE: 2, MMV: 1}
	if _, err := NewStreamEngine[int64, int64, int64, int64](cfg, words, SignedCodec[int64](0), biasPolicy{}, Mul[int64, int64, int64]); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero-width codec: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewStreamEngine[int64, int64, int64, int64](cfg, words, SignedCodec[int64](8), nil, Mul[int64, int64, int64]); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil policy: expected ErrInvalidConfig, got %v", err)
	}
}

// raggedTable serves a correctly shaped tile 0 and a wider tile everywhere else.
type raggedTable struct{}

func (raggedTable) Len() int { return 2 }

func (raggedTable) Tile(tile int) Tile[int64] {
	if tile == 0 {
		return NewTile[int64](2, 1)
	}
	return NewTile[int64](2, 2)
}

func TestConstructionChecksEveryTile(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: 2, KernelArea: 2, SIMD: 1, PE: 2, MMV: 1}
	_, err := NewTableEngine[int64, int64, int64, int64](cfg, raggedTable{}, biasPolicy{}, Mul[int64, int64, int64])
	if !errors.Is(err, ErrTableShape) {
		t.Fatalf("expected ErrTableShape, got %v", err)
	}
}

func TestDrainReportsClosedStream(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 2)
	ch <- 1
	close(ch)
	got, err := Drain(context.Background(), ch, 3, ErrWeightsExhausted)
	if !errors.Is(err, ErrWeightsExhausted) {
		t.Fatalf("expected ErrWeightsExhausted, got %v", err)
	}
	if diff := cmp.Diff([]int{1}, got); diff != "" {
		t.Fatalf("drained values mismatch (-want +got):\n%s", diff)
	}
}
