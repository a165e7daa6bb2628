// Package fold implements the folded vector-vector multiply-accumulate-activate
// engine used for depthwise convolution.
//
// Channels are folded onto PE parallel lanes and the kernel window onto SF
// sequential steps. Every step reads one input element and one weight tile,
// multiply-accumulates PE x MMV lanes, and every SF steps the finished lanes
// are passed through an activation Policy and written as one output element.
//
// An Engine is a single-owner object: its accumulator bank is private and a
// Run holds it for the whole batch. Independent images should use independent
// engines.
package fold

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/vvau/internal/logger"
)

// Stats describes one completed Run.
type Stats struct {
	Mode        Mode          `json:"mode"`
	Repetitions int           `json:"repetitions"`
	Steps       int           `json:"steps"`
	InputReads  int           `json:"input_reads"`
	WeightReads int           `json:"weight_reads"`
	Outputs     int           `json:"outputs"`
	Duration    time.Duration `json:"duration_ns"`
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	resource Resource
	log      logger.Logger
}

// WithResource sets the hint passed to the multiply function.
func WithResource(r Resource) Option {
	return func(o *options) { o.resource = r }
}

// WithLogger sets the logger used for run tracing.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

type weightSource[W any] interface {
	fetch(ctx context.Context, tile int) (Tile[W], error)
}

type tableSource[W any] struct {
	table WeightTable[W]
}

func (s tableSource[W]) fetch(_ context.Context, tile int) (Tile[W], error) {
	return s.table.Tile(tile), nil
}

type streamSource[W any] struct {
	ch     <-chan PackedWord
	layout Layout
	codec  Codec[W]
	buf    Tile[W]
}

func (s *streamSource[W]) fetch(ctx context.Context, _ int) (Tile[W], error) {
	word, err := recv(ctx, s.ch, ErrWeightsExhausted)
	if err != nil {
		return Tile[W]{}, err
	}
	if err := Unpack(s.layout, s.codec, word, s.buf); err != nil {
		return Tile[W]{}, err
	}
	return s.buf, nil
}

// Engine is a folded MAC-activate unit. A is the activation lane type, W the
// weight type, Acc the accumulator and O the output lane type.
type Engine[A, W any, Acc Number, O any] struct {
	mu sync.Mutex

	cfg     Config
	mode    Mode
	geo     Geometry
	policy  Policy[Acc, O]
	mul     MulFunc[W, A, Acc]
	weights weightSource[W]
	opts    options

	accu [][]Acc // [MMV][PE]
}

// NewTableEngine builds an engine that looks weights up in table by tile index.
// cfg.SIMD must be 1 and table must cover every tile of the fold.
func NewTableEngine[A, W any, Acc Number, O any](cfg Config, table WeightTable[W], policy Policy[Acc, O], mul MulFunc[W, A, Acc], opts ...Option) (*Engine[A, W, Acc, O], error) {
	if err := cfg.ValidateFor(ModeTable); err != nil {
		return nil, err
	}
	g := cfg.Geometry(ModeTable)
	if err := checkTable(cfg, g, table); err != nil {
		return nil, err
	}
	return newEngine(cfg, ModeTable, tableSource[W]{table: table}, policy, mul, opts)
}

// NewStreamEngine builds an engine that consumes one packed word from weights per
// step and unpacks it with codec.
func NewStreamEngine[A, W any, Acc Number, O any](cfg Config, weights <-chan PackedWord, codec Codec[W], policy Policy[Acc, O], mul MulFunc[W, A, Acc], opts ...Option) (*Engine[A, W, Acc, O], error) {
	if err := cfg.ValidateFor(ModeStream); err != nil {
		return nil, err
	}
	if err := codec.validate(); err != nil {
		return nil, err
	}
	if weights == nil {
		return nil, fmt.Errorf("%w: nil weight stream", ErrInvalidConfig)
	}
	src := &streamSource[W]{
		ch:     weights,
		layout: LayoutFor(cfg, codec.Bits),
		codec:  codec,
		buf:    NewTile[W](cfg.PE, cfg.SIMD),
	}
	return newEngine(cfg, ModeStream, src, policy, mul, opts)
}

func newEngine[A, W any, Acc Number, O any](cfg Config, mode Mode, src weightSource[W], policy Policy[Acc, O], mul MulFunc[W, A, Acc], opts []Option) (*Engine[A, W, Acc, O], error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: nil activation policy", ErrInvalidConfig)
	}
	if mul == nil {
		return nil, fmt.Errorf("%w: nil multiply function", ErrInvalidConfig)
	}
	o := options{resource: ResourceAuto, log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	accu := make([][]Acc, cfg.MMV)
	for i := range accu {
		accu[i] = make([]Acc, cfg.PE)
	}
	return &Engine[A, W, Acc, O]{
		cfg:     cfg,
		mode:    mode,
		geo:     cfg.Geometry(mode),
		policy:  policy,
		mul:     mul,
		weights: src,
		opts:    o,
		accu:    accu,
	}, nil
}

// Config returns the engine geometry.
func (e *Engine[A, W, Acc, O]) Config() Config { return e.cfg }

// Mode reports how the engine receives weights.
func (e *Engine[A, W, Acc, O]) Mode() Mode { return e.mode }

// Geometry returns the derived fold counts.
func (e *Engine[A, W, Acc, O]) Geometry() Geometry { return e.geo }

// Run processes reps repetitions: it reads exactly reps*TotalFold input
// elements (and, in stream mode, as many packed words) and writes exactly
// reps*NF output elements.
//
// Under-supplied streams block until ctx is done. A closed input or weight
// channel ends the run with ErrInputExhausted or ErrWeightsExhausted. Run
// never closes out.
func (e *Engine[A, W, Acc, O]) Run(ctx context.Context, in <-chan Element[A], out chan<- Element[O], reps int) (Stats, error) {
	if reps < 0 {
		return Stats{}, fmt.Errorf("%w: negative repetitions %d", ErrInvalidConfig, reps)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, g := e.cfg, e.geo
	log := e.opts.log.With("mode", e.mode.String(), "nf", g.NF, "sf", g.SF, "reps", reps)
	log.Debug("fold run start", "channels", cfg.Channels, "pe", cfg.PE, "simd", cfg.SIMD, "mmv", cfg.MMV)

	start := time.Now()
	stats := Stats{Mode: e.mode, Repetitions: reps}
	ctr := NewCounter(g)
	total := reps * g.TotalFold

	for i := 0; i < total; i++ {
		if ctr.SweepStart() {
			e.initAccumulators(ctr.Group())
		}

		x, err := recv(ctx, in, ErrInputExhausted)
		if err != nil {
			return e.fail(stats, start, i, err)
		}
		stats.InputReads++
		if !x.hasShape(cfg.PE, cfg.MMV, cfg.SIMD) {
			return e.fail(stats, start, i, fmt.Errorf("%w: got %dx%dx%d (%d values), want %dx%dx%d",
				ErrElementShape, x.PE, x.MMV, x.SIMD, len(x.Data), cfg.PE, cfg.MMV, cfg.SIMD))
		}

		w, err := e.weights.fetch(ctx, ctr.Tile())
		if err != nil {
			return e.fail(stats, start, i, err)
		}
		stats.WeightReads++

		e.accumulate(w, x)
		stats.Steps++

		group, done := ctr.Advance()
		if !done {
			continue
		}
		if err := send(ctx, out, e.activate(group)); err != nil {
			return e.fail(stats, start, i, err)
		}
		stats.Outputs++
	}

	stats.Duration = time.Since(start)
	log.Debug("fold run done", "steps", stats.Steps, "outputs", stats.Outputs, "duration", stats.Duration)
	return stats, nil
}

func (e *Engine[A, W, Acc, O]) fail(stats Stats, start time.Time, step int, err error) (Stats, error) {
	stats.Duration = time.Since(start)
	e.opts.log.Warn("fold run aborted", "step", step, "error", err)
	return stats, fmt.Errorf("step %d: %w", step, err)
}

func (e *Engine[A, W, Acc, O]) initAccumulators(group int) {
	for pe := range e.cfg.PE {
		v := e.policy.Init(group, pe)
		for mmv := range e.cfg.MMV {
			e.accu[mmv][pe] = v
		}
	}
}

// accumulate adds every lane's product for one step. Lanes are visited in a
// fixed pe, mmv, simd order so float accumulators are reproducible.
func (e *Engine[A, W, Acc, O]) accumulate(w Tile[W], x Element[A]) {
	r := e.opts.resource
	for pe := range e.cfg.PE {
		wl := w.Lane(pe)
		for mmv := range e.cfg.MMV {
			al := x.Lane(pe, mmv)
			acc := e.accu[mmv][pe]
			for s := range wl {
				acc += e.mul(wl[s], al[s], r)
			}
			e.accu[mmv][pe] = acc
		}
	}
}

func (e *Engine[A, W, Acc, O]) activate(group int) Element[O] {
	y := NewElement[O](e.cfg.PE, e.cfg.MMV, 1)
	for pe := range e.cfg.PE {
		for mmv := range e.cfg.MMV {
			y.Set(pe, mmv, 0, e.policy.Activate(group, pe, e.accu[mmv][pe]))
		}
	}
	return y
}
