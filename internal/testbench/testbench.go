package testbench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/vvau/internal/activation"
	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/logger"
)

var ErrInvalidScenario = errors.New("testbench: invalid scenario")

// Upper bounds on a single scenario.
const (
	MaxChannels = 1 << 16
	MaxRounds   = 1 << 20
)

// Scenario is one softmax-quantisation run: a fixed random vector of Channels
// values in [Min, Max] is streamed Rounds times through a unit-weight engine
// with SF == 1 and a calibrated softmax policy.
type Scenario struct {
	Channels int       `json:"channels" yaml:"channels"`
	PE       int       `json:"pe" yaml:"pe"`
	Rounds   int       `json:"rounds" yaml:"rounds"`
	Min      int       `json:"min" yaml:"min"`
	Max      int       `json:"max" yaml:"max"`
	Seed     uint64    `json:"seed" yaml:"seed"`
	Mode     fold.Mode `json:"mode" yaml:"mode"`
}

// DefaultScenario is 128 channels on 4 lanes, five rounds of values in [1, 5].
func DefaultScenario() Scenario {
	return Scenario{Channels: 128, PE: 4, Rounds: 5, Min: 1, Max: 5, Seed: 1, Mode: fold.ModeTable}
}

func (s Scenario) config() fold.Config {
	return fold.Config{Channels: s.Channels, KernelArea: 1, SIMD: 1, PE: s.PE, MMV: 1}
}

// Validate checks the scenario before any engine is built.
func (s Scenario) Validate() error {
	if s.Rounds <= 0 || s.Rounds > MaxRounds {
		return fmt.Errorf("%w: rounds must be in [1, %d], got %d", ErrInvalidScenario, MaxRounds, s.Rounds)
	}
	if s.Channels > MaxChannels {
		return fmt.Errorf("%w: channels %d exceed %d", ErrInvalidScenario, s.Channels, MaxChannels)
	}
	if s.Min > s.Max {
		return fmt.Errorf("%w: min %d > max %d", ErrInvalidScenario, s.Min, s.Max)
	}
	if uint(s.Max)-uint(s.Min) >= math.MaxInt {
		return fmt.Errorf("%w: range [%d, %d] is too wide", ErrInvalidScenario, s.Min, s.Max)
	}
	return s.config().ValidateFor(s.Mode)
}

// Mismatch is one output lane that differs from the reference.
type Mismatch struct {
	Output  int  `json:"output"`
	Channel int  `json:"channel"`
	Got     int8 `json:"got"`
	Want    int8 `json:"want"`
}

// Report summarises a scenario run.
type Report struct {
	Scenario   Scenario   `json:"scenario"`
	Examined   int        `json:"examined"`
	Expected   int        `json:"expected"`
	Mismatches []Mismatch `json:"mismatches"`
	Stats      fold.Stats `json:"stats"`
}

// OK reports zero mismatches and the expected number of output values.
func (r Report) OK() bool {
	return len(r.Mismatches) == 0 && r.Examined == r.Expected
}

// RunSoftmax executes the scenario. The producer, the engine and the checker
// run as separate goroutines connected by channels.
func RunSoftmax(ctx context.Context, sc Scenario) (Report, error) {
	if err := sc.Validate(); err != nil {
		return Report{}, err
	}
	log := logger.FromContext(ctx).With("channels", sc.Channels, "pe", sc.PE, "mode", sc.Mode.String())

	rng := rand.New(rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15))
	vec := RandomVector(rng, sc.Channels, sc.Min, sc.Max)
	ref := toFloat32(vec)

	policy, err := activation.CalibrateSoftmax(ref)
	if err != nil {
		return Report{}, err
	}

	cfg := sc.config()
	g := cfg.Geometry(sc.Mode)
	table := fold.NewTable[float32](g.TotalFold, cfg.PE, 1)
	for tile := range g.TotalFold {
		for pe := range cfg.PE {
			table.Set(tile, pe, 0, 1)
		}
	}

	grp, ctx := errgroup.WithContext(ctx)
	var weights chan fold.PackedWord

	var engine *fold.Engine[float32, float32, float32, int8]
	opts := []fold.Option{fold.WithLogger(log)}
	switch sc.Mode {
	case fold.ModeStream:
		codec := fold.Float32Codec()
		words := fold.PackTable(fold.LayoutFor(cfg, codec.Bits), codec, table, g.TotalFold)
		weights = make(chan fold.PackedWord, g.TotalFold)
		engine, err = fold.NewStreamEngine[float32, float32, float32, int8](cfg, weights, codec, policy, fold.Mul[float32, float32, float32], opts...)
		if err == nil {
			grp.Go(func() error { return fold.Feed(ctx, weights, words, sc.Rounds) })
		}
	default:
		engine, err = fold.NewTableEngine[float32, float32, float32, int8](cfg, table, policy, fold.Mul[float32, float32, float32], opts...)
	}
	if err != nil {
		return Report{}, err
	}

	inputs := make([]fold.Element[float32], g.TotalFold)
	for i := range inputs {
		inputs[i] = fold.ElementFrom(cfg.PE, 1, 1, ref[i*cfg.PE:(i+1)*cfg.PE])
	}

	in := make(chan fold.Element[float32], g.TotalFold)
	out := make(chan fold.Element[int8], g.NF)
	report := Report{Scenario: sc, Expected: sc.Rounds * sc.Channels}

	grp.Go(func() error { return fold.Feed(ctx, in, inputs, sc.Rounds) })
	grp.Go(func() error {
		defer close(out)
		stats, err := engine.Run(ctx, in, out, sc.Rounds)
		report.Stats = stats
		return err
	})
	grp.Go(func() error {
		var want []int8
		n := 0
		for y := range out {
			group := n % g.NF
			if group == 0 {
				// new repetition: recompute the reference from the float vector
				want = RefSoftmax(ref)
			}
			for pe, got := range y.Data {
				ch := group*cfg.PE + pe
				if got != want[ch] {
					report.Mismatches = append(report.Mismatches, Mismatch{Output: report.Examined, Channel: ch, Got: got, Want: want[ch]})
				}
				report.Examined++
			}
			n++
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		return report, err
	}

	if report.OK() {
		log.Info("testbench passed", "examined", report.Examined)
	} else {
		log.Warn("testbench failed", "examined", report.Examined, "expected", report.Expected, "mismatches", len(report.Mismatches))
	}
	return report, nil
}

// RunBatch runs independent scenarios concurrently, at most workers at a time.
// Every scenario gets its own engine.
func RunBatch(ctx context.Context, scenarios []Scenario, workers int) ([]Report, error) {
	reports := make([]Report, len(scenarios))
	grp, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		grp.SetLimit(workers)
	}
	for i, sc := range scenarios {
		grp.Go(func() error {
			r, err := RunSoftmax(ctx, sc)
			if err != nil {
				return fmt.Errorf("scenario %d: %w", i, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
