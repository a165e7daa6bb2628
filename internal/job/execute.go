package job

import (
	"context"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/logger"
)

// Result is the output of one executed job. Outputs[i] is the i-th output
// element in mmv-major lane order.
type Result struct {
	Name    string     `json:"name,omitempty" yaml:"name,omitempty"`
	Outputs [][]int64  `json:"outputs" yaml:"outputs"`
	Stats   fold.Stats `json:"stats" yaml:"stats"`
}

// InputElements returns the input elements of repetition rep. Seeded inputs
// draw from a generator keyed by the seed and rep, so a repetition does not
// depend on the ones before it.
func (j *Job) InputElements(rep int) []fold.Element[int64] {
	cfg := j.Config
	lanes := cfg.InputLanes()
	per := j.Geometry().TotalFold * lanes

	var data []int64
	switch n := len(j.Inputs.Data); {
	case n == per:
		data = j.Inputs.Data
	case n > 0:
		data = j.Inputs.Data[rep*per : (rep+1)*per]
	default:
		in := j.Inputs
		rng := rand.New(rand.NewPCG(in.Seed, uint64(rep)^0x9e3779b97f4a7c15))
		span := in.Max - in.Min + 1
		data = make([]int64, per)
		for i := range data {
			data[i] = in.Min + rng.Int64N(span)
		}
	}

	elems := make([]fold.Element[int64], per/lanes)
	for i := range elems {
		elems[i] = fold.ElementFrom(cfg.PE, cfg.MMV, cfg.SIMD, data[i*lanes:(i+1)*lanes])
	}
	return elems
}

// feedInputs sends every repetition's inputs to in, holding one repetition
// at a time.
func (j *Job) feedInputs(ctx context.Context, in chan<- fold.Element[int64]) error {
	if len(j.Inputs.Data) == j.Geometry().TotalFold*j.Config.InputLanes() {
		return fold.Feed(ctx, in, j.InputElements(0), j.Repetitions)
	}
	for rep := range j.Repetitions {
		if err := fold.Feed(ctx, in, j.InputElements(rep), 1); err != nil {
			return err
		}
	}
	return nil
}

// Execute validates j, builds its engine and runs the input feeder, the
// weight feeder (stream mode), the engine and the output collector
// concurrently.
func Execute(ctx context.Context, j *Job) (*Result, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("job", j.Name, "mode", j.Mode.String())

	policy, err := j.policy()
	if err != nil {
		return nil, err
	}
	res, _ := fold.ParseResource(j.Resource)
	opts := []fold.Option{fold.WithLogger(log), fold.WithResource(res)}

	g := j.Geometry()
	grp, ctx := errgroup.WithContext(ctx)

	var engine *fold.Engine[int64, int64, int64, int64]
	switch j.Mode {
	case fold.ModeStream:
		src, release, err := j.weightStream()
		if err != nil {
			return nil, err
		}
		defer release()
		weights := make(chan fold.PackedWord, g.TotalFold)
		engine, err = fold.NewStreamEngine[int64, int64, int64, int64](j.Config, weights, j.Codec(), policy, fold.Mul[int64, int64, int64], opts...)
		if err != nil {
			return nil, err
		}
		grp.Go(func() error { return src.Feed(ctx, weights, j.Repetitions) })
	default:
		table, err := j.Table()
		if err != nil {
			return nil, err
		}
		engine, err = fold.NewTableEngine[int64, int64, int64, int64](j.Config, table, policy, fold.Mul[int64, int64, int64], opts...)
		if err != nil {
			return nil, err
		}
	}

	in := make(chan fold.Element[int64], g.TotalFold)
	out := make(chan fold.Element[int64], g.NF)
	result := &Result{Name: j.Name, Outputs: make([][]int64, 0, g.NF*j.Repetitions)}

	grp.Go(func() error { return j.feedInputs(ctx, in) })
	grp.Go(func() error {
		defer close(out)
		stats, err := engine.Run(ctx, in, out, j.Repetitions)
		result.Stats = stats
		return err
	})
	grp.Go(func() error {
		for y := range out {
			result.Outputs = append(result.Outputs, y.Data)
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	log.Debug("job finished", "outputs", len(result.Outputs), "duration", result.Stats.Duration)
	return result, nil
}
