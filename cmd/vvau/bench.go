package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"

	"github.com/samcharles93/vvau/internal/activation"
	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/logger"
)

type benchParams struct {
	cfg     fold.Config
	mode    fold.Mode
	reps    int
	workers int
	seed    uint64
}

type benchResult struct {
	Workers int
	Steps   int
	Outputs int
	MACs    int
	Elapsed time.Duration
}

func (r benchResult) StepsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Steps) / r.Elapsed.Seconds()
}

func benchCmd() *cli.Command {
	var (
		channels int64
		kernel   int64
		pe       int64
		simd     int64
		mmv      int64
		reps     int64
		workers  int64
		seed     int64
		mode     string
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure engine throughput with int8 weights and inputs",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "channels", Usage: "channels", Value: 64, Destination: &channels},
			&cli.Int64Flag{Name: "kernel", Usage: "kernel positions per channel (kh*kw)", Value: 9, Destination: &kernel},
			&cli.Int64Flag{Name: "pe", Usage: "parallel lanes", Value: 8, Destination: &pe},
			&cli.Int64Flag{Name: "simd", Usage: "sub-elements per lane (stream mode)", Value: 1, Destination: &simd},
			&cli.Int64Flag{Name: "mmv", Usage: "output pixels per step", Value: 1, Destination: &mmv},
			&cli.Int64Flag{Name: "reps", Usage: "repetitions per worker", Value: 1000, Destination: &reps},
			&cli.Int64Flag{Name: "workers", Usage: "independent engines run concurrently", Value: int64(runtime.NumCPU()), Destination: &workers},
			&cli.Int64Flag{Name: "seed", Usage: "seed for weights and inputs", Value: 1, Destination: &seed},
			modeFlag(&mode),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyVerifyConfig(cmd, fileConfig, &reps, &seed, &workers)

			m, err := parseModeFlag(mode)
			if err != nil {
				return err
			}
			p := benchParams{
				cfg: fold.Config{
					Channels:   int(channels),
					KernelArea: int(kernel),
					SIMD:       int(simd),
					PE:         int(pe),
					MMV:        int(mmv),
				},
				mode:    m,
				reps:    int(reps),
				workers: int(workers),
				seed:    uint64(seed),
			}

			fmt.Fprintf(os.Stdout, "cpu: %s/%s features=%s\n", runtime.GOOS, runtime.GOARCH, strings.Join(cpuFeatures(), ","))
			log.Info("starting benchmark", "mode", m.String(), "workers", p.workers, "reps", p.reps)

			res, err := runBench(ctx, p)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: bench: %v", err), 1)
			}
			fmt.Fprintf(os.Stdout, "workers=%d steps=%d outputs=%d elapsed=%s\n", res.Workers, res.Steps, res.Outputs, res.Elapsed.Round(time.Microsecond))
			fmt.Fprintf(os.Stdout, "steps/s=%.0f MAC/s=%.0f\n", res.StepsPerSecond(), float64(res.MACs)/res.Elapsed.Seconds())
			return nil
		},
	}
}

func cpuFeatures() []string {
	var out []string
	add := func(name string, ok bool) {
		if ok {
			out = append(out, name)
		}
	}
	add("sse4.1", cpu.X86.HasSSE41)
	add("avx2", cpu.X86.HasAVX2)
	add("fma", cpu.X86.HasFMA)
	add("avx512f", cpu.X86.HasAVX512F)
	add("avx512vnni", cpu.X86.HasAVX512VNNI)
	add("asimd", cpu.ARM64.HasASIMD)
	add("asimddp", cpu.ARM64.HasASIMDDP)
	add("sve", cpu.ARM64.HasSVE)
	if len(out) == 0 {
		out = append(out, "none")
	}
	return out
}

// runBench drives p.workers independent engines over shared random weights
// and inputs.
func runBench(ctx context.Context, p benchParams) (benchResult, error) {
	if err := p.cfg.ValidateFor(p.mode); err != nil {
		return benchResult{}, err
	}
	if p.reps < 1 || p.workers < 1 {
		return benchResult{}, fmt.Errorf("%w: reps and workers must be positive", fold.ErrInvalidConfig)
	}
	g := p.cfg.Geometry(p.mode)
	rng := rand.New(rand.NewPCG(p.seed, p.seed+1))

	table := fold.NewTable[int8](g.TotalFold, p.cfg.PE, p.cfg.SIMD)
	for tile := range g.TotalFold {
		for pe := range p.cfg.PE {
			for s := range p.cfg.SIMD {
				table.Set(tile, pe, s, int8(rng.IntN(16)-8))
			}
		}
	}
	codec := fold.SignedCodec[int8](8)
	words := fold.PackTable(fold.LayoutFor(p.cfg, codec.Bits), codec, table, g.TotalFold)

	inputs := make([]fold.Element[int8], g.TotalFold)
	for i := range inputs {
		x := fold.NewElement[int8](p.cfg.PE, p.cfg.MMV, p.cfg.SIMD)
		for k := range x.Data {
			x.Data[k] = int8(rng.IntN(256) - 128)
		}
		inputs[i] = x
	}

	stats := make([]fold.Stats, p.workers)
	start := time.Now()
	grp, ctx := errgroup.WithContext(ctx)
	for w := range p.workers {
		grp.Go(func() error {
			st, err := benchWorker(ctx, p, table, words, inputs)
			stats[w] = st
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		return benchResult{}, err
	}

	res := benchResult{Workers: p.workers, Elapsed: time.Since(start)}
	for _, st := range stats {
		res.Steps += st.Steps
		res.Outputs += st.Outputs
	}
	res.MACs = res.Steps * p.cfg.PE * p.cfg.MMV * p.cfg.SIMD
	return res, nil
}

func benchWorker(ctx context.Context, p benchParams, table *fold.Table[int8], words []fold.PackedWord, inputs []fold.Element[int8]) (fold.Stats, error) {
	g := p.cfg.Geometry(p.mode)
	policy := activation.Identity[int32]{}
	mul := fold.Mul[int8, int8, int32]

	grp, ctx := errgroup.WithContext(ctx)
	var (
		engine *fold.Engine[int8, int8, int32, int32]
		err    error
	)
	switch p.mode {
	case fold.ModeStream:
		weights := make(chan fold.PackedWord, g.TotalFold)
		engine, err = fold.NewStreamEngine[int8, int8, int32, int32](p.cfg, weights, fold.SignedCodec[int8](8), policy, mul)
		if err != nil {
			return fold.Stats{}, err
		}
		grp.Go(func() error { return fold.Feed(ctx, weights, words, p.reps) })
	default:
		engine, err = fold.NewTableEngine[int8, int8, int32, int32](p.cfg, table, policy, mul)
		if err != nil {
			return fold.Stats{}, err
		}
	}

	in := make(chan fold.Element[int8], g.TotalFold)
	out := make(chan fold.Element[int32], g.NF)
	var stats fold.Stats

	grp.Go(func() error { return fold.Feed(ctx, in, inputs, p.reps) })
	grp.Go(func() error {
		defer close(out)
		st, err := engine.Run(ctx, in, out, p.reps)
		stats = st
		return err
	})
	grp.Go(func() error {
		for range out {
		}
		return nil
	})
	err = grp.Wait()
	return stats, err
}
