package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vvau/internal/logger"
	"github.com/samcharles93/vvau/internal/testbench"
)

func verifyCmd() *cli.Command {
	def := testbench.DefaultScenario()
	var (
		channels int64
		pe       int64
		reps     int64
		seed     int64
		lo       int64
		hi       int64
		mode     string
		batch    int64
		workers  int64
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Check the softmax pipeline bit-exactly against the float reference",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "channels", Usage: "vector length", Value: int64(def.Channels), Destination: &channels},
			&cli.Int64Flag{Name: "pe", Usage: "parallel lanes", Value: int64(def.PE), Destination: &pe},
			&cli.Int64Flag{Name: "reps", Usage: "copies of the vector streamed through", Value: int64(def.Rounds), Destination: &reps},
			&cli.Int64Flag{Name: "seed", Usage: "random vector seed", Value: int64(def.Seed), Destination: &seed},
			&cli.Int64Flag{Name: "min", Usage: "smallest vector value", Value: int64(def.Min), Destination: &lo},
			&cli.Int64Flag{Name: "max", Usage: "largest vector value", Value: int64(def.Max), Destination: &hi},
			modeFlag(&mode),
			&cli.Int64Flag{Name: "batch", Usage: "independent scenarios with consecutive seeds", Value: 1, Destination: &batch},
			&cli.Int64Flag{Name: "workers", Usage: "scenarios run concurrently", Value: 4, Destination: &workers},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyVerifyConfig(cmd, fileConfig, &reps, &seed, &workers)

			m, err := parseModeFlag(mode)
			if err != nil {
				return err
			}
			if batch < 1 {
				return cli.Exit("error: --batch must be at least 1", 1)
			}

			scenarios := make([]testbench.Scenario, batch)
			for i := range scenarios {
				scenarios[i] = testbench.Scenario{
					Channels: int(channels),
					PE:       int(pe),
					Rounds:   int(reps),
					Min:      int(lo),
					Max:      int(hi),
					Seed:     uint64(seed) + uint64(i),
					Mode:     m,
				}
			}

			reports, err := testbench.RunBatch(ctx, scenarios, int(workers))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: verify: %v", err), 1)
			}

			failed := 0
			for _, r := range reports {
				status := "PASS"
				if !r.OK() {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(os.Stdout, "%s seed=%d examined=%d/%d mismatches=%d\n",
					status, r.Scenario.Seed, r.Examined, r.Expected, len(r.Mismatches))
				for _, mm := range r.Mismatches {
					fmt.Fprintf(os.Stdout, "  output %d channel %d: got %d want %d\n", mm.Output, mm.Channel, mm.Got, mm.Want)
				}
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("error: %d of %d scenarios failed", failed, len(reports)), 1)
			}
			log.Info("verify passed", "scenarios", len(reports))
			return nil
		},
	}
}
