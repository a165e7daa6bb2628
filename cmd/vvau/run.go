package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/job"
	"github.com/samcharles93/vvau/internal/logger"
)

func runCmd() *cli.Command {
	var (
		jobPath string
		format  string
		reps    int64
		seed    int64
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Execute a job file and print the output stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "job",
				Aliases:     []string{"j"},
				Usage:       "path to a .yaml or .json job file",
				Required:    true,
				Destination: &jobPath,
			},
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &format,
			},
			&cli.Int64Flag{
				Name:        "reps",
				Usage:       "override the job's repetitions",
				Destination: &reps,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "override the seed of random job inputs",
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			j, err := job.Load(jobPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load job: %v", err), 1)
			}
			if cmd.IsSet("reps") {
				j.Repetitions = int(reps)
			}
			if cmd.IsSet("seed") {
				j.Inputs.Seed = uint64(seed)
			}

			log.Info("running job", "path", jobPath, "mode", j.Mode.String(), "reps", j.Repetitions)
			res, err := job.Execute(ctx, j)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: run job: %v", err), 1)
			}

			switch format {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			case "text":
				return writeResultText(os.Stdout, j.Geometry(), res)
			default:
				return cli.Exit(fmt.Sprintf("error: unknown format %q", format), 1)
			}
		},
	}
}

func writeResultText(w io.Writer, g fold.Geometry, res *job.Result) error {
	var b strings.Builder
	for i, out := range res.Outputs {
		fmt.Fprintf(&b, "rep %d group %d:", i/g.NF, i%g.NF)
		for _, v := range out {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatInt(v, 10))
		}
		b.WriteByte('\n')
	}
	s := res.Stats
	fmt.Fprintf(&b, "steps=%d inputs=%d weights=%d outputs=%d duration=%s\n",
		s.Steps, s.InputReads, s.WeightReads, s.Outputs, s.Duration)
	_, err := io.WriteString(w, b.String())
	return err
}
