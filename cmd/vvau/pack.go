package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vvau/internal/job"
	"github.com/samcharles93/vvau/internal/logger"
)

func packCmd() *cli.Command {
	var (
		jobPath string
		outPath string
		bits    int64
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a job's inline weights into a .vvw weight-stream file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "job",
				Aliases:     []string{"j"},
				Usage:       "path to a .yaml or .json job file with inline weights",
				Required:    true,
				Destination: &jobPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path (default: the job path with a .vvw extension)",
				Destination: &outPath,
			},
			&cli.Int64Flag{
				Name:        "bits",
				Usage:       "override the job's weight_bits",
				Destination: &bits,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			j, err := job.Load(jobPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load job: %v", err), 1)
			}
			if cmd.IsSet("bits") {
				j.WeightBits = int(bits)
			}
			if err := j.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			out, err := resolvePackOut(jobPath, outPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := j.WriteWeights(out); err != nil {
				return cli.Exit(fmt.Sprintf("error: pack: %v", err), 1)
			}

			l := j.Layout()
			log.Info("packed weights", "out", out, "words", j.Geometry().TotalFold, "word_bits", l.WordBits(), "limbs", l.Limbs())
			return nil
		},
	}
}

func resolvePackOut(jobPath, outFlag string) (string, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag == "" {
		if strings.TrimSpace(jobPath) == "" {
			return "", fmt.Errorf("invalid job path: %q", jobPath)
		}
		clean := filepath.Clean(jobPath)
		outFlag = strings.TrimSuffix(clean, filepath.Ext(clean)) + ".vvw"
	}
	outPath := filepath.Clean(outFlag)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	return outPath, nil
}
