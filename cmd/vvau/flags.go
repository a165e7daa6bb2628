package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vvau/internal/fold"
)

var (
	logLevel  string
	logFormat string
	debug     bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modeFlag(dest *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "mode",
		Usage:       "weight delivery (table, stream)",
		Value:       fold.ModeTable.String(),
		Destination: dest,
	}
}

func parseModeFlag(s string) (fold.Mode, error) {
	mode, err := fold.ParseMode(s)
	if err != nil {
		return mode, cli.Exit("error: "+err.Error(), 1)
	}
	return mode, nil
}
