package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/samcharles93/vvau/internal/api"
	"github.com/samcharles93/vvau/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		burst       int64
		maxRuns     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the run and verify REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate",
				Usage:       "submissions per second (0 disables limiting)",
				Value:       10,
				Destination: &rateLimit,
			},
			&cli.Int64Flag{
				Name:        "burst",
				Usage:       "submission burst size",
				Value:       20,
				Destination: &burst,
			},
			&cli.Int64Flag{
				Name:        "max-runs",
				Usage:       "finished runs kept in memory, oldest evicted first",
				Value:       api.DefaultRunLimit,
				Destination: &maxRuns,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr, &rateLimit, &burst)

			var limiter *rate.Limiter
			if rateLimit > 0 {
				limiter = rate.NewLimiter(rate.Limit(rateLimit), int(burst))
			}

			server := api.NewServer(api.NewRunStore(int(maxRuns)), limiter)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "rate", rateLimit, "burst", burst, "max_runs", maxRuns)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					srv.BaseContext = func(net.Listener) context.Context { return ctx }
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
