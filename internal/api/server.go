// Package api exposes job execution and the softmax testbench over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/vvau/internal/job"
	"github.com/samcharles93/vvau/internal/logger"
	"github.com/samcharles93/vvau/internal/testbench"
	"github.com/samcharles93/vvau/internal/version"
)

type Server struct {
	store   *RunStore
	limiter *rate.Limiter
	clock   func() time.Time
}

// NewServer returns a server backed by store. A nil limiter disables rate
// limiting of submissions.
func NewServer(store *RunStore, limiter *rate.Limiter) *Server {
	if store == nil {
		store = NewRunStore(DefaultRunLimit)
	}
	return &Server{
		store:   store,
		limiter: limiter,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/runs", s.handleCreateRun, s.rateLimit)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
	e.POST("/v1/verify", s.handleVerify, s.rateLimit)
	e.GET("/v1/version", s.handleVersion)
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow() {
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many submissions, retry later", "")
		}
		return next(c)
	}
}

func (s *Server) handleCreateRun(c *echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	j, err := job.Decode(body, job.FormatJSON)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if j.WeightsFile != "" {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "weights_file is not accepted over the API", "weights_file")
	}

	ctx := c.Request().Context()
	res, err := job.Execute(ctx, j)
	if err != nil {
		if clientError(err) {
			return writeBadRequest(c, err.Error())
		}
		logger.FromContext(ctx).Error("run failed", "job", j.Name, "error", err)
		return writeServerError(c, err.Error())
	}

	run := s.store.Save(res, s.clock())
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return c.JSON(http.StatusOK, RunList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	run, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "run not found")
	}
	return c.JSON(http.StatusOK, DeletedRun{ID: id, Object: "run.deleted", Deleted: true})
}

func (s *Server) handleVerify(c *echo.Context) error {
	req, err := decodeJSON[VerifyRequest](c.Request().Body)
	if err != nil && !errors.Is(err, io.EOF) {
		return writeBadRequest(c, err.Error())
	}
	sc, err := req.scenario()
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	report, err := testbench.RunSoftmax(c.Request().Context(), sc)
	if err != nil {
		if clientError(err) {
			return writeBadRequest(c, err.Error())
		}
		return writeServerError(c, err.Error())
	}
	return c.JSON(http.StatusOK, VerifyResponse{Object: "verify", OK: report.OK(), Report: report})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return c.JSON(http.StatusOK, version.Resolve())
}
