// routes_evaluate.go - Handler fuer Evaluierung, Geraete und gespeicherte Runs
// Enthaelt: EvaluateHandler, DevicesHandler, ListRunsHandler, RunHandler, DeleteRunHandler

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/genevo/fiteval/api"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/population"
	"github.com/genevo/fiteval/store"
)

func (s *Server) EvaluateHandler(c *gin.Context) {
	var req api.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, invalidRequest(err))
		return
	}

	weights, err := req.Population()
	if err != nil {
		abortWithError(c, invalidRequest(err))
		return
	}

	if err := s.sem.Acquire(c.Request.Context(), 1); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: fmt.Sprintf("evaluation queue: %v", err)})
		return
	}
	defer s.sem.Release(1)

	r, err := s.evaluator.EvaluateDetailed(c.Request.Context(), weights, req.Config)
	observe(r, err)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := api.EvaluateResponse{
		Fitness:  r.Fitness,
		Summary:  population.Summarize(r.Fitness),
		Device:   r.Device,
		Config:   r.Config,
		Key:      r.Key,
		Duration: api.Duration{Duration: r.Duration},
	}

	save := s.store != nil
	if req.Save != nil {
		save = save && *req.Save
	}
	if save {
		run := &store.Run{
			Key:        r.Key,
			Config:     r.Config,
			Device:     r.Device,
			NumGenomes: weights.NumGenomes(),
			NumWeights: weights.NumWeights(),
			Duration:   r.Duration,
			Fitness:    r.Fitness,
		}
		if err := s.store.SaveRun(run); err != nil {
			// the evaluation itself succeeded
			slog.Warn("failed to save run", "error", err)
		} else {
			resp.ID = run.ID
		}
	}

	c.JSON(http.StatusOK, resp)
}

func invalidRequest(err error) error {
	// config decoding already reports its own stage
	var e *ml.Error
	if errors.As(err, &e) {
		return err
	}
	return ml.NewError(ml.StageValidate, ml.ErrInvalidInput, ml.OpInvalidMatrix, err)
}

func (s *Server) DevicesHandler(c *gin.Context) {
	devices, err := s.evaluator.Devices(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if devices == nil {
		devices = []ml.DeviceInfo{}
	}
	c.JSON(http.StatusOK, api.DevicesResponse{Devices: devices})
}

func (s *Server) ListRunsHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = n
	}

	resp := api.ListRunsResponse{Runs: []api.RunSummary{}}
	if s.store == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	runs, err := s.store.Runs(limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, runSummary(r))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) RunHandler(c *gin.Context) {
	r, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, api.Run{RunSummary: runSummary(r), Fitness: r.Fitness})
}

func (s *Server) DeleteRunHandler(c *gin.Context) {
	if s.store == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, api.ErrorResponse{Error: "run storage is disabled"})
		return
	}

	if err := s.store.DeleteRun(c.Param("id")); errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error()})
		return
	} else if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) lookupRun(c *gin.Context) (*store.Run, bool) {
	if s.store == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, api.ErrorResponse{Error: "run storage is disabled"})
		return nil, false
	}

	r, err := s.store.Run(c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error()})
		return nil, false
	} else if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return r, true
}

func runSummary(r *store.Run) api.RunSummary {
	return api.RunSummary{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		Key:        r.Key,
		Config:     r.Config,
		Device:     r.Device,
		NumGenomes: r.NumGenomes,
		NumWeights: r.NumWeights,
		Duration:   api.Duration{Duration: r.Duration},
		Summary:    r.Summary,
	}
}
