// Package server - HTTP-Zugang zur Evaluierungs-Pipeline
// Beinhaltet: Server-Struct, Router-Registrierung, Fehler-Abbildung auf Status-Codes
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/genevo/fiteval/api"
	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/evaluate"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/store"
	"github.com/genevo/fiteval/version"
)

var mode string = gin.DebugMode

// Server verbindet Router, Evaluator und Run-Speicher
type Server struct {
	addr      net.Addr
	evaluator *evaluate.Evaluator

	// store is nil when runs are not persisted
	store *store.Store

	// sem bounds the evaluations in flight
	sem *semaphore.Weighted
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// NewServer creates a server evaluating with e. A nil st disables run
// storage; maxQueue bounds concurrent evaluations (at least one).
func NewServer(addr net.Addr, e *evaluate.Evaluator, st *store.Store, maxQueue int) *Server {
	return &Server{
		addr:      addr,
		evaluator: e,
		store:     st,
		sem:       semaphore.NewWeighted(int64(max(maxQueue, 1))),
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() (http.Handler, error) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "fiteval is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "fiteval is running") })
	r.HEAD("/api/version", s.VersionHandler)
	r.GET("/api/version", s.VersionHandler)
	r.GET("/metrics", metricsHandler())

	// Evaluation
	r.POST("/api/evaluate", s.EvaluateHandler)
	r.GET("/api/devices", s.DevicesHandler)

	// Stored runs
	r.GET("/api/runs", s.ListRunsHandler)
	r.GET("/api/runs/:id", s.RunHandler)
	r.DELETE("/api/runs/:id", s.DeleteRunHandler)

	return r, nil
}

func (s *Server) VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version, Backends: ml.Backends()})
}

// errorStatus maps a pipeline error kind to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ml.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrCompilation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ml.ErrPlatform):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as an api.ErrorResponse. Compiler output goes
// into the diagnostic field, not the message.
func abortWithError(c *gin.Context, err error) {
	status := errorStatus(err)
	resp := api.ErrorResponse{Error: err.Error()}

	var e *ml.Error
	if errors.As(err, &e) {
		msg := *e
		msg.Diagnostic = ""
		resp.Error = msg.Error()
		resp.Stage = string(e.Stage)
		resp.Diagnostic = e.Diagnostic
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}
