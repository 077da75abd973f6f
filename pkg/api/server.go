// Package api exposes the episode controller over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jbarnes850/opensec-env/pkg/episode"
	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/version"
)

// Server hosts the reset/step/state surface over a single episode
// controller. Concurrent requests serialize on the controller's lock;
// an episode is a sequential protocol.
type Server struct {
	controller *episode.Controller
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the API server around a controller.
func NewServer(controller *episode.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{controller: controller, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.Health)
	router.POST("/reset", s.Reset)
	router.POST("/step", s.Step)
	router.GET("/state", s.State)
	return router
}

// Start begins serving on addr, blocking until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
}

// Reset starts a new episode and returns the initial observation.
func (s *Server) Reset(c *gin.Context) {
	result, err := s.controller.Reset(c.Request.Context())
	if err != nil {
		s.logger.Error("reset failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Step applies one defender action and returns the step result.
func (s *Server) Step(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.ActionType == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "action_type is required"})
		return
	}
	action := models.AgentAction{ActionType: req.ActionType, Params: req.Params}
	if action.Params == nil {
		action.Params = map[string]any{}
	}
	result, err := s.controller.Step(c.Request.Context(), action)
	if err != nil {
		s.logger.Error("step failed", "action_type", req.ActionType, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// State returns episode bookkeeping without side effects.
func (s *Server) State(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.State())
}
