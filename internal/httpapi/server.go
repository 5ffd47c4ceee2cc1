// Package httpapi exposes the pipeline over HTTP: a health endpoint, a run
// trigger, and a Server-Sent-Events stream of a run's event log. Handlers
// stay thin, delegating straight to the pipeline and its collaborators.
package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tarsy-labs/forge/internal/config"
	"github.com/tarsy-labs/forge/pkg/pipeline"
)

// RunRequest is the POST /runs request body.
type RunRequest struct {
	ProjectID   string              `json:"project_id" binding:"required"`
	Prompt      string              `json:"prompt" binding:"required"`
	RuntimeMode pipeline.RuntimeMode `json:"runtime_mode"`
}

// Server wires the pipeline and its Store to a Gin router.
type Server struct {
	Deps pipeline.Deps

	mu     sync.Mutex
	review config.ReviewConfig
	runs   map[string]<-chan pipeline.Event
}

// New builds a Server with deps as the pipeline's collaborators, applying
// review as the default review-loop bound and security-score gate for
// every run it starts.
func New(deps pipeline.Deps, review config.ReviewConfig) *Server {
	return &Server{Deps: deps, review: review, runs: make(map[string]<-chan pipeline.Event)}
}

// SetReview replaces the review-loop bound and security-score gate applied
// to runs started after this call; it's safe to call concurrently with
// request handling, so a config watcher can hot-swap it without a restart.
func (s *Server) SetReview(review config.ReviewConfig) {
	s.mu.Lock()
	s.review = review
	s.mu.Unlock()
}

// Router builds the Gin engine exposing this server's routes.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/health", s.handleHealth)
	r.POST("/runs", s.handleCreateRun)
	r.GET("/runs/:id/events", s.handleRunEvents)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleCreateRun starts a pipeline run in the background and returns its
// run_id immediately; clients follow progress via GET /runs/:id/events.
func (s *Server) handleCreateRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RuntimeMode == "" {
		req.RuntimeMode = pipeline.RuntimeModeLocalCLI
	}

	s.mu.Lock()
	review := s.review
	s.mu.Unlock()

	runID := uuid.NewString()
	events := pipeline.RunPipeline(context.Background(), runID, req.ProjectID, req.Prompt,
		pipeline.Options{
			RuntimeMode:         req.RuntimeMode,
			MaxReviewIterations: review.MaxReviewIterations,
			MinSecurityScore:    review.MinSecurityScore,
		}, s.Deps)

	s.mu.Lock()
	s.runs[runID] = events
	s.mu.Unlock()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// handleRunEvents streams a previously started run's event log as
// Server-Sent Events until the run reaches a terminal event. A run's
// channel can only be consumed once: a second subscriber after the first
// has drained it sees nothing further, an accepted constraint of this
// single-reader event channel since replay/fan-out isn't required here.
func (s *Server) handleRunEvents(c *gin.Context) {
	runID := c.Param("id")

	s.mu.Lock()
	events, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run_id"})
		return
	}

	c.Stream(func(w gin.ResponseWriter) bool {
		event, open := <-events
		if !open {
			return false
		}
		c.SSEvent(string(event.Status), event)
		return true
	})
}
