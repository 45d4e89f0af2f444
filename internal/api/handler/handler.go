package handler

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/Tim-0lu/env-can-wx-app/internal/artifact"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
	"github.com/Tim-0lu/env-can-wx-app/internal/orchestrator"
)

// JobLister backs the operator job listing. *jobqueue.Queue satisfies it.
type JobLister interface {
	List(ctx context.Context, filter jobqueue.JobFilter) ([]jobqueue.Job, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Sessions  *orchestrator.Registry
	Jobs      JobLister
	Signer    *artifact.Signer
	Artifacts *artifact.Store
}

// JobHandler handles operator job listing
type JobHandler struct {
	logger *slog.Logger
	jobs   JobLister
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// DownloadHandler handles the per-session download flow and artifact links
type DownloadHandler struct {
	logger    *slog.Logger
	sessions  *orchestrator.Registry
	signer    *artifact.Signer
	artifacts *artifact.Store
}

// NewDownloadHandler creates a new DownloadHandler instance
func NewDownloadHandler(deps *Dependencies) *DownloadHandler {
	return &DownloadHandler{
		logger:    deps.Logger,
		sessions:  deps.Sessions,
		signer:    deps.Signer,
		artifacts: deps.Artifacts,
	}
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": msg,
		"code":  code,
	})
}

func badRequest(c *gin.Context, code, msg string) {
	abortWithError(c, http.StatusBadRequest, code, msg)
}
