package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tim-0lu/env-can-wx-app/internal/api/dto"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var validStatuses = map[string]bool{
	jobqueue.JobStatusPending:   true,
	jobqueue.JobStatusRunning:   true,
	jobqueue.JobStatusCompleted: true,
	jobqueue.JobStatusFailed:    true,
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		badRequest(c, "invalid_query", "Invalid query parameters")
		return
	}

	if req.Status != "" && !validStatuses[req.Status] {
		badRequest(c, "invalid_status", "status must be one of PENDING, RUNNING, COMPLETED, FAILED")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		badRequest(c, "invalid_cursor", "Invalid cursor")
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), jobqueue.JobFilter{
		StationID: req.StationID,
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		abortWithError(c, http.StatusInternalServerError, "internal", "Failed to list jobs")
		return
	}

	// Prepare response with next cursor if more results exist
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.JobDTO{
			JobID:        job.JobID,
			JobType:      job.JobType,
			StationID:    job.StationID,
			ArtifactName: job.ArtifactName,
			Status:       job.Status,
			ErrorMessage: job.ErrorMessage.String,
			RetryCount:   job.RetryCount,
			MaxRetries:   job.MaxRetries,
			CreatedAt:    job.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
		}
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&jobqueue.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
