package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tim-0lu/env-can-wx-app/internal/api/dto"
	"github.com/Tim-0lu/env-can-wx-app/internal/artifact"
	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
	"github.com/Tim-0lu/env-can-wx-app/internal/orchestrator"
)

// Preview handles POST /api/v1/downloads/preview
// Validates a selection and describes the file it would produce
func (h *DownloadHandler) Preview(c *gin.Context) {
	var sel descriptor.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "invalid_body", "Invalid request body")
		return
	}

	d, err := descriptor.Build(sel)
	if err != nil {
		writeSubmitError(c, err)
		return
	}

	from, to := d.Period()
	c.JSON(http.StatusOK, dto.PreviewResponse{
		ArtifactName: d.ArtifactName(),
		Summary:      d.Summary(),
		Frequency:    string(d.Frequency()),
		StartDate:    from.Format(time.DateOnly),
		EndDate:      to.Format(time.DateOnly),
	})
}

// Submit handles POST /api/v1/sessions/:session_id/downloads
// Starts a download job for the session
func (h *DownloadHandler) Submit(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	var sel descriptor.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "invalid_body", "Invalid request body")
		return
	}

	session := h.sessions.Get(sessionID)
	if session == nil {
		abortWithError(c, http.StatusServiceUnavailable, "shutting_down", "Service is shutting down")
		return
	}

	if _, err := session.Submit(c.Request.Context(), sel); err != nil {
		writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, sessionResponse(session.Snapshot()))
}

// Snapshot handles GET /api/v1/sessions/:session_id/downloads
// Returns the current download state; the page polls it at poll_interval_ms
func (h *DownloadHandler) Snapshot(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	session, found := h.sessions.Lookup(sessionID)
	if !found {
		c.JSON(http.StatusOK, h.idleResponse(sessionID))
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session.Snapshot()))
}

// Reset handles DELETE /api/v1/sessions/:session_id/downloads
// Abandons any active job and clears the session
func (h *DownloadHandler) Reset(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	session, found := h.sessions.Lookup(sessionID)
	if !found {
		c.JSON(http.StatusOK, h.idleResponse(sessionID))
		return
	}

	session.Reset(c.Request.Context())
	c.JSON(http.StatusOK, sessionResponse(session.Snapshot()))
}

// Download handles GET /download/:filename
// Redirects to a freshly signed, short-lived link for a finished artifact
func (h *DownloadHandler) Download(c *gin.Context) {
	name := c.Param("filename")

	exists, err := h.artifacts.Exists(name)
	if err != nil {
		if errors.Is(err, artifact.ErrInvalidName) {
			badRequest(c, "invalid_filename", "Invalid file name")
			return
		}
		h.logger.Error("Failed to check artifact", slog.String("artifact_name", name), slog.String("error", err.Error()))
		abortWithError(c, http.StatusInternalServerError, "internal", "Failed to look up file")
		return
	}
	if !exists {
		abortWithError(c, http.StatusNotFound, "not_found", "File not found")
		return
	}

	link, err := h.signer.Issue(name)
	if err != nil {
		h.logger.Error("Failed to issue download link", slog.String("artifact_name", name), slog.String("error", err.Error()))
		abortWithError(c, http.StatusInternalServerError, "internal", "Failed to issue download link")
		return
	}

	h.logger.Info("Download link issued",
		slog.String("artifact_name", name),
		slog.Time("expires_at", link.ExpiresAt),
	)
	c.Redirect(http.StatusFound, link.URL)
}

// ServeFile handles GET /files/:filename
// Serves an artifact when the link signature is valid and unexpired
func (h *DownloadHandler) ServeFile(c *gin.Context) {
	name := c.Param("filename")

	if err := h.signer.Verify(name, c.Query("expires"), c.Query("signature")); err != nil {
		if errors.Is(err, artifact.ErrLinkExpired) {
			abortWithError(c, http.StatusGone, "link_expired", "Download link expired")
			return
		}
		abortWithError(c, http.StatusForbidden, "link_invalid", "Download link invalid")
		return
	}

	exists, err := h.artifacts.Exists(name)
	if err != nil || !exists {
		abortWithError(c, http.StatusNotFound, "not_found", "File not found")
		return
	}

	path, err := h.artifacts.Path(name)
	if err != nil {
		abortWithError(c, http.StatusNotFound, "not_found", "File not found")
		return
	}

	c.FileAttachment(path, name)
}

// writeSubmitError maps submission failures onto status codes. An incomplete
// selection is a normal state of the form, not an alert.
func writeSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, descriptor.ErrIncompleteSelection):
		badRequest(c, "incomplete_selection", err.Error())
	case errors.Is(err, descriptor.ErrInvalidSelection):
		badRequest(c, "invalid_selection", err.Error())
	case errors.Is(err, descriptor.ErrInvalidDateOrder):
		abortWithError(c, http.StatusUnprocessableEntity, "invalid_date_order", err.Error())
	case errors.Is(err, orchestrator.ErrJobActive):
		abortWithError(c, http.StatusConflict, "job_active", err.Error())
	case errors.Is(err, jobqueue.ErrQueueUnavailable):
		abortWithError(c, http.StatusServiceUnavailable, "queue_unavailable", orchestrator.MessageQueueDown)
	default:
		abortWithError(c, http.StatusInternalServerError, "internal", "Failed to start download")
	}
}

func sessionParam(c *gin.Context) (string, bool) {
	id := c.Param("session_id")
	if !sessionIDPattern.MatchString(id) {
		badRequest(c, "invalid_session_id", "session_id must be 1-128 letters, digits, '-' or '_'")
		return "", false
	}
	return id, true
}

func sessionResponse(s orchestrator.Snapshot) dto.SessionResponse {
	resp := dto.SessionResponse{
		SessionID:      s.SessionID,
		State:          s.State,
		Handle:         s.Handle.String(),
		Message:        s.Message,
		ArtifactName:   s.ArtifactName,
		PollIntervalMS: s.PollInterval.Milliseconds(),
		LastError:      s.LastError,
		Outcome:        s.LastOutcome,
	}
	if o := s.LastOutcome; o != nil && o.Artifact != nil {
		resp.DownloadPath = "/download/" + o.Artifact.Name
	}
	return resp
}

// idleResponse describes a session that has never been used, without
// creating it.
func (h *DownloadHandler) idleResponse(sessionID string) dto.SessionResponse {
	return dto.SessionResponse{
		SessionID:      sessionID,
		State:          orchestrator.StateIdle,
		PollIntervalMS: h.sessions.Cadence().Idle.Milliseconds(),
	}
}
