package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/scrape-dispatcher/internal/api/dto"
	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/gin-gonic/gin"
)

// GetUserVideos handles GET /api/v1/user/videos?username=
// Queues one job and waits for its result
func (h *JobHandler) GetUserVideos(c *gin.Context) {
	var req dto.UserVideosRequest
	if err := c.ShouldBindQuery(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Username parameter is required",
		})
		return
	}

	h.logger.Info("GetUserVideos called",
		slog.String("username", req.Username),
	)

	job, err := h.dispatcher.EnqueueAndWait(c.Request.Context(), req.Username)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidIdentifier):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Username parameter is required",
			})
		case errors.Is(err, domain.ErrWaitTimeout):
			c.JSON(http.StatusGatewayTimeout, dto.TimeoutResponse{
				JobID:  job.ID,
				Status: string(domain.JobStatusTimeout),
				Error:  err.Error(),
			})
		case errors.Is(err, domain.ErrDispatcherStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  "Service is shutting down",
				"job_id": job.ID,
			})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.logger.Warn("Client went away while waiting for job",
				slog.String("job_id", job.ID),
			)
			c.Status(http.StatusRequestTimeout)
		default:
			h.logger.Error("Failed to process user videos request", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to process request",
			})
		}
		return
	}

	if job.Status == domain.JobStatusFailed {
		c.JSON(http.StatusInternalServerError, dto.FailedJobResponse{
			JobID:  job.ID,
			Status: string(job.Status),
			Error:  job.Error,
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// BatchVideos handles POST /api/v1/batch/videos
// Queues one job per username and returns immediately
func (h *JobHandler) BatchVideos(c *gin.Context) {
	var req dto.BatchVideosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	h.logger.Info("BatchVideos called",
		slog.Int("batch_size", len(req.Usernames)),
	)

	ids, err := h.dispatcher.EnqueueBatch(req.Usernames)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyBatch):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "No usernames provided",
			})
		case errors.Is(err, domain.ErrInvalidIdentifier):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		default:
			h.logger.Error("Failed to queue batch", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to queue batch",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.BatchVideosResponse{
		BatchSize: len(ids),
		JobIDs:    ids,
		Status:    string(domain.JobStatusQueued),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the current snapshot of a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	job, err := h.dispatcher.Status(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, job)
}
