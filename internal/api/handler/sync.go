package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/logger"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/service"
)

// SyncHandler exposes the sync job API: create, poll, history, retry. All
// pipeline work happens on the worker pool; these handlers only touch the
// job store.
type SyncHandler struct {
	syncService *service.SyncService
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

// CreateSyncRequest is the payload for POST /api/v1/sync.
type CreateSyncRequest struct {
	UnitID     string                 `json:"unit_id" binding:"required"`
	Domain     string                 `json:"domain" binding:"required"`
	SourceKind string                 `json:"source_kind" binding:"required"`
	TargetKind string                 `json:"target_kind" binding:"required"`
	CategoryID string                 `json:"category_id"`
	Period     int                    `json:"period" binding:"required"`
	Config     map[string]interface{} `json:"config"`
}

// Create handles POST /api/v1/sync. Replies 202 with the pending job, 409
// when the scope is busy, 4xx for unknown providers or failed connection
// checks, 503 when validation timed out or the pool is saturated.
func (h *SyncHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.syncService.Create(ctx, &service.CreateRequest{
		UnitID:     req.UnitID,
		Domain:     domain.Domain(req.Domain),
		Source:     domain.SourceKind(req.SourceKind),
		Target:     domain.TargetKind(req.TargetKind),
		CategoryID: req.CategoryID,
		Period:     req.Period,
		CreatedBy:  c.GetString("user"),
		Config:     domain.JSONMap(req.Config),
	})
	if err != nil {
		h.writeCreateError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// Status handles GET /api/v1/sync/jobs/:id.
func (h *SyncHandler) Status(c *gin.Context) {
	job, err := h.syncService.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// History handles GET /api/v1/sync/jobs?unit_id=...&source_kind=...&limit=...
// Jobs come back newest first regardless of status.
func (h *SyncHandler) History(c *gin.Context) {
	unitID := c.Query("unit_id")
	if unitID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unit_id is required"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	jobs, err := h.syncService.History(c.Request.Context(), unitID,
		domain.SourceKind(c.Query("source_kind")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// Retry handles POST /api/v1/sync/jobs/:id/retry. Only failed jobs can be
// retried; the reply carries the new job.
func (h *SyncHandler) Retry(c *gin.Context) {
	job, err := h.syncService.Retry(c.Request.Context(), c.Param("id"), c.GetString("user"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, service.ErrNotRetryable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.writeCreateError(c, err)
		}
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// writeCreateError maps admission-path errors onto HTTP statuses.
func (h *SyncHandler) writeCreateError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, provider.ErrNotRegistered):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrBadConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrConnection):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidateTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrScopeBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "a sync job is already active for this scope"})
	case errors.Is(err, service.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.CtxError(ctx, "Sync job creation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
