package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"cachegate/internal/invalidation"
	"cachegate/internal/proxy"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// InvalidationHandler exposes cache invalidation and its audit trail
type InvalidationHandler struct {
	service *invalidation.Service
	logger  *pterm.Logger
}

func NewInvalidationHandler(service *invalidation.Service, logger *pterm.Logger) *InvalidationHandler {
	return &InvalidationHandler{service: service, logger: logger}
}

type invalidateRequest struct {
	Target string `json:"target" binding:"required"`
}

// Invalidate drops cached objects for a route pattern or "*"
// POST /api/v1/invalidate
func (h *InvalidationHandler) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}

	event, err := h.service.Invalidate(c.Request.Context(), req.Target)
	if err != nil {
		if errors.Is(err, invalidation.ErrTargetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":  "unknown invalidation target",
				"target": req.Target,
			})
			return
		}

		var uerr *proxy.UpstreamError
		if errors.As(err, &uerr) {
			// The invalidation is recorded; only the proxy purge failed.
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "proxy purge failed",
				"event": event,
			})
			return
		}

		h.logger.WithCaller().Error("Invalidation failed", h.logger.Args("target", req.Target, "error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event})
}

// ListInvalidations returns recent audit events, newest first
// GET /api/v1/invalidations?limit=N
func (h *InvalidationHandler) ListInvalidations(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if parsed > 1000 {
			parsed = 1000
		}
		limit = parsed
	}

	events, err := h.service.Recent(limit)
	if err != nil {
		h.logger.WithCaller().Error("Failed to load invalidation events", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load invalidation events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
