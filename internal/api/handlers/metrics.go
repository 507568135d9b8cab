package handlers

import (
	"net/http"

	"cachegate/internal/gate"
	"cachegate/internal/metrics"
	"cachegate/internal/policy"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// MetricsHandler serves metric snapshots, gate reports and the policy table
type MetricsHandler struct {
	aggregator *metrics.Aggregator
	evaluator  *gate.Evaluator
	table      *policy.Table
	logger     *pterm.Logger
}

func NewMetricsHandler(
	aggregator *metrics.Aggregator,
	evaluator *gate.Evaluator,
	table *policy.Table,
	logger *pterm.Logger,
) *MetricsHandler {
	return &MetricsHandler{
		aggregator: aggregator,
		evaluator:  evaluator,
		table:      table,
		logger:     logger,
	}
}

// GetSnapshot returns the current metrics snapshot
// GET /api/v1/metrics/snapshot
func (h *MetricsHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator.Snapshot())
}

// GetGateReport evaluates the release gate against current metrics
// GET /api/v1/metrics/gate
func (h *MetricsHandler) GetGateReport(c *gin.Context) {
	report := h.evaluator.Evaluate(h.aggregator.Snapshot())
	c.JSON(http.StatusOK, gin.H{
		"report":     report,
		"thresholds": h.evaluator.Thresholds(),
	})
}

// GetPolicies returns the active cache policy table in declaration order
// GET /api/v1/policies
func (h *MetricsHandler) GetPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries": h.table.Entries(),
	})
}

// ResolvePolicy shows which entry a request path resolves to
// GET /api/v1/policies/resolve?path=/api/static/app.js
func (h *MetricsHandler) ResolvePolicy(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	decision := h.table.Resolve(path)
	c.JSON(http.StatusOK, gin.H{
		"path":            path,
		"pattern":         decision.Pattern,
		"max_age_seconds": int(decision.MaxAge.Seconds()),
		"revalidate":      decision.Revalidate,
		"bypass":          decision.Bypass,
	})
}
