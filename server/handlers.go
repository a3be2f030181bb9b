package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/query"
)

// Handlers serves the read-side query API and the run API
type Handlers struct {
	query        *query.Service
	runs         *RunManager
	catalog      *CatalogCache
	storeDriver  string
	queryTimeout time.Duration
}

// NewHandlers wires the HTTP handlers. runs and catalog may be nil for a read-only server.
func NewHandlers(q *query.Service, runs *RunManager, catalog *CatalogCache, storeDriver string, queryTimeout time.Duration) *Handlers {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &Handlers{
		query:        q,
		runs:         runs,
		catalog:      catalog,
		storeDriver:  storeDriver,
		queryTimeout: queryTimeout,
	}
}

func (h *Handlers) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.queryTimeout)
}

// respondQueryError answers caller mistakes with 200 and {error}, everything else with 500
func respondQueryError(c *gin.Context, err error) {
	var inputErr *query.InputError
	if errors.As(err, &inputErr) {
		c.JSON(http.StatusOK, QueryErrorResponse{Error: inputErr.Message})
		return
	}

	AppLogger.ErrorWithFields("query failed", map[string]interface{}{
		"path":  c.Request.URL.Path,
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "Internal Server Error",
		Message: "Failed to read benchmark metrics",
		Code:    http.StatusInternalServerError,
	})
}

// MetricsByDate handles GET /metrics/date
func (h *Handlers) MetricsByDate(c *gin.Context) {
	streaming, err := query.ParseStreaming(c.Query("streaming"))
	if err != nil {
		respondQueryError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	res, err := h.query.MetricsByDate(ctx, c.Query("metricType"), c.DefaultQuery("date", query.Latest), streaming)
	if err != nil {
		respondQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MetricsForPeriod handles GET /metrics/period
func (h *Handlers) MetricsForPeriod(c *gin.Context) {
	streaming, err := query.ParseStreaming(c.Query("streaming"))
	if err != nil {
		respondQueryError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	res, err := h.query.MetricsForPeriod(ctx, c.Query("metricType"), c.DefaultQuery("timeRange", "week"), streaming)
	if err != nil {
		respondQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// LatestRunID handles GET /latest-run-id
func (h *Handlers) LatestRunID(c *gin.Context) {
	streaming, err := query.ParseStreaming(c.Query("streaming"))
	if err != nil {
		respondQueryError(c, err)
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	runID, err := h.query.LatestRunID(ctx, streaming)
	if err != nil {
		respondQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID})
}

// MetricsByRun handles GET /metrics?run_id=
func (h *Handlers) MetricsByRun(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		respondQueryError(c, &query.InputError{Message: "Missing run_id."})
		return
	}

	ctx, cancel := h.queryContext(c)
	defer cancel()

	res, err := h.query.MetricsByRun(ctx, runID)
	if err != nil {
		respondQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Health returns server health status
func (h *Handlers) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:     "ok",
		Store:      h.storeDriver,
		Timestamp:  time.Now(),
		CloudReady: IsVCAPServicesAvailable(),
	}
	if h.runs != nil {
		resp.ActiveRun = h.runs.Active()
	}
	c.JSON(http.StatusOK, resp)
}

// Providers handles GET /api/providers
func (h *Handlers) Providers(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusOK, ProvidersResponse{Timestamp: time.Now()})
		return
	}
	c.JSON(http.StatusOK, h.catalog.Discover())
}

// StartRun handles POST /api/runs. The body is a run configuration in JSON.
func (h *Handlers) StartRun(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: "Failed to read request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	cfg, err := benchmark.ParseConfig(body)
	if err != nil {
		AppLogger.WarnWithFields("rejected run configuration", map[string]interface{}{
			"error": err.Error(),
		})
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid Configuration",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	view, err := h.runs.Start(cfg)
	if err != nil {
		// ErrorHandlingMiddleware maps active-run and configuration errors
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, RunAccepted{
		RunID:     view.RunID,
		Status:    view.Status,
		StreamURL: "/api/runs/" + view.RunID + "/stream",
	})
}

// GetRun handles GET /api/runs/:runId
func (h *Handlers) GetRun(c *gin.Context) {
	view, ok := h.runs.Get(c.Param("runId"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: ErrRunNotFound.Error(),
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListRuns handles GET /api/runs
func (h *Handlers) ListRuns(c *gin.Context) {
	runs := h.runs.List()
	c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// CancelRun handles POST /api/runs/:runId/cancel
func (h *Handlers) CancelRun(c *gin.Context) {
	runID := c.Param("runId")
	AppLogger.InfoWithContext(&logger.LogContext{RunID: runID}, "Received cancellation request for run")

	if err := h.runs.Cancel(runID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Benchmark cancellation requested",
		"runId":   runID,
		"status":  "cancelling",
	})
}
