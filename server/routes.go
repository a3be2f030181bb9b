package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteOptions carries the dependencies of the HTTP surface
type RouteOptions struct {
	Handlers   *Handlers
	Runs       *RunManager
	Hub        *Hub
	CORS       CORSConfig
	Release    bool
	Prometheus prometheus.Gatherer
}

// SetupRoutes configures all HTTP routes for the server
func SetupRoutes(router *gin.Engine, opts RouteOptions) {
	h := opts.Handlers

	// Apply global middleware in order
	router.Use(RequestIDMiddleware())                   // Tag requests with an id
	router.Use(RecoveryMiddleware())                    // Recover from panics
	router.Use(SecurityHeadersMiddleware(opts.Release)) // Add security headers
	router.Use(CORSMiddleware(opts.CORS))               // Handle CORS
	router.Use(LoggingMiddleware())                     // Log requests
	router.Use(ErrorHandlingMiddleware())               // Handle errors

	// Read side, consumed by the dashboard
	router.GET("/metrics/date", h.MetricsByDate)
	router.GET("/metrics/period", h.MetricsForPeriod)
	router.GET("/metrics", h.MetricsByRun)
	router.GET("/latest-run-id", h.LatestRunID)

	api := router.Group("/api")
	{
		api.Use(RequestValidationMiddleware())

		api.GET("/health", h.Health)
		api.GET("/providers", h.Providers)

		gatherer := opts.Prometheus
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		api.GET("/prometheus", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

		if opts.Runs != nil {
			sseHandler := NewSSEHandler(opts.Runs)

			api.POST("/runs", h.StartRun)
			api.GET("/runs", h.ListRuns)
			api.GET("/runs/:runId", h.GetRun)
			api.POST("/runs/:runId/cancel", h.CancelRun)
			api.GET("/runs/:runId/stream", sseHandler.StreamRunProgress)
		}
	}

	if opts.Hub != nil {
		router.GET("/ws", opts.Hub.ServeWS)
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "LLM Latency Benchmark API",
			"status":  "ok",
			"endpoints": gin.H{
				"health":    "/api/health",
				"providers": "/api/providers",
				"runs":      "/api/runs",
				"metrics": gin.H{
					"date":   "/metrics/date?metricType=timetofirsttoken&date=latest",
					"period": "/metrics/period?metricType=timetofirsttoken&timeRange=week",
					"run":    "/metrics?run_id=<id>",
					"latest": "/latest-run-id",
				},
				"prometheus": "/api/prometheus",
				"websocket":  "/ws",
			},
		})
	})

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not Found",
				Message: "The requested endpoint does not exist",
				Code:    http.StatusNotFound,
			})
			return
		}

		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource does not exist",
		})
	})
}
