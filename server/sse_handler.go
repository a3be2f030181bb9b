package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"llmlatencybench/internal/logger"
)

// SSEHandler streams run progress as Server-Sent Events
type SSEHandler struct {
	runs         *RunManager
	pingInterval time.Duration
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(runs *RunManager) *SSEHandler {
	return &SSEHandler{
		runs:         runs,
		pingInterval: 30 * time.Second,
	}
}

// StreamRunProgress streams one run until it finishes or the client goes away
func (h *SSEHandler) StreamRunProgress(c *gin.Context) {
	runID := c.Param("runId")

	view, updates, unsubscribe, err := h.runs.Subscribe(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: err.Error(),
			Code:    http.StatusNotFound,
		})
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Send initial status
	c.Writer.WriteString(NewStatusMessage(StatusUpdate{
		RunID:     view.RunID,
		Status:    view.Status,
		State:     view.State,
		CreatedAt: view.CreatedAt,
		UpdatedAt: time.Now(),
	}).ToSSE())
	c.Writer.Flush()

	if view.Status != StatusRunning {
		c.Writer.WriteString(finalMessage(view).ToSSE())
		c.Writer.Flush()
		return
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			AppLogger.InfoWithContext(&logger.LogContext{RunID: runID}, "SSE connection closed for run")
			return
		case <-ticker.C:
			c.Writer.WriteString(NewPingMessage().ToSSE())
			c.Writer.Flush()
		case msg := <-updates:
			c.Writer.WriteString(msg.ToSSE())
			c.Writer.Flush()
			if msg.Final() {
				return
			}
		}
	}
}

// finalMessage rebuilds the terminal message of a finished run
func finalMessage(view RunView) *Message {
	finished := time.Now()
	if view.CompletedAt != nil {
		finished = *view.CompletedAt
	}

	switch view.Status {
	case StatusCompleted:
		return NewCompletionMessage(CompletionMessage{
			RunID:     view.RunID,
			Status:    view.Status,
			Report:    view.Report,
			Duration:  finished.Sub(view.CreatedAt).Seconds(),
			Completed: finished,
		})
	case StatusCancelled:
		return NewCancellationMessage(CancellationMessage{
			RunID:     view.RunID,
			Status:    view.Status,
			Message:   "Benchmark cancelled",
			Cancelled: finished,
		})
	default:
		return NewErrorMessage(ErrorMessage{
			RunID:   view.RunID,
			Error:   "Benchmark failed",
			Message: view.Error,
		})
	}
}
