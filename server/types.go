package server

import (
	"time"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/provider"
)

// Run statuses as reported to clients
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// QueryErrorResponse is returned with status 200 when query parameters are invalid
type QueryErrorResponse struct {
	Error string `json:"error"`
}

// RunAccepted is returned when a run has been started
type RunAccepted struct {
	RunID     string `json:"runId"`
	Status    string `json:"status"`
	StreamURL string `json:"streamUrl"`
}

// RunView is the client view of a run
type RunView struct {
	RunID       string            `json:"runId"`
	Status      string            `json:"status"`
	State       benchmark.State   `json:"state"`
	Providers   []string          `json:"providers"`
	Models      []string          `json:"models"`
	Streaming   bool              `json:"streaming"`
	Progress    ProgressUpdate    `json:"progress"`
	Report      *benchmark.Report `json:"report,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// RunsResponse lists known runs
type RunsResponse struct {
	Runs  []RunView `json:"runs"`
	Count int       `json:"count"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status     string    `json:"status"`
	Store      string    `json:"store"`
	ActiveRun  string    `json:"activeRun,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	CloudReady bool      `json:"cloudFoundry"`
}

// ProvidersResponse lists the provider catalog
type ProvidersResponse struct {
	Providers []provider.CatalogEntry `json:"providers"`
	Count     int                     `json:"count"`
	Timestamp time.Time               `json:"timestamp"`
}
