package server

import (
	"fmt"
	"sync"
	"time"

	"llmlatencybench/internal/benchmark"
)

// ProgressTracker folds orchestrator events into progress snapshots and
// publishes them. Token unit events are throttled, everything else is sent
// immediately.
type ProgressTracker struct {
	RunID     string
	StartTime time.Time
	Status    string
	State     benchmark.State
	Provider  string
	Model     string
	Trial     int
	Trials    int
	Completed int
	Total     int
	Units     int
	step      string

	publish          func(*Message)
	now              func() time.Time
	mutex            sync.RWMutex
	lastBroadcast    time.Time
	throttleInterval time.Duration
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(runID string, publish func(*Message)) *ProgressTracker {
	return &ProgressTracker{
		RunID:            runID,
		StartTime:        time.Now(),
		Status:           StatusRunning,
		State:            benchmark.StateConfiguring,
		publish:          publish,
		now:              time.Now,
		throttleInterval: 1 * time.Second, // max 1 unit update per second
	}
}

// HandleEvent applies one orchestrator event
func (pt *ProgressTracker) HandleEvent(e benchmark.Event) {
	if msg := pt.apply(e); msg != nil {
		pt.send(msg)
	}
}

func (pt *ProgressTracker) apply(e benchmark.Event) *Message {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	if e.State != "" {
		pt.State = e.State
	}

	switch e.Type {
	case benchmark.EventState:
		return pt.statusMessage(fmt.Sprintf("Run is %s", e.State))
	case benchmark.EventWarning:
		return pt.statusMessage(e.Message)
	case benchmark.EventCooldown:
		pt.setTrial(e)
		pt.step = fmt.Sprintf("Cooling down %s for %s", e.Provider, e.Message)
		return pt.progressMessage()
	case benchmark.EventTrialStart:
		pt.setTrial(e)
		pt.Units = 0
		pt.step = fmt.Sprintf("Testing %s on %s (%d/%d)", e.Model, e.Provider, e.Trial, e.Trials)
		return pt.progressMessage()
	case benchmark.EventUnits:
		pt.Units = e.Units
		if pt.now().Sub(pt.lastBroadcast) >= pt.throttleInterval {
			return pt.progressMessage()
		}
	case benchmark.EventTrialDone:
		pt.setTrial(e)
		pt.Completed = e.Completed
		pt.Total = e.Total
		if e.Err != "" {
			pt.step = fmt.Sprintf("Trial %d of %s on %s failed: %s", e.Trial, e.Model, e.Provider, e.Err)
		} else {
			pt.step = fmt.Sprintf("Finished %s on %s (%d/%d)", e.Model, e.Provider, e.Trial, e.Trials)
		}
		return pt.progressMessage()
	}
	return nil
}

func (pt *ProgressTracker) setTrial(e benchmark.Event) {
	pt.Provider = e.Provider
	pt.Model = e.Model
	pt.Trial = e.Trial
	pt.Trials = e.Trials
}

// GetProgress returns the current progress information
func (pt *ProgressTracker) GetProgress() ProgressUpdate {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()
	return pt.progress()
}

func (pt *ProgressTracker) progress() ProgressUpdate {
	elapsed := pt.now().Sub(pt.StartTime).Seconds()

	var progress, estimatedRemaining float64
	if pt.Total > 0 {
		progress = float64(pt.Completed) / float64(pt.Total) * 100
	}
	if progress > 0 {
		estimatedRemaining = (elapsed / progress) * (100 - progress)
	}

	return ProgressUpdate{
		RunID:                  pt.RunID,
		Status:                 pt.Status,
		State:                  pt.State,
		Provider:               pt.Provider,
		Model:                  pt.Model,
		Trial:                  pt.Trial,
		Trials:                 pt.Trials,
		Completed:              pt.Completed,
		Total:                  pt.Total,
		Units:                  pt.Units,
		Progress:               progress,
		ElapsedTime:            elapsed,
		EstimatedTimeRemaining: estimatedRemaining,
		CurrentStep:            pt.currentStepDescription(),
	}
}

func (pt *ProgressTracker) currentStepDescription() string {
	if pt.step != "" {
		return pt.step
	}
	return "Initializing benchmark..."
}

func (pt *ProgressTracker) progressMessage() *Message {
	pt.lastBroadcast = pt.now()
	return NewProgressMessage(pt.progress())
}

func (pt *ProgressTracker) statusMessage(message string) *Message {
	return NewStatusMessage(StatusUpdate{
		RunID:     pt.RunID,
		Status:    pt.Status,
		State:     pt.State,
		Message:   message,
		CreatedAt: pt.StartTime,
		UpdatedAt: pt.now(),
	})
}

// send publishes outside the tracker lock
func (pt *ProgressTracker) send(m *Message) {
	if pt.publish != nil {
		pt.publish(m)
	}
}

// Complete marks the run as completed and broadcasts the report
func (pt *ProgressTracker) Complete(report *benchmark.Report) {
	pt.mutex.Lock()
	pt.Status = StatusCompleted
	pt.State = benchmark.StateDone
	pt.Completed = pt.Total
	pt.step = "Benchmark complete"
	msg := NewCompletionMessage(CompletionMessage{
		RunID:     pt.RunID,
		Status:    StatusCompleted,
		Report:    report,
		Duration:  pt.now().Sub(pt.StartTime).Seconds(),
		Completed: pt.now(),
	})
	pt.mutex.Unlock()

	pt.send(msg)
}

// Fail marks the run as failed and broadcasts error information
func (pt *ProgressTracker) Fail(errorMsg string, details string) {
	pt.mutex.Lock()
	pt.Status = StatusFailed
	pt.step = errorMsg
	msg := NewErrorMessage(ErrorMessage{
		RunID:   pt.RunID,
		Error:   "Benchmark failed",
		Message: errorMsg,
		Details: details,
	})
	pt.mutex.Unlock()

	pt.send(msg)
}

// Cancel marks the run as cancelled and broadcasts cancellation information
func (pt *ProgressTracker) Cancel(reason string) {
	pt.mutex.Lock()
	pt.Status = StatusCancelled
	pt.step = "Benchmark cancelled"
	msg := NewCancellationMessage(CancellationMessage{
		RunID:     pt.RunID,
		Status:    StatusCancelled,
		Message:   "Benchmark cancelled",
		Cancelled: pt.now(),
		Reason:    reason,
	})
	pt.mutex.Unlock()

	pt.send(msg)
}
