package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/logger"
)

var (
	// ErrRunActive is returned when a run is started while another is in progress
	ErrRunActive = errors.New("a benchmark run is already in progress")
	// ErrRunNotFound is returned for unknown run ids
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished is returned when cancelling a run that already ended
	ErrRunFinished = errors.New("run is not running")
)

const (
	defaultRunHistory = 50
	listenerBuffer    = 32
	finalSendTimeout  = time.Second
)

// RunnerFactory builds the orchestrator for one run, wired to obs
type RunnerFactory func(cfg *benchmark.Config, obs benchmark.Observer) *benchmark.Orchestrator

// Run is one benchmark run owned by the manager
type Run struct {
	ID          string
	Status      string
	Config      *benchmark.Config
	Report      *benchmark.Report
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time

	tracker *ProgressTracker
	cancel  context.CancelFunc
	done    chan struct{}
}

// RunManager runs benchmarks in the background, one at a time, and fans their
// progress out to SSE listeners and the websocket hub
type RunManager struct {
	runs      map[string]*Run
	order     []string
	listeners map[string][]chan *Message
	active    string
	newRunner RunnerFactory
	hub       *Hub
	history   int
	mutex     sync.RWMutex
}

// NewRunManager creates a run manager. hub may be nil.
func NewRunManager(factory RunnerFactory, hub *Hub) *RunManager {
	return &RunManager{
		runs:      make(map[string]*Run),
		listeners: make(map[string][]chan *Message),
		newRunner: factory,
		hub:       hub,
		history:   defaultRunHistory,
	}
}

// Start launches cfg in the background and returns its initial view
func (rm *RunManager) Start(cfg *benchmark.Config) (RunView, error) {
	rm.mutex.Lock()
	if rm.active != "" {
		active := rm.active
		rm.mutex.Unlock()
		return RunView{}, fmt.Errorf("%w: %s", ErrRunActive, active)
	}

	orch := rm.newRunner(cfg, benchmark.ObserverFunc(rm.onEvent))
	runID := orch.RunID()
	if _, exists := rm.runs[runID]; exists {
		rm.mutex.Unlock()
		return RunView{}, &benchmark.ConfigError{Field: "run_id", Message: fmt.Sprintf("run %s already exists", runID)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        runID,
		Status:    StatusRunning,
		Config:    cfg,
		CreatedAt: time.Now(),
		tracker:   NewProgressTracker(runID, rm.publish),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	rm.runs[runID] = run
	rm.order = append(rm.order, runID)
	rm.active = runID
	rm.prune()
	view := rm.view(run)
	rm.mutex.Unlock()

	AppLogger.InfoWithContext(&logger.LogContext{RunID: runID, Operation: "start"}, "benchmark run started for %v", cfg.Providers)

	go rm.execute(ctx, run, orch)
	return view, nil
}

func (rm *RunManager) execute(ctx context.Context, run *Run, orch *benchmark.Orchestrator) {
	defer close(run.done)
	defer run.cancel()

	report, err := orch.Run(ctx)

	rm.mutex.Lock()
	now := time.Now()
	run.Report = report
	run.CompletedAt = &now
	if rm.active == run.ID {
		rm.active = ""
	}
	switch {
	case err == nil:
		run.Status = StatusCompleted
	case errors.Is(err, context.Canceled):
		run.Status = StatusCancelled
	default:
		run.Status = StatusFailed
		run.Error = err.Error()
	}
	status := run.Status
	rm.mutex.Unlock()

	logCtx := &logger.LogContext{RunID: run.ID, Operation: "finish"}
	switch status {
	case StatusCompleted:
		AppLogger.InfoWithContext(logCtx, "benchmark run completed, %d records written", report.RecordsWritten)
		run.tracker.Complete(report)
	case StatusCancelled:
		AppLogger.WarnWithContext(logCtx, "benchmark run cancelled")
		run.tracker.Cancel("cancelled by request")
	default:
		details := "run"
		if benchmark.IsConfigError(err) {
			details = "configuration"
		}
		AppLogger.ErrorWithContext(logCtx, "benchmark run failed: %v", err)
		run.tracker.Fail(err.Error(), details)
	}
}

// prune drops the oldest finished runs beyond the history limit. Caller holds the lock.
func (rm *RunManager) prune() {
	for len(rm.order) > rm.history {
		removed := false
		for i, id := range rm.order {
			if id == rm.active {
				continue
			}
			delete(rm.runs, id)
			delete(rm.listeners, id)
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			removed = true
			break
		}
		if !removed {
			return
		}
	}
}

func (rm *RunManager) onEvent(e benchmark.Event) {
	rm.mutex.RLock()
	run := rm.runs[e.RunID]
	rm.mutex.RUnlock()
	if run == nil {
		return
	}

	if e.Type != benchmark.EventUnits {
		AppLogger.DebugWithContext(&logger.LogContext{RunID: e.RunID, Provider: e.Provider, Model: e.Model, Operation: string(e.Type)}, "run event %s", e.State)
	}
	run.tracker.HandleEvent(e)
}

// publish delivers m to listeners of its run and to the hub
func (rm *RunManager) publish(m *Message) {
	rm.mutex.RLock()
	listeners := append([]chan *Message(nil), rm.listeners[m.RunID]...)
	rm.mutex.RUnlock()

	for _, ch := range listeners {
		if m.Final() {
			select {
			case ch <- m:
			case <-time.After(finalSendTimeout):
				AppLogger.WarnWithContext(&logger.LogContext{RunID: m.RunID}, "listener did not accept final message")
			}
			continue
		}
		select {
		case ch <- m:
		default:
			// slow listener, progress is resent on the next event
		}
	}

	if rm.hub != nil {
		rm.hub.Publish(m)
	}
}

// Subscribe registers a listener for runID. The returned view is consistent
// with the registration: if it is still running, the final message will be
// delivered on the channel.
func (rm *RunManager) Subscribe(runID string) (RunView, <-chan *Message, func(), error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	run, ok := rm.runs[runID]
	if !ok {
		return RunView{}, nil, nil, ErrRunNotFound
	}

	ch := make(chan *Message, listenerBuffer)
	rm.listeners[runID] = append(rm.listeners[runID], ch)

	unsubscribe := func() {
		rm.mutex.Lock()
		defer rm.mutex.Unlock()
		listeners := rm.listeners[runID]
		for i, l := range listeners {
			if l == ch {
				rm.listeners[runID] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
		if len(rm.listeners[runID]) == 0 {
			delete(rm.listeners, runID)
		}
	}

	return rm.view(run), ch, unsubscribe, nil
}

// Cancel stops a running run
func (rm *RunManager) Cancel(runID string) error {
	rm.mutex.RLock()
	run, ok := rm.runs[runID]
	var status string
	if ok {
		status = run.Status
	}
	rm.mutex.RUnlock()

	if !ok {
		return ErrRunNotFound
	}
	if status != StatusRunning {
		return ErrRunFinished
	}

	AppLogger.InfoWithContext(&logger.LogContext{RunID: runID, Operation: "cancel"}, "cancelling benchmark run")
	run.cancel()
	return nil
}

// Get returns the view of one run
func (rm *RunManager) Get(runID string) (RunView, bool) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	run, ok := rm.runs[runID]
	if !ok {
		return RunView{}, false
	}
	return rm.view(run), true
}

// List returns all known runs, newest first
func (rm *RunManager) List() []RunView {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	views := make([]RunView, 0, len(rm.runs))
	for _, run := range rm.runs {
		views = append(views, rm.view(run))
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// Active returns the id of the running run, if any
func (rm *RunManager) Active() string {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.active
}

// Done is closed once runID has finished
func (rm *RunManager) Done(runID string) <-chan struct{} {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	if run, ok := rm.runs[runID]; ok {
		return run.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// CancelAll cancels every running run, used on shutdown
func (rm *RunManager) CancelAll() {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	for _, run := range rm.runs {
		if run.Status == StatusRunning {
			run.cancel()
		}
	}
}

// view snapshots run. Caller holds the lock.
func (rm *RunManager) view(run *Run) RunView {
	v := RunView{
		RunID:       run.ID,
		Status:      run.Status,
		Providers:   run.Config.Providers,
		Models:      run.Config.Models,
		Streaming:   run.Config.Streaming,
		Report:      run.Report,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
	v.Progress = run.tracker.GetProgress()
	v.State = v.Progress.State
	v.Progress.Status = run.Status
	return v
}
