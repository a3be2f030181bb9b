package provider

import (
	"context"
	"fmt"

	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/metrics"
	"llmlatencybench/internal/recorder"
)

// DefaultSystemPrompt pushes models toward long answers so streams carry many units
const DefaultSystemPrompt = "Please provide a detailed response of MORE THAN 10000 words"

// Request describes one inference call. Model is an alias, not a provider model id.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
	MaxOutput    int
	Verbose      bool

	// OnUnits observes units as they arrive on a stream
	OnUnits func(units int, text string)
}

// SyncResult is the outcome of a non-streaming call. Elapsed is in seconds.
type SyncResult struct {
	Text    string
	Elapsed float64
}

// StreamResult is the outcome of a streaming call
type StreamResult struct {
	Trial   recorder.Trial
	ModelID string
}

// Provider is the capability contract every hosted inference API satisfies
type Provider interface {
	Name() string
	Aliases() []string
	// ResolveModelID maps an alias to the provider's model id, false when unknown
	ResolveModelID(alias string) (string, bool)
	SyncInfer(ctx context.Context, store *metrics.Store, req Request) (*SyncResult, error)
	StreamInfer(ctx context.Context, store *metrics.Store, req Request) (*StreamResult, error)
}

// Transport talks to one provider's wire protocol
type Transport interface {
	Complete(ctx context.Context, modelID string, req Request) (string, error)
	Stream(ctx context.Context, modelID string, req Request) (recorder.EventSource, error)
}

// Failure is returned when a call fails at the transport or decode level
type Failure struct {
	Provider string
	Model    string
	Op       string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s %s: %v", f.Provider, f.Model, f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Adapter implements Provider over a Transport. Timing, metric recording and
// failure wrapping all happen here.
type Adapter struct {
	name      string
	models    map[string]string
	transport Transport
	clock     recorder.Clock
	log       *logger.Logger
}

// Option configures an Adapter
type Option func(*Adapter)

// WithClock overrides the clock used for timing
func WithClock(c recorder.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithLogger sets the logger failures are reported to
func WithLogger(l *logger.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAdapter creates an adapter for the named provider with its alias map
func NewAdapter(name string, models map[string]string, t Transport, opts ...Option) *Adapter {
	a := &Adapter{
		name:      name,
		models:    models,
		transport: t,
		clock:     recorder.SystemClock{},
		log:       logger.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

var _ Provider = (*Adapter)(nil)

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Aliases() []string { return sortedKeys(a.models) }

func (a *Adapter) ResolveModelID(alias string) (string, bool) {
	id, ok := a.models[alias]
	return id, ok
}

func (a *Adapter) mustResolve(alias string) string {
	id, ok := a.models[alias]
	if !ok {
		panic(fmt.Sprintf("provider %s: inference on unknown model alias %q", a.name, alias))
	}
	return id
}

func (a *Adapter) prepare(req Request) Request {
	if req.SystemPrompt == "" {
		req.SystemPrompt = DefaultSystemPrompt
	}
	return req
}

func (a *Adapter) fail(model, op string, err error) error {
	a.log.ErrorWithContext(&logger.LogContext{Provider: a.name, Model: model, Operation: op}, "inference failed: %v", err)
	return &Failure{Provider: a.name, Model: model, Op: op, Err: err}
}

// SyncInfer performs one blocking call and records its elapsed time
func (a *Adapter) SyncInfer(ctx context.Context, store *metrics.Store, req Request) (*SyncResult, error) {
	modelID := a.mustResolve(req.Model)
	req = a.prepare(req)

	var text string
	elapsed, err := recorder.Timed(ctx, a.clock, func(ctx context.Context) error {
		var err error
		text, err = a.transport.Complete(ctx, modelID, req)
		return err
	})
	if err != nil {
		return nil, a.fail(req.Model, "sync", err)
	}

	store.Record(req.Model, metrics.ResponseTimes, elapsed)

	if req.Verbose {
		a.log.DebugWithContext(&logger.LogContext{Provider: a.name, Model: req.Model}, "response: %s", text)
	}

	return &SyncResult{Text: text, Elapsed: elapsed}, nil
}

// StreamInfer performs one streaming call. Metrics are recorded only when the
// whole stream was consumed without a transport failure.
func (a *Adapter) StreamInfer(ctx context.Context, store *metrics.Store, req Request) (*StreamResult, error) {
	modelID := a.mustResolve(req.Model)
	req = a.prepare(req)

	rec := &recorder.Recorder{Clock: a.clock, OnUnits: req.OnUnits}
	trial, err := rec.Record(ctx, func(ctx context.Context) (recorder.EventSource, error) {
		return a.transport.Stream(ctx, modelID, req)
	})
	if err != nil {
		return nil, a.fail(req.Model, "stream", err)
	}

	store.Record(req.Model, metrics.ResponseTimes, trial.TotalTime)
	if trial.HasTTFT {
		store.Record(req.Model, metrics.TimeToFirstToken, trial.TTFT)
	}
	store.Record(req.Model, metrics.TotalTokens, float64(trial.TotalUnits))
	if tps, ok := trial.Throughput(); ok {
		store.Record(req.Model, metrics.TokensPerSecond, tps)
	}
	store.Record(req.Model, metrics.TimeBetweenTokens, trial.Latencies...)
	store.Record(req.Model, metrics.TBTMedian, trial.Median())
	store.Record(req.Model, metrics.TBTP95, trial.P95())

	if req.Verbose {
		a.log.DebugWithContext(&logger.LogContext{Provider: a.name, Model: req.Model}, "streamed %d units: %s", trial.TotalUnits, trial.Text)
	}

	return &StreamResult{Trial: trial, ModelID: modelID}, nil
}
