package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"llmlatencybench/internal/config"
	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/metrics"
	"llmlatencybench/internal/provider"
	"llmlatencybench/internal/results"
	"llmlatencybench/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the orchestrator's lifecycle position
type State string

const (
	StateConfiguring State = "CONFIGURING"
	StateRunning     State = "RUNNING"
	StateAggregating State = "AGGREGATING"
	StateDone        State = "DONE"
)

// ProviderFactory builds a provider by registry name
type ProviderFactory func(ctx context.Context, name string) (provider.Provider, error)

// RegistryFactory builds providers from process configuration
func RegistryFactory(cfg *config.Config, log *logger.Logger) ProviderFactory {
	return func(ctx context.Context, name string) (provider.Provider, error) {
		return provider.New(ctx, name, cfg, log)
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Orchestrator drives one benchmark run through its states
type Orchestrator struct {
	cfg       *Config
	factory   ProviderFactory
	sink      *results.Sink
	artifacts *results.ArtifactWriter
	log       *logger.Logger
	metrics   *telemetry.Metrics
	sleep     SleepFunc
	now       func() time.Time
	observer  Observer

	mu    sync.RWMutex
	state State
	runID string
}

type Option func(*Orchestrator)

func WithSink(s *results.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithArtifacts writes CSV and markdown artifacts after export
func WithArtifacts(w *results.ArtifactWriter) Option {
	return func(o *Orchestrator) { o.artifacts = w }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleep replaces the cooldown wait
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func WithNow(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func New(cfg *Config, factory ProviderFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		factory: factory,
		log:     logger.NewNop(),
		sleep:   contextSleep,
		now:     time.Now,
		state:   StateConfiguring,
		runID:   cfg.RunID,
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) RunID() string { return o.runID }

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.emit(Event{Type: EventState, State: s})
}

func (o *Orchestrator) emit(e Event) {
	if o.observer == nil {
		return
	}
	e.RunID = o.runID
	if e.State == "" {
		e.State = o.State()
	}
	o.observer.OnEvent(e)
}

func (o *Orchestrator) mode() string {
	if o.cfg.Streaming {
		return "streaming"
	}
	return "sync"
}

// Run executes the whole run. Configuration errors are returned before any
// network call; failed trials are logged and counted but never abort the run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	started := o.now()
	report := &Report{RunID: o.runID, Streaming: o.cfg.Streaming, StartedAt: started}

	ctx, span := telemetry.Tracer().Start(ctx, "benchmark.run", trace.WithAttributes(
		attribute.String("run.id", o.runID),
		attribute.StringSlice("run.providers", o.cfg.Providers),
		attribute.Bool("run.streaming", o.cfg.Streaming),
	))
	defer span.End()

	fail := func(err error) (*Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		report.State = o.State()
		report.FinishedAt = o.now()
		if o.metrics != nil {
			o.metrics.Runs.WithLabelValues("failed").Inc()
		}
		return report, err
	}

	// CONFIGURING
	o.setState(StateConfiguring)
	if err := o.cfg.Validate(); err != nil {
		return fail(err)
	}
	prompt, err := o.cfg.ResolvePrompt()
	if err != nil {
		return fail(err)
	}
	report.Prompt = prompt

	providers := make([]provider.Provider, 0, len(o.cfg.Providers))
	for _, name := range o.cfg.Providers {
		p, err := o.factory(ctx, name)
		if err != nil {
			return fail(&ConfigError{Field: "providers", Message: fmt.Sprintf("%s: %v", name, err)})
		}
		providers = append(providers, p)
	}

	models, warnings, err := SelectModels(providers, o.cfg.Models)
	if err != nil {
		return fail(err)
	}
	for _, w := range warnings {
		o.log.WarnWithContext(&logger.LogContext{RunID: o.runID, Operation: "configure"}, "%s", w)
		o.emit(Event{Type: EventWarning, Message: w})
	}
	report.Models = models
	report.Warnings = warnings

	// RUNNING
	o.setState(StateRunning)
	total := len(providers) * len(models) * o.cfg.NumRequests
	completed := 0
	stores := make([]results.ProviderResult, 0, len(providers))

runLoop:
	for _, p := range providers {
		ms := metrics.NewStore()
		stores = append(stores, results.ProviderResult{Provider: p, Store: ms})

		for _, model := range models {
			stats := report.stats(p.Name(), model)
			for i := 0; i < o.cfg.NumRequests; i++ {
				if err := ctx.Err(); err != nil {
					break runLoop
				}
				if err := o.cooldown(ctx, p.Name(), model, i); err != nil {
					break runLoop
				}

				stats.Attempted++
				trialErr := o.trial(ctx, p, ms, model, prompt, i)
				completed++
				if trialErr != nil {
					stats.Failed++
				} else {
					stats.Succeeded++
				}
				o.emit(Event{Type: EventTrialDone, Provider: p.Name(), Model: model, Trial: i + 1, Trials: o.cfg.NumRequests, Completed: completed, Total: total, Err: errString(trialErr)})
			}
		}
	}

	if err := ctx.Err(); err != nil {
		o.log.WarnWithContext(&logger.LogContext{RunID: o.runID, Operation: "run"}, "run cancelled after %d of %d trials", completed, total)
		return fail(err)
	}

	// AGGREGATING
	o.setState(StateAggregating)
	run := results.RunInfo{RunID: o.runID, Start: started, Models: o.cfg.Models, Prompt: prompt, Streaming: o.cfg.Streaming}
	report.Summaries = summarize(stores)

	if o.sink != nil {
		written, err := o.sink.Export(ctx, run, stores)
		report.RecordsWritten = len(written)
		if err != nil {
			o.log.ErrorWithContext(&logger.LogContext{RunID: o.runID, Operation: "export"}, "export finished with errors: %v", err)
			report.ExportErrors = append(report.ExportErrors, err.Error())
		}
	}
	if o.artifacts != nil {
		paths, err := o.artifacts.Write(run, stores)
		report.Artifacts = paths
		if err != nil {
			o.log.ErrorWithContext(&logger.LogContext{RunID: o.runID, Operation: "artifacts"}, "failed to write artifacts: %v", err)
			report.ExportErrors = append(report.ExportErrors, err.Error())
		}
	}

	// DONE
	o.setState(StateDone)
	report.State = StateDone
	report.FinishedAt = o.now()
	if o.metrics != nil {
		o.metrics.Runs.WithLabelValues("done").Inc()
	}
	o.log.InfoWithContext(&logger.LogContext{RunID: o.runID, Operation: "run"}, "run finished: %d trials, %d records written", completed, report.RecordsWritten)

	return report, nil
}

// cooldown sleeps before trial i when the provider's policy asks for it
func (o *Orchestrator) cooldown(ctx context.Context, name, model string, i int) error {
	cd, ok := o.cfg.Cooldowns[name]
	if !ok || cd.Every <= 0 || cd.Delay <= 0 || i%cd.Every != 0 {
		return nil
	}

	o.log.InfoWithContext(&logger.LogContext{RunID: o.runID, Provider: name, Model: model, Operation: "cooldown"}, "sleeping %s before request %d", cd.Duration(), i+1)
	o.emit(Event{Type: EventCooldown, Provider: name, Model: model, Trial: i + 1, Trials: o.cfg.NumRequests, Message: cd.Duration().String()})
	return o.sleep(ctx, cd.Duration())
}

func (o *Orchestrator) trial(ctx context.Context, p provider.Provider, ms *metrics.Store, model, prompt string, i int) error {
	ctx, span := telemetry.Tracer().Start(ctx, "benchmark.trial", trace.WithAttributes(
		attribute.String("provider", p.Name()),
		attribute.String("model", model),
		attribute.Int("trial", i+1),
	))
	defer span.End()

	o.emit(Event{Type: EventTrialStart, Provider: p.Name(), Model: model, Trial: i + 1, Trials: o.cfg.NumRequests})

	req := provider.Request{
		Model:        model,
		Prompt:       prompt,
		SystemPrompt: o.cfg.SystemPrompt,
		MaxOutput:    o.cfg.MaxOutput,
		Verbose:      o.cfg.Verbose,
	}

	var (
		err      error
		duration float64
		ttft     float64
		hasTTFT  bool
	)
	if o.cfg.Streaming {
		req.OnUnits = func(units int, text string) {
			o.emit(Event{Type: EventUnits, Provider: p.Name(), Model: model, Trial: i + 1, Trials: o.cfg.NumRequests, Units: units})
		}
		var res *provider.StreamResult
		res, err = p.StreamInfer(ctx, ms, req)
		if err == nil {
			duration, ttft, hasTTFT = res.Trial.TotalTime, res.Trial.TTFT, res.Trial.HasTTFT
		}
	} else {
		var res *provider.SyncResult
		res, err = p.SyncInfer(ctx, ms, req)
		if err == nil {
			duration = res.Elapsed
		}
	}

	o.metrics.ObserveTrial(p.Name(), model, o.mode(), err, duration, ttft, hasTTFT)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// adapters already log the failure with full context
		return err
	}
	span.SetAttributes(attribute.Float64("trial.duration_s", duration))
	return nil
}

// SelectModels returns the requested aliases every provider can serve, with a
// warning for each excluded alias. More than one provider restricts the
// candidates to the intersection of their aliases; an empty intersection or
// no surviving alias is a configuration error.
func SelectModels(providers []provider.Provider, requested []string) ([]string, []string, error) {
	if len(providers) == 0 {
		return nil, nil, &ConfigError{Field: "providers", Message: "at least one provider is required"}
	}

	candidates := map[string]bool{}
	for _, alias := range providers[0].Aliases() {
		candidates[alias] = true
	}
	for _, p := range providers[1:] {
		next := map[string]bool{}
		for _, alias := range p.Aliases() {
			if candidates[alias] {
				next[alias] = true
			}
		}
		candidates = next
	}
	if len(providers) > 1 && len(candidates) == 0 {
		return nil, nil, &ConfigError{Field: "models", Message: "the selected providers share no common model"}
	}

	var (
		selected []string
		warnings []string
		seen     = map[string]bool{}
	)
	for _, alias := range requested {
		if seen[alias] {
			continue
		}
		seen[alias] = true
		if !candidates[alias] {
			if len(providers) > 1 {
				warnings = append(warnings, fmt.Sprintf("model %q is not offered by every selected provider and was skipped (common models: %v)", alias, sortedSet(candidates)))
			} else {
				warnings = append(warnings, fmt.Sprintf("model %q is not offered by %s and was skipped", alias, providers[0].Name()))
			}
			continue
		}
		selected = append(selected, alias)
	}

	if len(selected) == 0 {
		return nil, warnings, &ConfigError{Field: "models", Message: "none of the requested models can be served by the selected providers"}
	}
	return selected, warnings, nil
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsConfigError reports whether err is a configuration error
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
