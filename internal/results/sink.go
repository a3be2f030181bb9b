package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/metrics"
	"llmlatencybench/internal/provider"
	"llmlatencybench/internal/store"
	"llmlatencybench/internal/telemetry"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Series is one exported metric: ascending latencies in milliseconds and
// their empirical CDF, both as decimal strings
type Series struct {
	Latencies []string `json:"latencies"`
	CDF       []string `json:"cdf"`
}

var (
	streamingKinds = []metrics.Kind{
		metrics.TimeToFirstToken,
		metrics.ResponseTimes,
		metrics.TimeBetweenTokens,
		metrics.TokensPerSecond,
		metrics.TBTP95,
		metrics.TBTMedian,
	}
	syncKinds = []metrics.Kind{metrics.ResponseTimes}
)

// ExportedKinds returns the kinds persisted for a run mode
func ExportedKinds(streaming bool) []metrics.Kind {
	if streaming {
		return streamingKinds
	}
	return syncKinds
}

// BuildSeries sorts values, scales them to milliseconds and attaches cdf[i] = (i+1)/n
func BuildSeries(values []float64) Series {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	s := Series{
		Latencies: make([]string, len(sorted)),
		CDF:       make([]string, len(sorted)),
	}
	for i, v := range sorted {
		s.Latencies[i] = formatFloat(v * 1000)
		s.CDF[i] = formatFloat(float64(i+1) / n)
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ModelKey classifies a run by its first requested model alias
func ModelKey(models []string) string {
	if len(models) > 0 && models[0] == "common-model" {
		return "common"
	}
	return "multi"
}

// ProviderResult pairs a provider with the metrics collected for it in one run
type ProviderResult struct {
	Provider provider.Provider
	Store    *metrics.Store
}

// RunInfo identifies the run being exported
type RunInfo struct {
	RunID     string
	Start     time.Time
	Models    []string
	Prompt    string
	Streaming bool
}

// Sink turns per-provider metrics into persisted records
type Sink struct {
	store        store.RecordStore
	log          *logger.Logger
	metrics      *telemetry.Metrics
	maxRetries   uint64
	initialWait  time.Duration
	writeTimeout time.Duration
	newID        func() string
}

// SinkOption configures a Sink
type SinkOption func(*Sink)

// WithRetry sets the retry budget for transient store errors
func WithRetry(maxRetries uint64, initialWait time.Duration) SinkOption {
	return func(s *Sink) {
		s.maxRetries = maxRetries
		s.initialWait = initialWait
	}
}

// WithWriteTimeout bounds each store write attempt. Zero leaves attempts
// bounded only by the export context.
func WithWriteTimeout(d time.Duration) SinkOption {
	return func(s *Sink) { s.writeTimeout = d }
}

// WithSinkLogger sets the logger
func WithSinkLogger(l *logger.Logger) SinkOption {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSinkMetrics counts written records
func WithSinkMetrics(m *telemetry.Metrics) SinkOption {
	return func(s *Sink) { s.metrics = m }
}

// WithIDGenerator overrides record id generation
func WithIDGenerator(fn func() string) SinkOption {
	return func(s *Sink) { s.newID = fn }
}

func NewSink(rs store.RecordStore, opts ...SinkOption) *Sink {
	s := &Sink{
		store:       rs,
		log:         logger.NewNop(),
		maxRetries:  3,
		initialWait: 500 * time.Millisecond,
		// v7 ids sort in creation order, which breaks same-second timestamp ties
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BuildRecords converts one provider's metrics into records, one per model
// with data. Kinds without values are left out; models with no exported kind
// produce no record.
func (s *Sink) BuildRecords(run RunInfo, res ProviderResult) ([]store.Record, error) {
	var records []store.Record

	for _, alias := range res.Store.AllModels() {
		payload := map[string]Series{}
		for _, kind := range ExportedKinds(run.Streaming) {
			values := res.Store.Values(kind, alias)
			if len(values) == 0 {
				continue
			}
			payload[string(kind)] = BuildSeries(values)
		}
		if len(payload) == 0 {
			continue
		}

		bs, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal metrics for %s/%s: %w", res.Provider.Name(), alias, err)
		}

		modelName, ok := res.Provider.ResolveModelID(alias)
		if !ok {
			modelName = alias
		}

		records = append(records, store.Record{
			ID:           s.newID(),
			RunID:        run.RunID,
			Timestamp:    run.Start.Format(store.TimestampLayout),
			ProviderName: res.Provider.Name(),
			ModelName:    modelName,
			ModelKey:     ModelKey(run.Models),
			Prompt:       run.Prompt,
			Metrics:      string(bs),
			Streaming:    run.Streaming,
		})
	}

	return records, nil
}

// Export persists every provider's records. A failed write is logged and
// the rest are still attempted; the returned error joins all failures.
func (s *Sink) Export(ctx context.Context, run RunInfo, results []ProviderResult) ([]store.Record, error) {
	var (
		written []store.Record
		errs    []error
	)

	for _, res := range results {
		records, err := s.BuildRecords(run, res)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, rec := range records {
			if err := s.put(ctx, rec); err != nil {
				s.log.ErrorWithContext(&logger.LogContext{RunID: run.RunID, Provider: rec.ProviderName, Model: rec.ModelName, Operation: "export"}, "failed to persist record: %v", err)
				errs = append(errs, err)
				continue
			}
			if s.metrics != nil {
				s.metrics.RecordsWritten.Inc()
			}
			written = append(written, rec)
		}
	}

	return written, errors.Join(errs...)
}

func (s *Sink) put(ctx context.Context, rec store.Record) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialWait

	op := func() error {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.writeTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		}
		defer cancel()

		err := s.store.Put(attemptCtx, rec)
		if errors.Is(err, store.ErrDuplicateRecord) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
}
