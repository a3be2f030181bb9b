package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/metrics"
	"llmlatencybench/internal/results"
	"llmlatencybench/internal/store"
	"llmlatencybench/internal/utils"
)

const (
	// DateLayout is the DDMonYYYY form accepted by MetricsByDate, e.g. 05Jan2025
	DateLayout = "02Jan2006"
	// Latest selects the most recent run instead of a calendar day
	Latest = "latest"

	dayLayout = "2006-01-02"
)

// InputError is a caller mistake. The HTTP layer answers it with 200 and
// {error: Message}.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

var (
	errInvalidTimeRange = &InputError{Message: "Invalid timeRange. Use 'week', 'month', or 'three-month'."}
	errInvalidDate      = &InputError{Message: "Invalid date format. Use 'DDMonYYYY' (e.g. '12Dec2024') or 'latest'."}
	errInvalidStreaming = &InputError{Message: "Invalid streaming value. Use 'true' or 'false'."}
	errInvalidMetric    = &InputError{Message: "Invalid metricType."}
)

var timeRanges = map[string]int{
	"week":        7,
	"month":       30,
	"three-month": 90,
}

// ModelMetrics maps provider -> model -> series
type ModelMetrics map[string]map[string]results.Series

// DateResult answers MetricsByDate
type DateResult struct {
	Date       string       `json:"date"`
	MetricType string       `json:"metricType"`
	RunID      string       `json:"run_id,omitempty"`
	Metrics    ModelMetrics `json:"metrics"`
}

// PeriodPoint is one provider's mean for one day
type PeriodPoint struct {
	Date             string  `json:"date"`
	AggregatedMetric float64 `json:"aggregated_metric"`
}

// PeriodResult answers MetricsForPeriod
type PeriodResult struct {
	MetricType        string                   `json:"metricType"`
	TimeRange         string                   `json:"timeRange"`
	AggregatedMetrics map[string][]PeriodPoint `json:"aggregated_metrics"`
	DateArray         []string                 `json:"date_array"`
}

// RunResult answers MetricsByRun with every stored kind per model
type RunResult struct {
	RunID   string                                          `json:"run_id"`
	Metrics map[string]map[string]map[string]results.Series `json:"metrics"`
}

// Service is the read side over a RecordStore
type Service struct {
	store store.RecordStore
	now   func() time.Time
	log   *logger.Logger
}

type Option func(*Service)

// WithNow fixes the clock used for period windows
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(rs store.RecordStore, opts ...Option) *Service {
	s := &Service{store: rs, now: time.Now, log: logger.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ParseStreaming turns an optional query value into a filter; empty means any
func ParseStreaming(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errInvalidStreaming
	}
	return &b, nil
}

// LatestRunID returns the run id of the newest record, "" when the store is empty
func (s *Service) LatestRunID(ctx context.Context, streaming *bool) (string, error) {
	records, err := s.store.Scan(ctx, store.Filter{Streaming: streaming})
	if err != nil {
		return "", fmt.Errorf("scan records: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}
	// records come back ordered by timestamp then time-ordered id, so of two
	// runs started in the same second the one exported last wins
	return records[len(records)-1].RunID, nil
}

// MetricsByRun returns every stored kind for every provider/model of a run
func (s *Service) MetricsByRun(ctx context.Context, runID string) (*RunResult, error) {
	records, err := s.store.Scan(ctx, store.Filter{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("scan run %s: %w", runID, err)
	}

	out := &RunResult{RunID: runID, Metrics: map[string]map[string]map[string]results.Series{}}
	for _, r := range records {
		payload, ok := s.decode(r)
		if !ok {
			continue
		}
		if out.Metrics[r.ProviderName] == nil {
			out.Metrics[r.ProviderName] = map[string]map[string]results.Series{}
		}
		out.Metrics[r.ProviderName][r.ModelName] = payload
	}
	return out, nil
}

// MetricsByDate returns one metric's series for the latest run or for a calendar day.
// Within a day the most recent record per provider/model wins.
func (s *Service) MetricsByDate(ctx context.Context, metricType, date string, streaming *bool) (*DateResult, error) {
	if !metrics.IsKind(metricType) {
		return nil, errInvalidMetric
	}

	res := &DateResult{Date: date, MetricType: metricType, Metrics: ModelMetrics{}}

	var filter store.Filter
	if date == Latest {
		runID, err := s.LatestRunID(ctx, streaming)
		if err != nil {
			return nil, err
		}
		if runID == "" {
			return res, nil
		}
		res.RunID = runID
		filter = store.Filter{RunID: runID, Streaming: streaming}
	} else {
		day, err := time.ParseInLocation(DateLayout, date, time.Local)
		if err != nil {
			return nil, errInvalidDate
		}
		filter = store.Filter{Streaming: streaming, Since: day, Until: day.AddDate(0, 0, 1)}
	}

	records, err := s.store.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	// ascending timestamps: later records overwrite earlier ones
	for _, r := range records {
		payload, ok := s.decode(r)
		if !ok {
			continue
		}
		series, ok := payload[metricType]
		if !ok {
			continue
		}
		if res.Metrics[r.ProviderName] == nil {
			res.Metrics[r.ProviderName] = map[string]results.Series{}
		}
		res.Metrics[r.ProviderName][r.ModelName] = series
	}

	return res, nil
}

// MetricsForPeriod averages one metric per provider per day over a trailing window
func (s *Service) MetricsForPeriod(ctx context.Context, metricType, timeRange string, streaming *bool) (*PeriodResult, error) {
	days, ok := timeRanges[timeRange]
	if !ok {
		return nil, errInvalidTimeRange
	}
	if !metrics.IsKind(metricType) {
		return nil, errInvalidMetric
	}

	now := s.now()
	records, err := s.store.Scan(ctx, store.Filter{Streaming: streaming, Since: now.AddDate(0, 0, -days), Until: now.Add(time.Second)})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	// provider -> day -> per-record means
	grouped := map[string]map[string][]float64{}
	dates := map[string]struct{}{}

	for _, r := range records {
		payload, ok := s.decode(r)
		if !ok {
			continue
		}
		series, ok := payload[metricType]
		if !ok {
			continue
		}
		values, err := parseLatencies(series.Latencies)
		if err != nil || len(values) == 0 {
			s.log.WarnWithContext(&logger.LogContext{RunID: r.RunID, Provider: r.ProviderName, Model: r.ModelName, Operation: "period"}, "skipping record %s: unusable latencies", r.ID)
			continue
		}
		ts, err := r.Time()
		if err != nil {
			continue
		}

		day := ts.Format(dayLayout)
		if grouped[r.ProviderName] == nil {
			grouped[r.ProviderName] = map[string][]float64{}
		}
		grouped[r.ProviderName][day] = append(grouped[r.ProviderName][day], utils.Mean(values))
		dates[day] = struct{}{}
	}

	res := &PeriodResult{
		MetricType:        metricType,
		TimeRange:         timeRange,
		AggregatedMetrics: map[string][]PeriodPoint{},
		DateArray:         make([]string, 0, len(dates)),
	}
	for provider, byDay := range grouped {
		points := make([]PeriodPoint, 0, len(byDay))
		for day, means := range byDay {
			points = append(points, PeriodPoint{Date: day, AggregatedMetric: utils.Mean(means)})
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
		res.AggregatedMetrics[provider] = points
	}
	for day := range dates {
		res.DateArray = append(res.DateArray, day)
	}
	sort.Strings(res.DateArray)

	return res, nil
}

func (s *Service) decode(r store.Record) (map[string]results.Series, bool) {
	var payload map[string]results.Series
	if err := json.Unmarshal([]byte(r.Metrics), &payload); err != nil {
		s.log.WarnWithContext(&logger.LogContext{RunID: r.RunID, Provider: r.ProviderName, Model: r.ModelName, Operation: "decode"}, "record %s has malformed metrics: %v", r.ID, err)
		return nil, false
	}
	return payload, true
}

func parseLatencies(raw []string) ([]float64, error) {
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
