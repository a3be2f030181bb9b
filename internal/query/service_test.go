package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"llmlatencybench/internal/metrics"
	"llmlatencybench/internal/provider"
	"llmlatencybench/internal/results"
	"llmlatencybench/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ttftA  = `{"timetofirsttoken":{"latencies":["100","300"],"cdf":["0.5","1"]},"response_times":{"latencies":["1000"],"cdf":["1"]}}`
	ttftB  = `{"timetofirsttoken":{"latencies":["500"],"cdf":["1"]}}`
	rtOnly = `{"response_times":{"latencies":["2000","4000"],"cdf":["0.5","1"]}}`
)

func seededStore(t *testing.T) store.RecordStore {
	t.Helper()
	rs := store.NewMemoryStore()
	records := []store.Record{
		{ID: "1", RunID: "run-a", Timestamp: "2025-01-04 09:00:00", ProviderName: "Groq", ModelName: "llama-3.1-70b-versatile", Metrics: ttftA, Streaming: true},
		{ID: "2", RunID: "run-a", Timestamp: "2025-01-04 09:00:00", ProviderName: "Azure", ModelName: "Llama-3.3-70B-Instruct", Metrics: ttftB, Streaming: true},
		{ID: "3", RunID: "run-b", Timestamp: "2025-01-04 18:00:00", ProviderName: "Groq", ModelName: "llama-3.1-70b-versatile", Metrics: ttftB, Streaming: true},
		{ID: "4", RunID: "run-c", Timestamp: "2025-01-05 08:00:00", ProviderName: "Groq", ModelName: "llama-3.1-70b-versatile", Metrics: rtOnly, Streaming: false},
		{ID: "5", RunID: "run-d", Timestamp: "2025-01-05 12:00:00", ProviderName: "Groq", ModelName: "llama-3.1-70b-versatile", Metrics: ttftA, Streaming: true},
	}
	for _, r := range records {
		require.NoError(t, rs.Put(context.Background(), r))
	}
	return rs
}

func fixedNow() time.Time { return time.Date(2025, 1, 6, 10, 0, 0, 0, time.Local) }

func TestLatestRunID(t *testing.T) {
	svc := NewService(seededStore(t))

	id, err := svc.LatestRunID(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "run-d", id)

	id, err = svc.LatestRunID(context.Background(), store.Bool(false))
	require.NoError(t, err)
	assert.Equal(t, "run-c", id)

	id, err = NewService(store.NewMemoryStore()).LatestRunID(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestLatestRunIDSameSecondFollowsExportOrder(t *testing.T) {
	rs := store.NewMemoryStore()
	sink := results.NewSink(rs)
	svc := NewService(rs)
	groq := provider.NewAdapter(provider.Groq, map[string]string{"common-model": "llama-3.1-70b-versatile"}, nil)
	start := time.Date(2025, 1, 5, 12, 0, 0, 0, time.Local)

	for _, runID := range []string{"run-z", "run-a", "run-m", "run-b"} {
		ms := metrics.NewStore()
		ms.Record("common-model", metrics.ResponseTimes, 1.0)
		run := results.RunInfo{RunID: runID, Start: start, Models: []string{"common-model"}}
		_, err := sink.Export(context.Background(), run, []results.ProviderResult{{Provider: groq, Store: ms}})
		require.NoError(t, err)

		id, err := svc.LatestRunID(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, runID, id)
	}
}

func TestMetricsByRun(t *testing.T) {
	svc := NewService(seededStore(t))

	res, err := svc.MetricsByRun(context.Background(), "run-a")
	require.NoError(t, err)
	assert.Equal(t, "run-a", res.RunID)
	require.Len(t, res.Metrics, 2)
	assert.Len(t, res.Metrics["Groq"]["llama-3.1-70b-versatile"], 2)
	assert.Equal(t, []string{"500"}, res.Metrics["Azure"]["Llama-3.3-70B-Instruct"]["timetofirsttoken"].Latencies)
}

func TestMetricsByDateLatest(t *testing.T) {
	svc := NewService(seededStore(t))

	res, err := svc.MetricsByDate(context.Background(), "timetofirsttoken", Latest, store.Bool(true))
	require.NoError(t, err)
	assert.Equal(t, "run-d", res.RunID)
	assert.Equal(t, []string{"100", "300"}, res.Metrics["Groq"]["llama-3.1-70b-versatile"].Latencies)
	assert.Len(t, res.Metrics, 1)
}

func TestMetricsByDateDayPrefersMostRecent(t *testing.T) {
	svc := NewService(seededStore(t))

	res, err := svc.MetricsByDate(context.Background(), "timetofirsttoken", "04Jan2025", nil)
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	require.Len(t, res.Metrics, 2)
	// run-b at 18:00 replaces run-a at 09:00 for Groq
	assert.Equal(t, []string{"500"}, res.Metrics["Groq"]["llama-3.1-70b-versatile"].Latencies)
}

func TestMetricsByDateSkipsRecordsWithoutMetric(t *testing.T) {
	svc := NewService(seededStore(t))

	res, err := svc.MetricsByDate(context.Background(), "timetofirsttoken", "05Jan2025", store.Bool(false))
	require.NoError(t, err)
	assert.Empty(t, res.Metrics)
}

func TestMetricsByDateInvalidInput(t *testing.T) {
	svc := NewService(seededStore(t))

	_, err := svc.MetricsByDate(context.Background(), "timetofirsttoken", "2025-01-04", nil)
	var inputErr *InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "Invalid date format. Use 'DDMonYYYY' (e.g. '12Dec2024') or 'latest'.", inputErr.Message)

	_, err = svc.MetricsByDate(context.Background(), "bogus", Latest, nil)
	assert.True(t, errors.As(err, &inputErr))
}

func TestMetricsForPeriod(t *testing.T) {
	svc := NewService(seededStore(t), WithNow(fixedNow))

	res, err := svc.MetricsForPeriod(context.Background(), "timetofirsttoken", "week", store.Bool(true))
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-01-04", "2025-01-05"}, res.DateArray)
	// 2025-01-04: run-a mean 200, run-b mean 500 -> 350
	assert.Equal(t, []PeriodPoint{
		{Date: "2025-01-04", AggregatedMetric: 350},
		{Date: "2025-01-05", AggregatedMetric: 200},
	}, res.AggregatedMetrics["Groq"])
	assert.Equal(t, []PeriodPoint{{Date: "2025-01-04", AggregatedMetric: 500}}, res.AggregatedMetrics["Azure"])
}

func TestMetricsForPeriodWindow(t *testing.T) {
	later := func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local) }
	svc := NewService(seededStore(t), WithNow(later))

	res, err := svc.MetricsForPeriod(context.Background(), "response_times", "week", nil)
	require.NoError(t, err)
	assert.Empty(t, res.AggregatedMetrics)
	assert.Empty(t, res.DateArray)

	res, err = svc.MetricsForPeriod(context.Background(), "response_times", "three-month", nil)
	require.NoError(t, err)
	assert.Equal(t, []PeriodPoint{
		{Date: "2025-01-04", AggregatedMetric: 1000},
		{Date: "2025-01-05", AggregatedMetric: 2000},
	}, res.AggregatedMetrics["Groq"])
}

func TestMetricsForPeriodInvalidRange(t *testing.T) {
	svc := NewService(seededStore(t))

	_, err := svc.MetricsForPeriod(context.Background(), "timetofirsttoken", "year", nil)
	var inputErr *InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "Invalid timeRange. Use 'week', 'month', or 'three-month'.", inputErr.Message)
}

func TestParseStreaming(t *testing.T) {
	v, err := ParseStreaming("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseStreaming("true")
	require.NoError(t, err)
	assert.True(t, *v)

	_, err = ParseStreaming("maybe")
	assert.Error(t, err)
}

func TestMalformedRecordIsSkipped(t *testing.T) {
	rs := store.NewMemoryStore()
	require.NoError(t, rs.Put(context.Background(), store.Record{ID: "x", RunID: "r", Timestamp: "2025-01-05 10:00:00", ProviderName: "Groq", ModelName: "m", Metrics: "not json"}))

	res, err := NewService(rs).MetricsByDate(context.Background(), "response_times", Latest, nil)
	require.NoError(t, err)
	assert.Equal(t, "r", res.RunID)
	assert.Empty(t, res.Metrics)
}
