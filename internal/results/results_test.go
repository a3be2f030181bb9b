package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"llmlatencybench/internal/metrics"
	"llmlatencybench/internal/provider"
	"llmlatencybench/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSeries(t *testing.T) {
	s := BuildSeries([]float64{1.5, 0.25, 0.5})

	assert.Equal(t, []string{"250", "500", "1500"}, s.Latencies)
	assert.Equal(t, []string{"0.3333333333333333", "0.6666666666666666", "1"}, s.CDF)
}

func TestBuildSeriesEmpty(t *testing.T) {
	s := BuildSeries(nil)
	assert.Empty(t, s.Latencies)
	assert.Empty(t, s.CDF)
}

func TestModelKey(t *testing.T) {
	assert.Equal(t, "common", ModelKey([]string{"common-model", "llama-3.1-70b"}))
	assert.Equal(t, "multi", ModelKey([]string{"llama-3.1-70b", "common-model"}))
	assert.Equal(t, "multi", ModelKey(nil))
}

func TestExportedKinds(t *testing.T) {
	assert.Equal(t, []metrics.Kind{metrics.ResponseTimes}, ExportedKinds(false))
	assert.Len(t, ExportedKinds(true), 6)
	assert.NotContains(t, ExportedKinds(true), metrics.TotalTokens)
}

func testProvider() provider.Provider {
	return provider.NewAdapter("Groq", map[string]string{
		"common-model": "llama-3.1-70b-versatile",
		"llama-3.1-8b": "llama-3.1-8b-instant",
	}, nil)
}

func streamingStore() *metrics.Store {
	ms := metrics.NewStore()
	for _, model := range []string{"common-model", "llama-3.1-8b"} {
		ms.Record(model, metrics.TimeToFirstToken, 0.25)
		ms.Record(model, metrics.ResponseTimes, 1.5)
		ms.Record(model, metrics.TotalTokens, 100)
		ms.Record(model, metrics.TokensPerSecond, 80)
		ms.Record(model, metrics.TimeBetweenTokens, 0.01, 0.02, 0.01)
		ms.Record(model, metrics.TBTMedian, 0.01)
		ms.Record(model, metrics.TBTP95, 0.02)
	}
	return ms
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("rec-%d", n)
	}
}

var runStart = time.Date(2025, 1, 5, 14, 30, 0, 0, time.Local)

func TestExportStreaming(t *testing.T) {
	rs := store.NewMemoryStore()
	sink := NewSink(rs, WithIDGenerator(sequentialIDs()))

	run := RunInfo{RunID: "run-1", Start: runStart, Models: []string{"common-model"}, Prompt: "Tell me a story.", Streaming: true}
	written, err := sink.Export(context.Background(), run, []ProviderResult{{Provider: testProvider(), Store: streamingStore()}})
	require.NoError(t, err)
	require.Len(t, written, 2)

	got, err := rs.Scan(context.Background(), store.Filter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	rec := got[0]
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "2025-01-05 14:30:00", rec.Timestamp)
	assert.Equal(t, "Groq", rec.ProviderName)
	assert.Equal(t, "llama-3.1-70b-versatile", rec.ModelName)
	assert.Equal(t, "common", rec.ModelKey)
	assert.True(t, rec.Streaming)

	var payload map[string]Series
	require.NoError(t, json.Unmarshal([]byte(rec.Metrics), &payload))
	assert.Len(t, payload, 6)
	assert.NotContains(t, payload, string(metrics.TotalTokens))
	assert.Equal(t, []string{"10", "10", "20"}, payload[string(metrics.TimeBetweenTokens)].Latencies)
	assert.Equal(t, []string{"250"}, payload[string(metrics.TimeToFirstToken)].Latencies)
	assert.Equal(t, []string{"1"}, payload[string(metrics.TimeToFirstToken)].CDF)
}

func TestExportSyncOnlyResponseTimes(t *testing.T) {
	rs := store.NewMemoryStore()
	sink := NewSink(rs)

	run := RunInfo{RunID: "run-2", Start: runStart, Models: []string{"llama-3.1-8b"}}
	written, err := sink.Export(context.Background(), run, []ProviderResult{{Provider: testProvider(), Store: streamingStore()}})
	require.NoError(t, err)
	require.Len(t, written, 2)

	var payload map[string]Series
	require.NoError(t, json.Unmarshal([]byte(written[0].Metrics), &payload))
	assert.Equal(t, []string{string(metrics.ResponseTimes)}, keys(payload))
	assert.Equal(t, "multi", written[0].ModelKey)
	assert.False(t, written[0].Streaming)
}

func TestExportSkipsEmptyStores(t *testing.T) {
	sink := NewSink(store.NewMemoryStore())
	written, err := sink.Export(context.Background(), RunInfo{RunID: "r", Start: runStart}, []ProviderResult{{Provider: testProvider(), Store: metrics.NewStore()}})
	require.NoError(t, err)
	assert.Empty(t, written)
}

// flakyStore fails the first n puts with a transient error
type flakyStore struct {
	*store.MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) Put(ctx context.Context, r store.Record) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("throughput exceeded")
	}
	return f.MemoryStore.Put(ctx, r)
}

func TestExportRetriesTransientErrors(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 2}
	sink := NewSink(fs, WithRetry(3, time.Millisecond))

	ms := metrics.NewStore()
	ms.Record("common-model", metrics.ResponseTimes, 1.0)

	written, err := sink.Export(context.Background(), RunInfo{RunID: "r", Start: runStart}, []ProviderResult{{Provider: testProvider(), Store: ms}})
	require.NoError(t, err)
	assert.Len(t, written, 1)
	assert.Equal(t, 3, fs.calls)
}

// stalledStore blocks every put until its context ends
type stalledStore struct {
	*store.MemoryStore
	calls int
}

func (s *stalledStore) Put(ctx context.Context, r store.Record) error {
	s.calls++
	<-ctx.Done()
	return ctx.Err()
}

func TestExportBoundsEachWriteAttempt(t *testing.T) {
	ss := &stalledStore{MemoryStore: store.NewMemoryStore()}
	sink := NewSink(ss, WithRetry(1, time.Millisecond), WithWriteTimeout(10*time.Millisecond))

	ms := metrics.NewStore()
	ms.Record("common-model", metrics.ResponseTimes, 1.0)

	written, err := sink.Export(context.Background(), RunInfo{RunID: "r", Start: runStart}, []ProviderResult{{Provider: testProvider(), Store: ms}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, written)
	assert.Equal(t, 2, ss.calls)
}

func TestExportDoesNotRetryDuplicates(t *testing.T) {
	rs := store.NewMemoryStore()
	sink := NewSink(rs, WithIDGenerator(func() string { return "same" }), WithRetry(3, time.Millisecond))

	ms := metrics.NewStore()
	ms.Record("common-model", metrics.ResponseTimes, 1.0)
	ms.Record("llama-3.1-8b", metrics.ResponseTimes, 2.0)

	written, err := sink.Export(context.Background(), RunInfo{RunID: "r", Start: runStart}, []ProviderResult{{Provider: testProvider(), Store: ms}})
	assert.Len(t, written, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDuplicateRecord))
}

func TestArtifactWriter(t *testing.T) {
	dir := t.TempDir()
	w := &ArtifactWriter{Dir: dir}

	azure := provider.NewAdapter("Azure", map[string]string{"common-model": "Llama-3.3-70B-Instruct"}, nil)
	azureStore := metrics.NewStore()
	azureStore.Record("common-model", metrics.ResponseTimes, 2.0)
	azureStore.Record("common-model", metrics.TimeToFirstToken, 0.5)

	run := RunInfo{RunID: "run-1", Start: runStart, Streaming: true}
	results := []ProviderResult{{Provider: testProvider(), Store: streamingStore()}, {Provider: azure, Store: azureStore}}

	paths, err := w.Write(run, results)
	require.NoError(t, err)

	runDir := filepath.Join(dir, "streaming", "azure_groq")
	assert.Equal(t, runDir, w.RunDir(true, results))
	assert.Len(t, paths, 7)
	assert.Contains(t, paths, filepath.Join(runDir, "timetofirsttoken_250105_1430.csv"))
	assert.Contains(t, paths, filepath.Join(runDir, "summary_250105_1430.md"))

	bs, err := os.ReadFile(filepath.Join(runDir, "timetofirsttoken_250105_1430.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(bs)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "provider,model,latency_ms,cdf", lines[0])
	assert.Equal(t, "Groq,llama-3.1-70b-versatile,250,1", lines[1])
	assert.Equal(t, "Azure,Llama-3.3-70B-Instruct,500,1", lines[3])

	summary, err := os.ReadFile(filepath.Join(runDir, "summary_250105_1430.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "| Groq | common-model | 1 |")
	assert.Contains(t, string(summary), "- Mode: streaming")
}

func TestArtifactWriterEndToEndDir(t *testing.T) {
	w := &ArtifactWriter{Dir: "benchmark_graph"}
	results := []ProviderResult{{Provider: testProvider(), Store: metrics.NewStore()}}
	assert.Equal(t, filepath.Join("benchmark_graph", "end_to_end", "groq"), w.RunDir(false, results))
}

func keys(m map[string]Series) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
