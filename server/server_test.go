package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/config"
	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/metrics"
	"llmlatencybench/internal/provider"
	"llmlatencybench/internal/query"
	"llmlatencybench/internal/results"
	"llmlatencybench/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	SetLogger(logger.NewNop())
	os.Exit(m.Run())
}

// fakeProvider answers sync calls with a fixed latency, or blocks until
// release is closed when block is set
type fakeProvider struct {
	name    string
	models  map[string]string
	block   bool
	release chan struct{}
}

func newFakeProvider(name string, block bool) *fakeProvider {
	return &fakeProvider{
		name:    name,
		models:  map[string]string{"common-model": "common-id"},
		block:   block,
		release: make(chan struct{}),
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Aliases() []string {
	out := make([]string, 0, len(f.models))
	for k := range f.models {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeProvider) ResolveModelID(alias string) (string, bool) {
	id, ok := f.models[alias]
	return id, ok
}

func (f *fakeProvider) SyncInfer(ctx context.Context, ms *metrics.Store, req provider.Request) (*provider.SyncResult, error) {
	if f.block {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &provider.Failure{Provider: f.name, Model: req.Model, Op: "sync", Err: ctx.Err()}
		}
	}
	ms.Record(req.Model, metrics.ResponseTimes, 0.75)
	return &provider.SyncResult{Text: "ok", Elapsed: 0.75}, nil
}

func (f *fakeProvider) StreamInfer(ctx context.Context, ms *metrics.Store, req provider.Request) (*provider.StreamResult, error) {
	return nil, &provider.Failure{Provider: f.name, Model: req.Model, Op: "stream", Err: errors.New("not supported")}
}

type testEnv struct {
	router *gin.Engine
	store  store.RecordStore
	runs   *RunManager
}

func newTestEnv(t *testing.T, rs store.RecordStore, fp *fakeProvider) *testEnv {
	t.Helper()
	if rs == nil {
		rs = store.NewMemoryStore()
	}
	sink := results.NewSink(rs)

	factory := func(cfg *benchmark.Config, obs benchmark.Observer) *benchmark.Orchestrator {
		providers := func(ctx context.Context, name string) (provider.Provider, error) {
			if fp != nil && name == fp.name {
				return fp, nil
			}
			return nil, fmt.Errorf("%w for provider %s", provider.ErrMissingCredentials, name)
		}
		return benchmark.New(cfg, providers,
			benchmark.WithSink(sink),
			benchmark.WithObserver(obs),
			benchmark.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		)
	}

	runs := NewRunManager(factory, nil)
	h := NewHandlers(query.NewService(rs), runs, NewCatalogCache(&config.Config{GroqKey: "gsk"}, time.Minute), "memory", time.Second)

	router := gin.New()
	SetupRoutes(router, RouteOptions{
		Handlers:   h,
		Runs:       runs,
		CORS:       DefaultCORSConfig(),
		Prometheus: prometheus.NewRegistry(),
	})

	return &testEnv{router: router, store: rs, runs: runs}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func waitForRun(t *testing.T, runs *RunManager, runID string) RunView {
	t.Helper()
	select {
	case <-runs.Done(runID):
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", runID)
	}
	view, ok := runs.Get(runID)
	if !ok {
		t.Fatalf("run %s not found", runID)
	}
	return view
}

func TestMetricsByDateLatestRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	ms := metrics.NewStore()
	ms.Record("common-model", metrics.TimeToFirstToken, 0.5, 0.25)
	ms.Record("common-model", metrics.ResponseTimes, 0.25, 0.5)
	azure := provider.NewAdapter(provider.Azure, map[string]string{"common-model": "gpt-4o"}, nil)

	run := results.RunInfo{
		RunID:     "run-round-trip",
		Start:     time.Now(),
		Models:    []string{"common-model"},
		Prompt:    "Tell me a story.",
		Streaming: true,
	}
	if _, err := results.NewSink(env.store).Export(context.Background(), run, []results.ProviderResult{{Provider: azure, Store: ms}}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	w := env.do(http.MethodGet, "/metrics/date?metricType=timetofirsttoken&date=latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var res query.DateResult
	decodeJSON(t, w, &res)

	if res.RunID != "run-round-trip" {
		t.Errorf("Expected run_id 'run-round-trip', got '%s'", res.RunID)
	}
	series, ok := res.Metrics[provider.Azure]["gpt-4o"]
	if !ok {
		t.Fatalf("Expected metrics for Azure/gpt-4o, got %v", res.Metrics)
	}
	if strings.Join(series.Latencies, ",") != "250,500" {
		t.Errorf("Unexpected latencies %v", series.Latencies)
	}

	w = env.do(http.MethodGet, "/latest-run-id?streaming=true", "")
	var latest map[string]string
	decodeJSON(t, w, &latest)
	if latest["run_id"] != "run-round-trip" {
		t.Errorf("Expected latest run id, got %v", latest)
	}

	w = env.do(http.MethodGet, "/metrics?run_id=run-round-trip", "")
	var byRun query.RunResult
	decodeJSON(t, w, &byRun)
	if _, ok := byRun.Metrics[provider.Azure]["gpt-4o"]["response_times"]; !ok {
		t.Errorf("Expected response_times in run metrics, got %v", byRun.Metrics)
	}
}

func TestQueryInputErrorsAnswer200(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		target string
		want   string
	}{
		{"/metrics/period?metricType=response_times&timeRange=year", "Invalid timeRange"},
		{"/metrics/date?metricType=response_times&date=2025-01-05", "Invalid date format"},
		{"/metrics/date?metricType=response_times&streaming=maybe", "Invalid streaming value"},
		{"/metrics", "Missing run_id"},
	}

	for _, tt := range tests {
		w := env.do(http.MethodGet, tt.target, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.target, w.Code)
			continue
		}
		var body QueryErrorResponse
		decodeJSON(t, w, &body)
		if !strings.Contains(body.Error, tt.want) {
			t.Errorf("%s: expected error containing %q, got %q", tt.target, tt.want, body.Error)
		}
	}
}

type failingStore struct {
	store.MemoryStore
}

func (f *failingStore) Scan(ctx context.Context, filter store.Filter) ([]store.Record, error) {
	return nil, errors.New("connection refused")
}

func TestQueryStoreFailureAnswers500(t *testing.T) {
	env := newTestEnv(t, &failingStore{}, nil)

	w := env.do(http.MethodGet, "/metrics/period?metricType=response_times&timeRange=week", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}

	var body ErrorResponse
	decodeJSON(t, w, &body)
	if body.Code != http.StatusInternalServerError {
		t.Errorf("Expected code 500 in body, got %d", body.Code)
	}
}

func TestStartRunCompletesAndExports(t *testing.T) {
	env := newTestEnv(t, nil, newFakeProvider(provider.Groq, false))

	w := env.do(http.MethodPost, "/api/runs", `{"providers":["Groq"],"models":["common-model"],"num_requests":2}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var accepted RunAccepted
	decodeJSON(t, w, &accepted)
	if accepted.RunID == "" || accepted.StreamURL != "/api/runs/"+accepted.RunID+"/stream" {
		t.Fatalf("Unexpected accepted response %+v", accepted)
	}

	view := waitForRun(t, env.runs, accepted.RunID)
	if view.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", view.Status, view.Error)
	}
	if view.Report == nil || view.Report.RecordsWritten != 1 {
		t.Fatalf("Expected one record written, got %+v", view.Report)
	}
	if view.Progress.Completed != 2 || view.Progress.Total != 2 {
		t.Errorf("Expected 2/2 trials, got %d/%d", view.Progress.Completed, view.Progress.Total)
	}

	records, err := env.store.Scan(context.Background(), store.Filter{RunID: accepted.RunID})
	if err != nil || len(records) != 1 {
		t.Fatalf("Expected 1 stored record, got %d (%v)", len(records), err)
	}
	if records[0].ModelName != "common-id" || records[0].ModelKey != "common" {
		t.Errorf("Unexpected record %+v", records[0])
	}

	w = env.do(http.MethodGet, "/api/runs/"+accepted.RunID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = env.do(http.MethodGet, "/api/runs", "")
	var list RunsResponse
	decodeJSON(t, w, &list)
	if list.Count != 1 {
		t.Errorf("Expected 1 run listed, got %d", list.Count)
	}
}

func TestStartRunRejectsSecondActiveRun(t *testing.T) {
	fp := newFakeProvider(provider.Groq, true)
	env := newTestEnv(t, nil, fp)
	body := `{"providers":["Groq"],"models":["common-model"]}`

	w := env.do(http.MethodPost, "/api/runs", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var first RunAccepted
	decodeJSON(t, w, &first)

	w = env.do(http.MethodPost, "/api/runs", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for second run, got %d", w.Code)
	}

	// cancel carries no body
	w = env.do(http.MethodPost, "/api/runs/"+first.RunID+"/cancel", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 on cancel, got %d: %s", w.Code, w.Body.String())
	}

	view := waitForRun(t, env.runs, first.RunID)
	if view.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", view.Status)
	}
	if view.Report == nil || view.Report.State != benchmark.StateRunning {
		t.Errorf("Expected report state RUNNING, got %+v", view.Report)
	}
	if env.runs.Active() != "" {
		t.Errorf("Expected no active run, got %s", env.runs.Active())
	}

	records, _ := env.store.Scan(context.Background(), store.Filter{})
	if len(records) != 0 {
		t.Errorf("Expected cancelled run not to export, got %d records", len(records))
	}

	w = env.do(http.MethodPost, "/api/runs/"+first.RunID+"/cancel", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 cancelling a finished run, got %d", w.Code)
	}
}

func TestStartRunInvalidConfiguration(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []string{
		`{"providers":["Nope"],"models":["common-model"]}`,
		`{"providers":["Groq"],"models":["common-model"],"max_output":1}`,
		`{"providers":["Groq"]}`,
		`not json at all: [`,
	}

	for _, body := range tests {
		w := env.do(http.MethodPost, "/api/runs", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestStartRunMissingCredentialsFails(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(http.MethodPost, "/api/runs", `{"providers":["OpenAI"],"models":["common-model"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	var accepted RunAccepted
	decodeJSON(t, w, &accepted)

	view := waitForRun(t, env.runs, accepted.RunID)
	if view.Status != StatusFailed {
		t.Fatalf("Expected failed, got %s", view.Status)
	}
	if !strings.Contains(view.Error, "missing credentials") {
		t.Errorf("Expected credentials error, got %q", view.Error)
	}
}

func TestRunNotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for _, target := range []string{"/api/runs/nope", "/api/runs/nope/stream"} {
		if w := env.do(http.MethodGet, target, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, w.Code)
		}
	}
	if w := env.do(http.MethodPost, "/api/runs/nope/cancel", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on cancel, got %d", w.Code)
	}
}

func TestStreamFinishedRunReplaysFinalMessage(t *testing.T) {
	env := newTestEnv(t, nil, newFakeProvider(provider.Groq, false))

	w := env.do(http.MethodPost, "/api/runs", `{"providers":["Groq"],"models":["common-model"]}`)
	var accepted RunAccepted
	decodeJSON(t, w, &accepted)
	waitForRun(t, env.runs, accepted.RunID)

	w = env.do(http.MethodGet, "/api/runs/"+accepted.RunID+"/stream", "")
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected event stream, got %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: status\n") {
		t.Errorf("Expected initial status event, got %q", body)
	}
	if !strings.Contains(body, "event: complete\n") || !strings.Contains(body, `"records_written":1`) {
		t.Errorf("Expected completion event with report, got %q", body)
	}
}

func TestHealthProvidersAndPrometheus(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(http.MethodGet, "/api/health", "")
	var health HealthResponse
	decodeJSON(t, w, &health)
	if health.Status != "ok" || health.Store != "memory" {
		t.Errorf("Unexpected health %+v", health)
	}

	w = env.do(http.MethodGet, "/api/providers", "")
	var providers ProvidersResponse
	decodeJSON(t, w, &providers)
	if providers.Count != len(provider.Names()) {
		t.Errorf("Expected %d providers, got %d", len(provider.Names()), providers.Count)
	}
	for _, p := range providers.Providers {
		if p.HasCredentials != (p.Name == provider.Groq) {
			t.Errorf("Unexpected credential state for %s: %v", p.Name, p.HasCredentials)
		}
	}

	if w = env.do(http.MethodGet, "/api/prometheus", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from prometheus endpoint, got %d", w.Code)
	}

	if w = env.do(http.MethodGet, "/api/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRequestValidationRejectsNonJSON(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader("providers: [Groq]"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	cfg := NewCORSConfig(" https://a.example.com , https://b.example.com ", false)
	if len(cfg.AllowOrigins) != 2 || cfg.AllowOrigins[1] != "https://b.example.com" {
		t.Fatalf("Unexpected origins %v", cfg.AllowOrigins)
	}

	router := gin.New()
	router.Use(CORSMiddleware(cfg))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://b.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://b.example.com" {
		t.Errorf("Expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no allowed origin, got %q", got)
	}

	if all := NewCORSConfig("", true); all.AllowOrigins[0] != "*" {
		t.Errorf("Expected wildcard default, got %v", all.AllowOrigins)
	}
}

func TestRequestIDAndPanicRecovery(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware(), RecoveryMiddleware(), ErrorHandlingMiddleware())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })
	router.GET("/busy", func(c *gin.Context) { c.Error(fmt.Errorf("%w: run-1", ErrRunActive)) })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("Expected request id echoed, got %q", got)
	}
	var body ErrorResponse
	decodeJSON(t, w, &body)
	if !strings.Contains(body.Message, "req-42") {
		t.Errorf("Expected request id in message, got %q", body.Message)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/busy", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for an active run error, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated request id")
	}
}
