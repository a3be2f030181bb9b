package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"llmlatencybench/internal/utils"
)

// ArtifactWriter writes per-kind CSV files and a markdown summary for a run
type ArtifactWriter struct {
	Dir string
}

// RunDir returns <dir>/<streaming|end_to_end>/<sorted lowercase providers>
func (w *ArtifactWriter) RunDir(streaming bool, results []ProviderResult) string {
	mode := "end_to_end"
	if streaming {
		mode = "streaming"
	}

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, strings.ToLower(r.Provider.Name()))
	}
	sort.Strings(names)

	return filepath.Join(w.Dir, mode, strings.Join(names, "_"))
}

// Write creates one CSV per exported kind that has data plus summary.md,
// returning the written paths
func (w *ArtifactWriter) Write(run RunInfo, results []ProviderResult) ([]string, error) {
	dir := w.RunDir(run.Streaming, results)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory %q: %w", dir, err)
	}

	stamp := run.Start.Format("060102_1504")
	var paths []string

	for _, kind := range ExportedKinds(run.Streaming) {
		var rows [][]string
		for _, res := range results {
			for _, alias := range res.Store.Models(kind) {
				model, ok := res.Provider.ResolveModelID(alias)
				if !ok {
					model = alias
				}
				series := BuildSeries(res.Store.Values(kind, alias))
				for i := range series.Latencies {
					rows = append(rows, []string{res.Provider.Name(), model, series.Latencies[i], series.CDF[i]})
				}
			}
		}
		if len(rows) == 0 {
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", kind, stamp))
		if err := writeCSV(path, rows); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}

	summaryPath := filepath.Join(dir, fmt.Sprintf("summary_%s.md", stamp))
	if err := os.WriteFile(summaryPath, []byte(Markdown(run, results)), 0o644); err != nil {
		return paths, fmt.Errorf("write summary %q: %w", summaryPath, err)
	}
	paths = append(paths, summaryPath)

	return paths, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"provider", "model", "latency_ms", "cdf"}); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}

// Markdown renders a per provider/model summary table
func Markdown(run RunInfo, results []ProviderResult) string {
	var b strings.Builder

	mode := "end-to-end"
	if run.Streaming {
		mode = "streaming"
	}
	fmt.Fprintf(&b, "# Benchmark run %s\n\n", run.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", run.Start.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Mode: %s\n\n", mode)

	b.WriteString("| Provider | Model | Trials | Mean latency (s) | TPS | Min TTFT (s) | Max TTFT (s) | Median TBT (ms) | P95 TBT (ms) |\n")
	b.WriteString("|----------|-------|--------|------------------|-----|--------------|--------------|-----------------|--------------|\n")

	for _, res := range results {
		for _, sr := range utils.Summarize(res.Provider.Name(), res.Store) {
			fmt.Fprintf(&b, "| %s | %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
				sr.Provider, sr.Model, sr.Trials, sr.MeanLatency, sr.GenerationSpeed, sr.MinTtft, sr.MaxTtft, sr.MedianTBT, sr.P95TBT)
		}
	}

	return b.String()
}
