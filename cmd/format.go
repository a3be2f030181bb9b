package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/provider"
)

// formatReport renders the report as json, yaml or, by default, a markdown table
func formatReport(report *benchmark.Report, format string) (string, error) {
	switch format {
	case "json":
		return report.Json()
	case "yaml":
		return report.Yaml()
	case "", "markdown", "md":
		return summaryTable(report), nil
	default:
		return "", fmt.Errorf("invalid format %q, use json or yaml", format)
	}
}

func summaryTable(report *benchmark.Report) string {
	var b strings.Builder

	mode := "end-to-end"
	if report.Streaming {
		mode = "streaming"
	}
	totals := report.Totals()

	fmt.Fprintf(&b, "\nRun %s (%s): %d trials, %d succeeded, %d failed, %d records written\n\n",
		report.RunID, mode, totals.Attempted, totals.Succeeded, totals.Failed, report.RecordsWritten)

	b.WriteString("| Provider | Model | Trials | Mean latency (s) | TPS | Min TTFT (s) | Max TTFT (s) | Median TBT (ms) | P95 TBT (ms) |\n")
	b.WriteString("|----------|-------|--------|------------------|-----|--------------|--------------|-----------------|--------------|\n")
	for _, sr := range report.Summaries {
		fmt.Fprintf(&b, "| %s | %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
			sr.Provider, sr.Model, sr.Trials, sr.MeanLatency, sr.GenerationSpeed, sr.MinTtft, sr.MaxTtft, sr.MedianTBT, sr.P95TBT)
	}

	for _, w := range report.Warnings {
		fmt.Fprintf(&b, "\nwarning: %s", w)
	}
	for _, p := range report.Artifacts {
		fmt.Fprintf(&b, "\nwrote %s", p)
	}
	for _, e := range report.ExportErrors {
		fmt.Fprintf(&b, "\nexport error: %s", e)
	}
	return b.String()
}

// printCatalog lists providers with their aliases, colouring credential state
func printCatalog(w io.Writer, entries []provider.CatalogEntry) {
	ready := color.New(color.FgGreen, color.Bold).SprintFunc()
	missing := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	for _, e := range entries {
		state := missing("missing credentials")
		if e.HasCredentials {
			state = ready("ready")
		}
		fmt.Fprintf(w, "%s [%s]\n", e.Name, state)

		aliases := make([]string, 0, len(e.Models))
		for alias := range e.Models {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			fmt.Fprintf(w, "  %-32s %s\n", alias, dim(e.Models[alias]))
		}
	}
}
