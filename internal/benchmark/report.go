package benchmark

import (
	"encoding/json"
	"fmt"
	"time"

	"llmlatencybench/internal/results"
	"llmlatencybench/internal/utils"

	"go.yaml.in/yaml/v4"
)

// TrialStats counts outcomes for one provider/model pair
type TrialStats struct {
	Provider  string `json:"provider" yaml:"provider"`
	Model     string `json:"model" yaml:"model"`
	Attempted int    `json:"attempted" yaml:"attempted"`
	Succeeded int    `json:"succeeded" yaml:"succeeded"`
	Failed    int    `json:"failed" yaml:"failed"`
}

// Report summarises a finished or aborted run
type Report struct {
	RunID          string              `json:"run_id" yaml:"run-id"`
	State          State               `json:"state" yaml:"state"`
	Streaming      bool                `json:"streaming" yaml:"streaming"`
	Prompt         string              `json:"-" yaml:"-"`
	Models         []string            `json:"models" yaml:"models"`
	Warnings       []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Trials         []*TrialStats       `json:"trials" yaml:"trials"`
	Summaries      []utils.SpeedResult `json:"results" yaml:"results"`
	RecordsWritten int                 `json:"records_written" yaml:"records-written"`
	Artifacts      []string            `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	ExportErrors   []string            `json:"export_errors,omitempty" yaml:"export-errors,omitempty"`
	StartedAt      time.Time           `json:"started_at" yaml:"started-at"`
	FinishedAt     time.Time           `json:"finished_at" yaml:"finished-at"`
}

func (r *Report) stats(provider, model string) *TrialStats {
	for _, s := range r.Trials {
		if s.Provider == provider && s.Model == model {
			return s
		}
	}
	s := &TrialStats{Provider: provider, Model: model}
	r.Trials = append(r.Trials, s)
	return s
}

// Totals sums attempted, succeeded and failed trials
func (r *Report) Totals() TrialStats {
	var t TrialStats
	for _, s := range r.Trials {
		t.Attempted += s.Attempted
		t.Succeeded += s.Succeeded
		t.Failed += s.Failed
	}
	return t
}

func (r *Report) Json() (string, error) {
	prettyJSON, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}
	return string(prettyJSON), nil
}

func (r *Report) Yaml() (string, error) {
	yamlData, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("error marshalling yaml: %w", err)
	}
	return string(yamlData), nil
}

func summarize(stores []results.ProviderResult) []utils.SpeedResult {
	var out []utils.SpeedResult
	for _, s := range stores {
		out = append(out, utils.Summarize(s.Provider.Name(), s.Store)...)
	}
	return out
}
