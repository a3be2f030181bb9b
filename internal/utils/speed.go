package utils

import (
	"math"

	"llmlatencybench/internal/metrics"
)

// SpeedResult summarises one provider/model series of trials
type SpeedResult struct {
	Provider        string  `json:"provider" yaml:"provider"`
	Model           string  `json:"model" yaml:"model"`
	Trials          int     `json:"trials" yaml:"trials"`
	GenerationSpeed float64 `json:"generation_speed" yaml:"generation-speed"`
	MeanLatency     float64 `json:"mean_latency" yaml:"mean-latency"`
	MaxTtft         float64 `json:"max_ttft" yaml:"max-ttft"`
	MinTtft         float64 `json:"min_ttft" yaml:"min-ttft"`
	MedianTBT       float64 `json:"median_tbt_ms" yaml:"median-tbt-ms"`
	P95TBT          float64 `json:"p95_tbt_ms" yaml:"p95-tbt-ms"`
}

// Summarize reduces a provider's metrics store to one SpeedResult per model.
// Times are in seconds except the between-token figures, which are in milliseconds.
func Summarize(provider string, store *metrics.Store) []SpeedResult {
	var results []SpeedResult

	for _, model := range store.AllModels() {
		result := SpeedResult{
			Provider: provider,
			Model:    model,
			Trials:   store.Len(metrics.ResponseTimes, model),
		}

		result.MeanLatency = roundToTwoDecimals(Mean(store.Values(metrics.ResponseTimes, model)))
		result.GenerationSpeed = roundToTwoDecimals(Mean(store.Values(metrics.TokensPerSecond, model)))

		ttfts := store.Values(metrics.TimeToFirstToken, model)
		if len(ttfts) > 0 {
			result.MaxTtft = 0.0
			result.MinTtft = math.Inf(1)
			for _, ttft := range ttfts {
				if ttft > result.MaxTtft {
					result.MaxTtft = ttft
				}
				if ttft < result.MinTtft {
					result.MinTtft = ttft
				}
			}
			result.MaxTtft = roundToTwoDecimals(result.MaxTtft)
			result.MinTtft = roundToTwoDecimals(result.MinTtft)
		}

		// per-trial medians and p95s are averaged, the same reduction the dashboard applies
		result.MedianTBT = roundToTwoDecimals(Mean(store.Values(metrics.TBTMedian, model)) * 1000)
		result.P95TBT = roundToTwoDecimals(Mean(store.Values(metrics.TBTP95, model)) * 1000)

		results = append(results, result)
	}

	return results
}
