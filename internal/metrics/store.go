package metrics

import (
	"fmt"
	"sort"
)

// Kind names one series of measurements
type Kind string

const (
	ResponseTimes     Kind = "response_times"
	TimeToFirstToken  Kind = "timetofirsttoken"
	TotalTokens       Kind = "totaltokens"
	TokensPerSecond   Kind = "tps"
	TimeBetweenTokens Kind = "timebetweentokens"
	TBTMedian         Kind = "timebetweentokens_median"
	TBTP95            Kind = "timebetweentokens_p95"
)

// Kinds is the closed set of known kinds
var Kinds = []Kind{
	ResponseTimes,
	TimeToFirstToken,
	TotalTokens,
	TokensPerSecond,
	TimeBetweenTokens,
	TBTMedian,
	TBTP95,
}

// IsKind reports whether name is a known kind
func IsKind(name string) bool {
	for _, k := range Kinds {
		if string(k) == name {
			return true
		}
	}
	return false
}

// Store accumulates measurements per kind and model alias for one provider
// during one run. It is not safe for concurrent use.
type Store struct {
	series map[Kind]map[string][]float64
}

// NewStore creates an empty store
func NewStore() *Store {
	s := &Store{series: make(map[Kind]map[string][]float64, len(Kinds))}
	for _, k := range Kinds {
		s.series[k] = make(map[string][]float64)
	}
	return s
}

// Record appends values for model under kind. TimeBetweenTokens is extended
// with every value; all other kinds take exactly one value. Unknown kinds and
// wrong value counts panic.
func (s *Store) Record(model string, kind Kind, values ...float64) {
	byModel, ok := s.series[kind]
	if !ok {
		panic(fmt.Sprintf("metrics: unknown kind %q", kind))
	}

	if kind != TimeBetweenTokens && len(values) != 1 {
		panic(fmt.Sprintf("metrics: kind %q takes exactly one value, got %d", kind, len(values)))
	}

	byModel[model] = append(byModel[model], values...)
}

// Values returns a copy of the series for kind and model
func (s *Store) Values(kind Kind, model string) []float64 {
	values := s.series[kind][model]
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

// Len returns the number of values stored for kind and model
func (s *Store) Len(kind Kind, model string) int {
	return len(s.series[kind][model])
}

// Models returns the sorted model aliases with data under kind
func (s *Store) Models(kind Kind) []string {
	models := make([]string, 0, len(s.series[kind]))
	for m, v := range s.series[kind] {
		if len(v) > 0 {
			models = append(models, m)
		}
	}
	sort.Strings(models)
	return models
}

// AllModels returns the sorted model aliases with data under any kind
func (s *Store) AllModels() []string {
	seen := map[string]struct{}{}
	for _, byModel := range s.series {
		for m, v := range byModel {
			if len(v) > 0 {
				seen[m] = struct{}{}
			}
		}
	}
	models := make([]string, 0, len(seen))
	for m := range seen {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Empty reports whether nothing has been recorded
func (s *Store) Empty() bool {
	return len(s.AllModels()) == 0
}
