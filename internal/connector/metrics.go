package connector

import (
	"fmt"

	"github.com/go-gota/gota/dataframe"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
)

// MetricValue is one evaluated indicator.
type MetricValue struct {
	Spec  MetricSpec
	Value float64
	Rows  int
}

// EvaluateMetric resolves the first candidate column present in the table,
// applies the row filters, and aggregates the parseable values. The second
// return reports whether the metric yielded a value; the warning names the
// missing column when it did not.
func EvaluateMetric(df dataframe.DataFrame, spec MetricSpec) (MetricValue, bool, string) {
	names := df.Names()

	col := ""
	for _, cand := range spec.Candidates {
		key := decode.NormalizeKey(cand)
		for _, n := range names {
			if n == key {
				col = n
				break
			}
		}
		if col != "" {
			break
		}
	}
	if col == "" {
		return MetricValue{}, false, fmt.Sprintf("metric %s: none of the candidate columns present", spec.Code)
	}

	keep := filterRows(df, spec.RowFilters)

	var values []float64
	records := df.Col(col).Records()
	for _, i := range keep {
		if i >= len(records) {
			continue
		}
		if v, ok := decode.ParseDecimal(records[i]); ok {
			values = append(values, v)
		}
	}

	if spec.Aggregator == AggCount {
		return MetricValue{Spec: spec, Value: float64(len(values)), Rows: len(values)}, true, ""
	}
	if len(values) == 0 {
		return MetricValue{}, false, fmt.Sprintf("metric %s: column %s carries no numeric values", spec.Code, col)
	}

	var out float64
	switch spec.Aggregator {
	case AggSum:
		for _, v := range values {
			out += v
		}
	case AggAvg:
		for _, v := range values {
			out += v
		}
		out /= float64(len(values))
	case AggMax:
		out = values[0]
		for _, v := range values[1:] {
			if v > out {
				out = v
			}
		}
	case AggMin:
		out = values[0]
		for _, v := range values[1:] {
			if v < out {
				out = v
			}
		}
	case AggFirst:
		out = values[0]
	default:
		return MetricValue{}, false, fmt.Sprintf("metric %s: unknown aggregator %q", spec.Code, spec.Aggregator)
	}

	return MetricValue{Spec: spec, Value: out, Rows: len(values)}, true, ""
}

// filterRows returns the indexes passing every row filter. Values compare
// accent-folded so "Feminino" matches "FEMININO".
func filterRows(df dataframe.DataFrame, filters map[string][]string) []int {
	n := df.Nrow()
	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		keep = append(keep, i)
	}
	if len(filters) == 0 {
		return keep
	}

	names := df.Names()
	for col, allowed := range filters {
		key := decode.NormalizeKey(col)
		found := false
		for _, name := range names {
			if name == key {
				found = true
				break
			}
		}
		if !found {
			// A filter on an absent column filters nothing.
			continue
		}

		allowedKeys := make(map[string]bool, len(allowed))
		for _, a := range allowed {
			allowedKeys[decode.NormalizeKey(a)] = true
		}

		records := df.Col(key).Records()
		var next []int
		for _, i := range keep {
			if i < len(records) && allowedKeys[decode.NormalizeKey(records[i])] {
				next = append(next, i)
			}
		}
		keep = next
	}
	return keep
}
