// Package rank derives the priority ranking: each indicator is standardized
// across territories and the composite score is the mean z-score, so a
// territory that is consistently extreme floats to the top regardless of the
// indicators' units.
package rank

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// Entry is one ranked territory.
type Entry struct {
	TerritoryID string             `json:"territory_id"`
	Score       float64            `json:"score"`
	Indicators  int                `json:"indicators"`
	Components  map[string]float64 `json:"components"`
}

// ComputePriority ranks territories by composite z-score over the latest
// indicator values. Indicators present on fewer than two territories, or with
// no spread, carry no signal and are skipped.
func ComputePriority(facts []store.IndicatorFact) []Entry {
	byIndicator := map[string][]store.IndicatorFact{}
	for _, f := range facts {
		key := f.Source + "/" + f.IndicatorCode
		byIndicator[key] = append(byIndicator[key], f)
	}

	type accumulator struct {
		sum        float64
		count      int
		components map[string]float64
	}
	scores := map[string]*accumulator{}

	for key, group := range byIndicator {
		if len(group) < 2 {
			continue
		}
		values := make([]float64, len(group))
		for i, f := range group {
			values[i] = f.Value
		}
		mean := stat.Mean(values, nil)
		std := stat.StdDev(values, nil)
		if std == 0 {
			continue
		}

		for i, f := range group {
			z := (values[i] - mean) / std
			acc, ok := scores[f.TerritoryID]
			if !ok {
				acc = &accumulator{components: map[string]float64{}}
				scores[f.TerritoryID] = acc
			}
			acc.sum += z
			acc.count++
			acc.components[key] = z
		}
	}

	out := make([]Entry, 0, len(scores))
	for id, acc := range scores {
		out = append(out, Entry{
			TerritoryID: id,
			Score:       acc.sum / float64(acc.count),
			Indicators:  acc.count,
			Components:  acc.components,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TerritoryID < out[j].TerritoryID
	})
	return out
}
