package rank

import (
	"math"
	"testing"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

func fact(territory, source, code string, value float64) store.IndicatorFact {
	return store.IndicatorFact{
		TerritoryID:   territory,
		Source:        source,
		IndicatorCode: code,
		Value:         value,
	}
}

func TestComputePriorityRanksExtremes(t *testing.T) {
	facts := []store.IndicatorFact{
		fact("t1", "cecad", "CECAD_POVERTY_FAMILIES", 900),
		fact("t2", "cecad", "CECAD_POVERTY_FAMILIES", 100),
		fact("t3", "cecad", "CECAD_POVERTY_FAMILIES", 200),
		fact("t1", "snis", "SNIS_SEWAGE_COVERAGE", 95),
		fact("t2", "snis", "SNIS_SEWAGE_COVERAGE", 40),
		fact("t3", "snis", "SNIS_SEWAGE_COVERAGE", 60),
	}

	entries := ComputePriority(facts)
	if len(entries) != 3 {
		t.Fatalf("expected 3 ranked territories, got %d", len(entries))
	}
	if entries[0].TerritoryID != "t1" {
		t.Errorf("expected t1 on top, got %s", entries[0].TerritoryID)
	}
	if entries[0].Indicators != 2 {
		t.Errorf("expected 2 contributing indicators, got %d", entries[0].Indicators)
	}
	if len(entries[0].Components) != 2 {
		t.Errorf("expected 2 component scores, got %d", len(entries[0].Components))
	}
}

func TestComputePrioritySkipsSignallessIndicators(t *testing.T) {
	facts := []store.IndicatorFact{
		// Present on a single territory.
		fact("t1", "sidra", "SIDRA_POP_TOTAL", 45780),
		// No spread across territories.
		fact("t1", "snis", "SNIS_WATER_COVERAGE", 80),
		fact("t2", "snis", "SNIS_WATER_COVERAGE", 80),
	}

	if entries := ComputePriority(facts); len(entries) != 0 {
		t.Fatalf("expected no ranked territories, got %v", entries)
	}
}

func TestComputePriorityComponentsAverageToScore(t *testing.T) {
	facts := []store.IndicatorFact{
		fact("t1", "a", "X", 10),
		fact("t2", "a", "X", 20),
		fact("t1", "b", "Y", 5),
		fact("t2", "b", "Y", 1),
	}

	entries := ComputePriority(facts)
	for _, e := range entries {
		var sum float64
		for _, z := range e.Components {
			sum += z
		}
		if math.Abs(sum/float64(len(e.Components))-e.Score) > 1e-9 {
			t.Errorf("territory %s: component mean %v does not match score %v", e.TerritoryID, sum/float64(len(e.Components)), e.Score)
		}
	}
}

func TestComputePriorityEmptyInput(t *testing.T) {
	if entries := ComputePriority(nil); len(entries) != 0 {
		t.Fatalf("expected no entries for empty input, got %v", entries)
	}
}
