package connector

import (
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

func frame(t *testing.T, records [][]string) dataframe.DataFrame {
	t.Helper()
	df := dataframe.LoadRecords(records, dataframe.DefaultType(series.String), dataframe.DetectTypes(false))
	if df.Error() != nil {
		t.Fatalf("fixture frame failed: %v", df.Error())
	}
	return df
}

func TestEvaluateMetricFirstCandidateWins(t *testing.T) {
	df := frame(t, [][]string{
		{"populacao", "valor"},
		{"45780", "999"},
	})
	spec := MetricSpec{Code: "SIDRA_POP_TOTAL", Candidates: []string{"populacao", "valor"}, Aggregator: AggFirst}

	mv, ok, warn := EvaluateMetric(df, spec)
	if !ok {
		t.Fatalf("expected a value, got warning %q", warn)
	}
	if mv.Value != 45780 {
		t.Errorf("expected 45780 from the first candidate column, got %v", mv.Value)
	}
}

func TestEvaluateMetricFallsBackAcrossCandidates(t *testing.T) {
	df := frame(t, [][]string{
		{"codigo", "valor"},
		{"3121605", "45780"},
	})
	spec := MetricSpec{Code: "SIDRA_POP_TOTAL", Candidates: []string{"populacao", "valor"}, Aggregator: AggFirst}

	mv, ok, _ := EvaluateMetric(df, spec)
	if !ok || mv.Value != 45780 {
		t.Fatalf("expected fallback to valor, got ok=%v value=%v", ok, mv.Value)
	}
}

func TestEvaluateMetricSumWithLocaleNumbers(t *testing.T) {
	df := frame(t, [][]string{
		{"potencia_kw"},
		{"1.234,5"},
		{"765,5"},
		{"-"},
	})
	spec := MetricSpec{Code: "ANEEL_GD_POWER_KW", Candidates: []string{"potencia_kw"}, Aggregator: AggSum}

	mv, ok, _ := EvaluateMetric(df, spec)
	if !ok {
		t.Fatal("expected a value")
	}
	if mv.Value != 2000 {
		t.Errorf("expected 2000, got %v", mv.Value)
	}
	if mv.Rows != 2 {
		t.Errorf("placeholder rows must not count, got %d", mv.Rows)
	}
}

func TestEvaluateMetricRowFilters(t *testing.T) {
	df := frame(t, [][]string{
		{"tecnologia", "acessos"},
		{"Fibra", "100"},
		{"Cabo", "50"},
		{"FIBRA", "25"},
	})
	spec := MetricSpec{
		Code:       "ANATEL_FIBER_ACCESSES",
		Candidates: []string{"acessos"},
		Aggregator: AggSum,
		RowFilters: map[string][]string{"tecnologia": {"fibra"}},
	}

	mv, ok, _ := EvaluateMetric(df, spec)
	if !ok || mv.Value != 125 {
		t.Fatalf("expected filtered sum 125, got ok=%v value=%v", ok, mv.Value)
	}
}

func TestEvaluateMetricCountIsZeroSafe(t *testing.T) {
	df := frame(t, [][]string{
		{"quantidade"},
		{"-"},
	})
	spec := MetricSpec{Code: "ANEEL_GD_UNITS", Candidates: []string{"quantidade"}, Aggregator: AggCount}

	mv, ok, _ := EvaluateMetric(df, spec)
	if !ok {
		t.Fatal("count metrics always yield a value")
	}
	if mv.Value != 0 {
		t.Errorf("expected count 0, got %v", mv.Value)
	}
}

func TestEvaluateMetricMissingColumnWarns(t *testing.T) {
	df := frame(t, [][]string{
		{"outra_coluna"},
		{"1"},
	})
	spec := MetricSpec{Code: "SNIS_WATER_COVERAGE", Candidates: []string{"in055"}, Aggregator: AggFirst}

	_, ok, warn := EvaluateMetric(df, spec)
	if ok {
		t.Fatal("expected no value")
	}
	if warn == "" {
		t.Fatal("expected a warning naming the missing column")
	}
}

func TestEvaluateMetricMaxMin(t *testing.T) {
	df := frame(t, [][]string{
		{"temp"},
		{"31,2"},
		{"12,5"},
		{"28,0"},
	})

	mv, _, _ := EvaluateMetric(df, MetricSpec{Code: "T_MAX", Candidates: []string{"temp"}, Aggregator: AggMax})
	if mv.Value != 31.2 {
		t.Errorf("expected max 31.2, got %v", mv.Value)
	}
	mv, _, _ = EvaluateMetric(df, MetricSpec{Code: "T_MIN", Candidates: []string{"temp"}, Aggregator: AggMin})
	if mv.Value != 12.5 {
		t.Errorf("expected min 12.5, got %v", mv.Value)
	}
}

func TestDefinitionValidate(t *testing.T) {
	valid := Definition{
		JobName:     "sidra_indicators_fetch",
		Source:      "sidra",
		DatasetName: "population",
		MetricSpecs: []MetricSpec{{Code: "X", Candidates: []string{"valor"}, Aggregator: AggFirst}},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid definition rejected: %v", err)
	}

	missing := valid
	missing.MetricSpecs = nil
	if err := missing.Validate(); err == nil {
		t.Error("expected an error for a definition without metric specs")
	}

	badAgg := valid
	badAgg.MetricSpecs = []MetricSpec{{Code: "X", Candidates: []string{"valor"}, Aggregator: "median"}}
	if err := badAgg.Validate(); err == nil {
		t.Error("expected an error for an unknown aggregator")
	}

	social := valid
	social.FactDatasetName = "social_protection"
	if err := social.Validate(); err == nil {
		t.Error("expected an error when fact_dataset_name has no table")
	}
}

func TestParseReferenceYear(t *testing.T) {
	year, err := ParseReferenceYear("2025")
	if err != nil || year != "2025" {
		t.Errorf("ParseReferenceYear(2025) = (%s, %v)", year, err)
	}
	if _, err := ParseReferenceYear("xx"); err == nil {
		t.Error("expected an error for a short period")
	}
	year, err = ParseReferenceYear("2024-10")
	if err != nil || year != "2024" {
		t.Errorf("ParseReferenceYear(2024-10) = (%s, %v)", year, err)
	}
}
