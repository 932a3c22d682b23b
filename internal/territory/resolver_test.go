package territory

import (
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var target = Target{IBGECode: "3121605", Name: "Diamantina"}

func frame(t *testing.T, records [][]string) dataframe.DataFrame {
	t.Helper()
	df := dataframe.LoadRecords(records, dataframe.DefaultType(series.String), dataframe.DetectTypes(false))
	if df.Error() != nil {
		t.Fatalf("fixture frame failed: %v", df.Error())
	}
	return df
}

func TestResolveByCode(t *testing.T) {
	df := frame(t, [][]string{
		{"codigo_municipio", "municipio", "valor"},
		{"3121605", "Diamantina", "45780"},
		{"3106200", "Belo Horizonte", "2315560"},
	})

	res := Resolve(df, target, []string{"codigo_municipio"}, []string{"municipio"}, "")
	if res.Kind != MatchByCode {
		t.Fatalf("expected code match, got %s", res.Kind)
	}
	if res.Count != 1 {
		t.Fatalf("expected 1 row, got %d", res.Count)
	}
	if got := res.Rows.Col("valor").Records()[0]; got != "45780" {
		t.Errorf("expected valor 45780, got %q", got)
	}
}

func TestResolveByCodeAcceptsSixDigitGeocode(t *testing.T) {
	df := frame(t, [][]string{
		{"cod_mun", "valor"},
		{"312160", "10"},
		{"310620", "20"},
	})

	res := Resolve(df, target, []string{"cod_mun"}, nil, "")
	if res.Kind != MatchByCode || res.Count != 1 {
		t.Fatalf("expected one code match, got kind=%s count=%d", res.Kind, res.Count)
	}
}

func TestResolveFallsBackToName(t *testing.T) {
	df := frame(t, [][]string{
		{"municipio", "valor"},
		{"DIAMANTINA", "1"},
		{"Gouveia", "2"},
	})

	res := Resolve(df, target, []string{"codigo_municipio"}, []string{"municipio"}, "")
	if res.Kind != MatchByName || res.Count != 1 {
		t.Fatalf("expected one name match, got kind=%s count=%d", res.Kind, res.Count)
	}
}

func TestResolveByFileName(t *testing.T) {
	df := frame(t, [][]string{
		{"estacao", "precipitacao"},
		{"A537", "1,2"},
	})

	res := Resolve(df, target, []string{"codigo_municipio"}, []string{"municipio"}, "INMET_SE_MG_A537_DIAMANTINA_2024.csv")
	if res.Kind != MatchByFileName {
		t.Fatalf("expected file-name match, got %s", res.Kind)
	}
	if res.Count != 1 {
		t.Fatalf("expected whole file kept, got %d rows", res.Count)
	}
}

func TestResolveNoMatch(t *testing.T) {
	df := frame(t, [][]string{
		{"codigo_municipio", "valor"},
		{"3106200", "2315560"},
	})

	res := Resolve(df, target, []string{"codigo_municipio"}, []string{"municipio"}, "")
	if res.Kind != MatchNone {
		t.Fatalf("expected no match, got %s", res.Kind)
	}
}

func TestFilterReferenceYearKeepsMatchingRows(t *testing.T) {
	df := frame(t, [][]string{
		{"ano", "valor"},
		{"2024", "10"},
		{"2023", "20"},
	})
	res := Resolution{Rows: df, Kind: MatchByCode, Count: 2}

	filtered := FilterReferenceYear(res, []string{"ano"}, "2024")
	if filtered.Count != 1 {
		t.Fatalf("expected 1 row for 2024, got %d", filtered.Count)
	}
}

func TestFilterReferenceYearSignalsEmptyPeriod(t *testing.T) {
	df := frame(t, [][]string{
		{"ano", "valor"},
		{"2020", "10"},
	})
	res := Resolution{Rows: df, Kind: MatchByCode, Count: 1}

	filtered := FilterReferenceYear(res, []string{"ano"}, "2024")
	if filtered.Kind != MatchEmptyByYear {
		t.Fatalf("expected year-filtered-out, got %s", filtered.Kind)
	}
}

func TestFilterReferenceYearSkipsWhenColumnAbsent(t *testing.T) {
	df := frame(t, [][]string{
		{"valor"},
		{"10"},
	})
	res := Resolution{Rows: df, Kind: MatchByCode, Count: 1}

	filtered := FilterReferenceYear(res, []string{"ano"}, "2024")
	if filtered.Kind != MatchByCode || filtered.Count != 1 {
		t.Fatalf("expected passthrough, got kind=%s count=%d", filtered.Kind, filtered.Count)
	}
}

func TestFilterReferenceYearRewritesOutliers(t *testing.T) {
	df := frame(t, [][]string{
		{"ano", "valor"},
		{"2024", "10"},
		{"9999", "20"},
		{"2023", "30"},
	})
	res := Resolution{Rows: df, Kind: MatchByCode, Count: 3}

	filtered, outliers := FilterReferenceYearWithOutliers(res, []string{"ano"}, "2024", 2026, true)
	if outliers != 1 {
		t.Fatalf("expected 1 outlier, got %d", outliers)
	}
	if filtered.Count != 2 {
		t.Fatalf("expected matching row plus rewritten outlier, got %d", filtered.Count)
	}
}

func TestFilterReferenceYearDropsOutliers(t *testing.T) {
	df := frame(t, [][]string{
		{"ano", "valor"},
		{"2024", "10"},
		{"1800", "20"},
	})
	res := Resolution{Rows: df, Kind: MatchByCode, Count: 2}

	filtered, outliers := FilterReferenceYearWithOutliers(res, []string{"ano"}, "2024", 2026, false)
	if outliers != 1 {
		t.Fatalf("expected 1 outlier, got %d", outliers)
	}
	if filtered.Count != 1 {
		t.Fatalf("expected only the 2024 row, got %d", filtered.Count)
	}
}
