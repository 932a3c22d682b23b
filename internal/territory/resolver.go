// Package territory scopes decoded tables down to a single municipality using
// IBGE code candidates, accent-folded name matching, and per-municipality file
// heuristics.
package territory

import (
	"strings"

	"github.com/go-gota/gota/dataframe"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
)

// Target identifies the configured municipality.
type Target struct {
	IBGECode string // 7-digit geocode
	Name     string
}

// MatchKind reports which rule accepted the rows.
type MatchKind string

const (
	MatchByCode      MatchKind = "code"
	MatchByName      MatchKind = "name"
	MatchByFileName  MatchKind = "file_name"
	MatchNone        MatchKind = "none"
	MatchEmptyByYear MatchKind = "year_filtered_out"
)

// Resolution carries the municipality-scoped rows and how they were found.
type Resolution struct {
	Rows  dataframe.DataFrame
	Kind  MatchKind
	Count int
}

func (t Target) code6() string {
	if len(t.IBGECode) == 7 {
		return t.IBGECode[:6]
	}
	return t.IBGECode
}

// Resolve applies the scoping rules in order: code columns, then name columns,
// then whole-file acceptance for per-municipality files that carry the name in
// the file name and none of the configured columns.
func Resolve(df dataframe.DataFrame, target Target, codeColumns, nameColumns []string, sourceFileName string) Resolution {
	names := df.Names()

	if rows, ok := matchByCode(df, target, codeColumns); ok {
		return Resolution{Rows: rows, Kind: MatchByCode, Count: rows.Nrow()}
	}

	if rows, ok := matchByName(df, target, nameColumns); ok {
		return Resolution{Rows: rows, Kind: MatchByName, Count: rows.Nrow()}
	}

	if sourceFileName != "" && target.Name != "" &&
		!hasAnyColumn(names, codeColumns) && !hasAnyColumn(names, nameColumns) {
		fileKey := decode.NormalizeKey(sourceFileName)
		if strings.Contains(fileKey, decode.NormalizeKey(target.Name)) {
			return Resolution{Rows: df, Kind: MatchByFileName, Count: df.Nrow()}
		}
	}

	return Resolution{Kind: MatchNone}
}

func matchByCode(df dataframe.DataFrame, target Target, codeColumns []string) (dataframe.DataFrame, bool) {
	candidates := map[string]bool{}
	if c := decode.DigitsOnly(target.IBGECode); c != "" {
		candidates[c] = true
	}
	if c := decode.DigitsOnly(target.code6()); c != "" {
		candidates[c] = true
	}
	if len(candidates) == 0 {
		return dataframe.DataFrame{}, false
	}

	for _, col := range codeColumns {
		if !containsColumn(df.Names(), col) {
			continue
		}
		var keep []int
		records := df.Col(col).Records()
		for i, raw := range records {
			if candidates[decode.DigitsOnly(raw)] {
				keep = append(keep, i)
			}
		}
		if len(keep) > 0 {
			return df.Subset(keep), true
		}
	}
	return dataframe.DataFrame{}, false
}

func matchByName(df dataframe.DataFrame, target Target, nameColumns []string) (dataframe.DataFrame, bool) {
	want := decode.NormalizeKey(target.Name)
	if want == "" {
		return dataframe.DataFrame{}, false
	}

	for _, col := range nameColumns {
		if !containsColumn(df.Names(), col) {
			continue
		}
		var keep []int
		records := df.Col(col).Records()
		for i, raw := range records {
			got := decode.NormalizeKey(raw)
			if got == want || (got != "" && strings.Contains(want, got)) || strings.Contains(got, want) {
				keep = append(keep, i)
			}
		}
		if len(keep) > 0 {
			return df.Subset(keep), true
		}
	}
	return dataframe.DataFrame{}, false
}

// FilterReferenceYear keeps rows whose digits-prefix in any year column matches
// the requested YYYY. When year columns exist but nothing matches, an empty
// resolution signals "source has no data for this period". Absent year columns
// skip the filter entirely.
func FilterReferenceYear(res Resolution, yearColumns []string, year string) Resolution {
	if res.Kind == MatchNone || len(yearColumns) == 0 {
		return res
	}

	df := res.Rows
	present := false
	for _, col := range yearColumns {
		if !containsColumn(df.Names(), col) {
			continue
		}
		present = true
		var keep []int
		records := df.Col(col).Records()
		for i, raw := range records {
			digits := decode.DigitsOnly(raw)
			if len(digits) >= 4 && digits[:4] == year {
				keep = append(keep, i)
			}
		}
		if len(keep) > 0 {
			sub := df.Subset(keep)
			return Resolution{Rows: sub, Kind: res.Kind, Count: sub.Nrow()}
		}
	}

	if present {
		return Resolution{Kind: MatchEmptyByYear}
	}
	return res
}

// FilterReferenceYearWithOutliers behaves like FilterReferenceYear but also
// handles reference years outside [1900, current+1]: rewrite keeps the row as
// if it carried the requested year, drop discards it. The second return counts
// the outlier rows encountered.
func FilterReferenceYearWithOutliers(res Resolution, yearColumns []string, year string, currentYear int, rewrite bool) (Resolution, int) {
	if res.Kind == MatchNone || len(yearColumns) == 0 {
		return res, 0
	}

	df := res.Rows
	present := false
	outliers := 0
	for _, col := range yearColumns {
		if !containsColumn(df.Names(), col) {
			continue
		}
		present = true
		var keep []int
		records := df.Col(col).Records()
		for i, raw := range records {
			digits := decode.DigitsOnly(raw)
			if len(digits) < 4 {
				continue
			}
			rowYear := digits[:4]
			if rowYear == year {
				keep = append(keep, i)
				continue
			}
			if yearOutOfRange(rowYear, currentYear) {
				outliers++
				if rewrite {
					keep = append(keep, i)
				}
			}
		}
		if len(keep) > 0 {
			sub := df.Subset(keep)
			return Resolution{Rows: sub, Kind: res.Kind, Count: sub.Nrow()}, outliers
		}
	}

	if present {
		return Resolution{Kind: MatchEmptyByYear}, outliers
	}
	return res, 0
}

func yearOutOfRange(year string, currentYear int) bool {
	n := 0
	for _, r := range year {
		n = n*10 + int(r-'0')
	}
	return n < 1900 || n > currentYear+1
}

func containsColumn(names []string, col string) bool {
	for _, n := range names {
		if n == col {
			return true
		}
	}
	return false
}

func hasAnyColumn(names []string, cols []string) bool {
	for _, c := range cols {
		if containsColumn(names, c) {
			return true
		}
	}
	return false
}
