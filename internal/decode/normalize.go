package decode

import (
	"strings"
	"unicode"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldAccents strips diacritics: "São João" -> "Sao Joao".
func FoldAccents(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeKey folds a header or name into lower-snake ASCII, the canonical
// form used for column lookup and fuzzy municipality matching.
func NormalizeKey(s string) string {
	folded := strings.ToLower(FoldAccents(strings.TrimSpace(s)))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// NormalizeColumns rebuilds the dataframe with all column names normalized.
// Duplicate names after folding get a positional suffix so gota keeps them apart.
func NormalizeColumns(df dataframe.DataFrame) dataframe.DataFrame {
	if df.Error() != nil || df.Ncol() == 0 {
		return df
	}

	seen := map[string]int{}
	renamed := make([]string, 0, df.Ncol())
	for _, name := range df.Names() {
		key := NormalizeKey(name)
		if key == "" {
			key = "col"
		}
		if n, ok := seen[key]; ok {
			seen[key] = n + 1
			key = key + "_" + itoa(n+1)
		} else {
			seen[key] = 0
		}
		renamed = append(renamed, key)
	}

	records := df.Records()
	records[0] = renamed
	return dataframe.LoadRecords(records, dataframe.DefaultType(series.String), dataframe.DetectTypes(false))
}

// DigitsOnly keeps the decimal digits of a value, dropping separators and
// stray formatting ("31.216-05" -> "3121605").
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
