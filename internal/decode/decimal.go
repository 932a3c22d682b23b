package decode

import (
	"strconv"
	"strings"
)

// ParseDecimal converts locale-tolerant numeric text to a float.
//
// Reduction rules: currency/unit markers ("R$", "%") and whitespace are
// stripped; when both "," and "." appear, "." is a thousands separator and ","
// the decimal mark; a lone "," is a decimal mark. Placeholder tokens used by
// Brazilian statistical sources ("-", "...", "nan") report absence, not zero.
func ParseDecimal(s string) (float64, bool) {
	clean := strings.TrimSpace(s)
	clean = strings.ReplaceAll(clean, "R$", "")
	clean = strings.ReplaceAll(clean, "%", "")
	clean = strings.ReplaceAll(clean, " ", "")
	clean = strings.ReplaceAll(clean, " ", "")

	switch strings.ToLower(clean) {
	case "", "-", "--", "...", "..", "nan", "nd", "null":
		return 0, false
	}

	hasComma := strings.Contains(clean, ",")
	hasDot := strings.Contains(clean, ".")
	if hasComma && hasDot {
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.ReplaceAll(clean, ",", ".")
	} else if hasComma {
		clean = strings.ReplaceAll(clean, ",", ".")
	}

	val, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
